package service

import (
	"context"
	"fmt"
	"time"

	"github.com/choraleia/helpdesk/pkg/models"
	arkEmbedding "github.com/cloudwego/eino-ext/components/embedding/ark"
	"github.com/cloudwego/eino-ext/components/embedding/dashscope"
	geminiEmbedding "github.com/cloudwego/eino-ext/components/embedding/gemini"
	ollamaEmbedding "github.com/cloudwego/eino-ext/components/embedding/ollama"
	openaiEmbedding "github.com/cloudwego/eino-ext/components/embedding/openai"
	qianfanEmbedding "github.com/cloudwego/eino-ext/components/embedding/qianfan"
	"github.com/cloudwego/eino/components/embedding"
	"google.golang.org/genai"
)

// CreateEmbedder creates an eino embedder from config.
func (m *ModelService) CreateEmbedder(ctx context.Context, config *models.ModelConfig) (embedding.Embedder, error) {
	if config == nil {
		return nil, fmt.Errorf("embedding config is nil")
	}
	config.Normalize()
	apiKey := apiKeyFor(config)

	switch config.Provider {
	case "openai", "custom":
		model := config.Model
		if model == "" {
			model = "text-embedding-3-small"
		}
		emb, err := openaiEmbedding.NewEmbedder(ctx, &openaiEmbedding.EmbeddingConfig{
			BaseURL: config.BaseUrl,
			APIKey:  apiKey,
			Model:   model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI embedder: %w", err)
		}
		return emb, nil

	case "ollama":
		baseURL, model := config.BaseUrl, config.Model
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		if model == "" {
			model = "nomic-embed-text"
		}
		emb, err := ollamaEmbedding.NewEmbedder(ctx, &ollamaEmbedding.EmbeddingConfig{
			BaseURL: baseURL,
			Model:   model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama embedder: %w", err)
		}
		return emb, nil

	case "ark":
		timeout := 30 * time.Second
		emb, err := arkEmbedding.NewEmbedder(ctx, &arkEmbedding.EmbeddingConfig{
			BaseURL: config.BaseUrl,
			Region:  config.ExtraString("region"),
			APIKey:  apiKey,
			Model:   config.Model,
			Timeout: &timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Ark embedder: %w", err)
		}
		return emb, nil

	case "qwen":
		emb, err := dashscope.NewEmbedder(ctx, &dashscope.EmbeddingConfig{
			APIKey: apiKey,
			Model:  config.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create DashScope embedder: %w", err)
		}
		return emb, nil

	case "google":
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini client: %w", err)
		}
		emb, err := geminiEmbedding.NewEmbedder(ctx, &geminiEmbedding.EmbeddingConfig{
			Client: client,
			Model:  config.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini embedder: %w", err)
		}
		return emb, nil

	case "qianfan":
		qianfanConfig := qianfanEmbedding.GetQianfanSingletonConfig()
		qianfanConfig.BaseURL = config.BaseUrl
		qianfanConfig.BearerToken = apiKey
		emb, err := qianfanEmbedding.NewEmbedder(ctx, &qianfanEmbedding.EmbeddingConfig{
			Model: config.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Qianfan embedder: %w", err)
		}
		return emb, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, config.Provider)
	}
}
