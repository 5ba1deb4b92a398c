package models

import "sort"

// ProviderPreset describes a model provider the service can drive.
type ProviderPreset struct {
	ID                    string       `json:"id"`
	Name                  string       `json:"name"`
	BaseURL               string       `json:"base_url,omitempty"`
	APIKeyEnv             string       `json:"api_key_env,omitempty"`
	DefaultModel          string       `json:"default_model,omitempty"`
	DefaultEmbeddingModel string       `json:"default_embedding_model,omitempty"`
	Domains               []string     `json:"domains"`
	ExtraFields           []ExtraField `json:"extra_fields,omitempty"`
}

// ExtraField defines additional fields required by a provider
type ExtraField struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	Required    bool   `json:"required"`
	Placeholder string `json:"placeholder,omitempty"`
}

// PresetsConfig holds all provider presets
type PresetsConfig struct {
	Providers []ProviderPreset `json:"providers"`
}

var providerPresets = map[string]ProviderPreset{
	"openai": {
		Name: "OpenAI", BaseURL: "https://api.openai.com/v1", APIKeyEnv: "OPENAI_API_KEY",
		DefaultModel: "gpt-4o-mini", DefaultEmbeddingModel: "text-embedding-3-small",
	},
	"anthropic": {
		Name: "Anthropic", APIKeyEnv: "ANTHROPIC_API_KEY", DefaultModel: "claude-3-5-haiku-latest",
	},
	"deepseek": {
		Name: "DeepSeek", BaseURL: "https://api.deepseek.com", APIKeyEnv: "DEEPSEEK_API_KEY", DefaultModel: "deepseek-chat",
	},
	"google": {
		Name: "Google Gemini", APIKeyEnv: "GEMINI_API_KEY",
		DefaultModel: "gemini-2.0-flash", DefaultEmbeddingModel: "text-embedding-004",
	},
	"qwen": {
		Name: "Qwen (DashScope)", BaseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1", APIKeyEnv: "DASHSCOPE_API_KEY",
		DefaultModel: "qwen-plus", DefaultEmbeddingModel: "text-embedding-v3",
	},
	"ark": {
		Name: "Volcengine Ark", APIKeyEnv: "ARK_API_KEY",
		ExtraFields: []ExtraField{{Key: "region", Label: "Region", Placeholder: "cn-beijing"}},
	},
	"qianfan": {
		Name: "Baidu Qianfan", APIKeyEnv: "QIANFAN_BEARER_TOKEN", DefaultModel: "ernie-4.0-8k",
	},
	"ollama": {
		Name: "Ollama", BaseURL: "http://localhost:11434",
		DefaultModel: "llama3.1", DefaultEmbeddingModel: "nomic-embed-text",
	},
	"custom": {
		Name: "OpenAI compatible",
	},
}

// LoadPresets returns the provider catalog, sorted by id.
func LoadPresets() *PresetsConfig {
	cfg := &PresetsConfig{}
	for id := range SupportedModelProviders {
		p := providerPresets[id]
		p.ID = id
		if p.Name == "" {
			p.Name = id
		}
		p.Domains = []string{DomainLanguage}
		if _, ok := SupportedEmbeddingProviders[id]; ok {
			p.Domains = append(p.Domains, DomainEmbedding)
		}
		cfg.Providers = append(cfg.Providers, p)
	}
	sort.Slice(cfg.Providers, func(i, j int) bool { return cfg.Providers[i].ID < cfg.Providers[j].ID })
	return cfg
}
