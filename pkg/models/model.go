package models

import (
	"strings"

	"github.com/choraleia/helpdesk/pkg/config"
)

const (
	DomainLanguage  = "language"  // Chat completion
	DomainEmbedding = "embedding" // Vector embeddings
)

// ModelConfig describes one model endpoint. Extra stores vendor specific
// additional parameters (e.g. ark "region").
type ModelConfig struct {
	Provider string                 `json:"provider"`
	Domain   string                 `json:"domain"`
	Model    string                 `json:"model"`
	BaseUrl  string                 `json:"base_url"`
	ApiKey   string                 `json:"api_key"`
	Extra    map[string]interface{} `json:"extra"`
}

func (m *ModelConfig) Normalize() {
	m.Provider = strings.ToLower(strings.TrimSpace(m.Provider))
	if m.Domain == "" {
		m.Domain = DomainLanguage
	}
	if m.Extra == nil {
		m.Extra = map[string]interface{}{}
	}
}

// ExtraString returns a string vendor parameter, or "" when absent.
func (m *ModelConfig) ExtraString(key string) string {
	if m.Extra == nil {
		return ""
	}
	v, _ := m.Extra[key].(string)
	return v
}

// ChatModelFromConfig converts the YAML model section.
func ChatModelFromConfig(c config.ModelConfig) *ModelConfig {
	m := &ModelConfig{
		Provider: c.Provider,
		Domain:   DomainLanguage,
		Model:    c.Model,
		BaseUrl:  c.BaseURL,
		ApiKey:   c.APIKey,
		Extra:    c.Extra,
	}
	m.Normalize()
	return m
}

// EmbeddingModelFromConfig converts the YAML embedding section.
func EmbeddingModelFromConfig(c config.EmbeddingConfig) *ModelConfig {
	m := &ModelConfig{
		Provider: c.Provider,
		Domain:   DomainEmbedding,
		Model:    c.Model,
		BaseUrl:  c.BaseURL,
		ApiKey:   c.APIKey,
	}
	m.Normalize()
	return m
}

// SupportedModelProviders supported chat model providers
var SupportedModelProviders = map[string]struct{}{
	"openai":    {},
	"deepseek":  {},
	"anthropic": {},
	"google":    {},
	"ark":       {},
	"ollama":    {},
	"qianfan":   {},
	"qwen":      {},
	"custom":    {},
}

// SupportedEmbeddingProviders supported embedding providers
var SupportedEmbeddingProviders = map[string]struct{}{
	"openai":  {},
	"ollama":  {},
	"ark":     {},
	"qwen":    {},
	"google":  {},
	"qianfan": {},
	"custom":  {},
}
