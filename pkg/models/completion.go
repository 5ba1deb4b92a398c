package models

// TokenUsage is the token accounting reported by a model call, when available.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the result of one text completion call.
type Completion struct {
	Content string      `json:"content"`
	Usage   *TokenUsage `json:"usage,omitempty"`
}

// DocumentMatch is one vector search hit.
type DocumentMatch struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	Similarity float32           `json:"similarity"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Well-known DocumentMatch metadata keys.
const (
	DocumentMetaTitle  = "title"
	DocumentMetaSource = "source"
)

// Title returns the document title from metadata.
func (d DocumentMatch) Title() string {
	return d.Metadata[DocumentMetaTitle]
}

// Source returns the document source from metadata.
func (d DocumentMatch) Source() string {
	return d.Metadata[DocumentMetaSource]
}
