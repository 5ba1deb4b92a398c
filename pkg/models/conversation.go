package models

import "github.com/choraleia/helpdesk/pkg/db"

// Aliases so handlers and clients can use the db shapes directly.
type (
	Conversation        = db.Conversation
	Message             = db.Message
	OrchestrationStatus = db.OrchestrationStatus
	KnowledgeDocument   = db.KnowledgeDocument
)

// PostMessageRequest is the body of a customer message submission.
type PostMessageRequest struct {
	Content string `json:"content" binding:"required"`
	Title   string `json:"title,omitempty"`
}

// PostMessageResponse is returned after a customer message is accepted.
type PostMessageResponse struct {
	Message        *db.Message `json:"message"`
	ConversationID string      `json:"conversation_id"`
	Queued         bool        `json:"queued"`
}

// ConversationStatusResponse exposes the externally observable orchestration state.
type ConversationStatusResponse struct {
	ConversationID      string                 `json:"conversation_id"`
	Status              db.ConversationStatus  `json:"status"`
	PlaybookID          string                 `json:"playbook_id,omitempty"`
	AgentID             string                 `json:"agent_id,omitempty"`
	NeedsProcessing     bool                   `json:"needs_processing"`
	Locked              bool                   `json:"locked"`
	InCooldown          bool                   `json:"in_cooldown"`
	OrchestrationStatus db.OrchestrationStatus `json:"orchestration_status"`
	ResolutionMetadata  *db.ResolutionMetadata `json:"resolution_metadata,omitempty"`
}

// IndexDocumentRequest adds a document to an organization's knowledge base.
type IndexDocumentRequest struct {
	ID      string `json:"id,omitempty"`
	Title   string `json:"title" binding:"required"`
	Source  string `json:"source,omitempty"`
	Content string `json:"content" binding:"required"`
}

// SearchDocumentsRequest queries the knowledge base.
type SearchDocumentsRequest struct {
	Query string `json:"query" binding:"required"`
	Limit int    `json:"limit,omitempty"`
}
