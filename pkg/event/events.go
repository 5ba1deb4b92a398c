package event

// ============================================================================
// Event Names (constants)
// ============================================================================

const (
	OrchestrationStatusChanged = "orchestration.statusChanged"
	ConversationClosed         = "conversation.closed"
	ConversationEscalated      = "conversation.escalated"
	ConversationReopened       = "conversation.reopened"
	MessageCreated             = "message.created"
	DocumentIndexed            = "document.indexed"
)

// ============================================================================
// Orchestration Events
// ============================================================================

// OrchestrationStatusChangedEvent is emitted whenever the orchestration
// status value of a conversation is replaced.
type OrchestrationStatusChangedEvent struct {
	ConversationID string `json:"conversationId"`
	OrganizationID string `json:"organizationId"`
	State          string `json:"state"`
	Status         string `json:"status"`
	PlaybookID     string `json:"playbookId,omitempty"`
}

func (e OrchestrationStatusChangedEvent) EventName() string { return OrchestrationStatusChanged }

// ============================================================================
// Conversation Events
// ============================================================================

// ConversationClosedEvent is emitted when a conversation is resolved or closed.
type ConversationClosedEvent struct {
	ConversationID string `json:"conversationId"`
	OrganizationID string `json:"organizationId"`
	Status         string `json:"status"`
	Reason         string `json:"reason"`
}

func (e ConversationClosedEvent) EventName() string { return ConversationClosed }

// ConversationEscalatedEvent is emitted when a conversation is handed to a human.
type ConversationEscalatedEvent struct {
	ConversationID string `json:"conversationId"`
	OrganizationID string `json:"organizationId"`
	Reason         string `json:"reason"`
}

func (e ConversationEscalatedEvent) EventName() string { return ConversationEscalated }

// ConversationReopenedEvent is emitted when a customer writes into a finished conversation.
type ConversationReopenedEvent struct {
	ConversationID string `json:"conversationId"`
	OrganizationID string `json:"organizationId"`
}

func (e ConversationReopenedEvent) EventName() string { return ConversationReopened }

// MessageCreatedEvent is emitted for every stored message.
type MessageCreatedEvent struct {
	ConversationID string `json:"conversationId"`
	OrganizationID string `json:"organizationId"`
	MessageID      string `json:"messageId"`
	Type           string `json:"type"`
}

func (e MessageCreatedEvent) EventName() string { return MessageCreated }

// ============================================================================
// Knowledge Events
// ============================================================================

// DocumentIndexedEvent is emitted after a document is written to the vector store.
type DocumentIndexedEvent struct {
	OrganizationID string `json:"organizationId"`
	DocumentID     string `json:"documentId"`
}

func (e DocumentIndexedEvent) EventName() string { return DocumentIndexed }

