// Database models for conversation messages
package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// MessageType is the closed set of message authors/kinds.
type MessageType string

const (
	MessageTypeCustomer     MessageType = "customer"
	MessageTypeBotAgent     MessageType = "bot-agent"
	MessageTypeHumanAgent   MessageType = "human-agent"
	MessageTypeSystem       MessageType = "system"
	MessageTypeToolCall     MessageType = "tool-call"
	MessageTypeToolResponse MessageType = "tool-response"
)

// IsAssistant reports whether the message was written on the support side.
func (t MessageType) IsAssistant() bool {
	return t == MessageTypeBotAgent || t == MessageTypeHumanAgent
}

// Message is immutable once created; ordering is by CreatedAt.
type Message struct {
	ID             string          `json:"id" gorm:"primaryKey;size:36"`
	ConversationID string          `json:"conversation_id" gorm:"index:idx_message_conv_created,priority:1;size:36;not null"`
	OrganizationID string          `json:"organization_id" gorm:"index;size:36;not null"`
	Type           MessageType     `json:"type" gorm:"size:20;not null"`
	Content        string          `json:"content" gorm:"type:text"`
	Metadata       MessageMetadata `json:"metadata,omitempty" gorm:"type:text"`
	CreatedAt      time.Time       `json:"created_at" gorm:"index:idx_message_conv_created,priority:2"`
}

func (*Message) TableName() string {
	return "messages"
}

// IsReminder reports whether the message is an inactivity reminder.
func (m *Message) IsReminder() bool {
	r, ok := m.Metadata.Variant.(*ReminderMetadata)
	return ok && r.IsReminder
}

// NewMessage is the input for appending a message to a conversation.
type NewMessage struct {
	Type     MessageType
	Content  string
	Metadata MetadataVariant
}

// ========== Tagged metadata variants ==========

// MetadataKind tags the variant stored in MessageMetadata.
type MetadataKind string

const (
	MetadataContextAdded MetadataKind = "context_added"
	MetadataToolCall     MetadataKind = "tool_call"
	MetadataToolResponse MetadataKind = "tool_response"
	MetadataClosure      MetadataKind = "closure"
	MetadataEscalation   MetadataKind = "escalation"
	MetadataReminder     MetadataKind = "reminder"
	MetadataReply        MetadataKind = "reply"
)

// MetadataVariant is implemented only by the variant types in this file.
type MetadataVariant interface {
	Kind() MetadataKind
	sealed()
}

// ContextAddedMetadata marks a system briefing injected by the context tracker.
type ContextAddedMetadata struct {
	Context ContextKind `json:"context"`
	IDs     []string    `json:"ids"`
}

type ToolCallMetadata struct {
	CallID    string `json:"call_id"`
	ToolName  string `json:"tool_name"`
	Arguments string `json:"arguments"`
}

type ToolResponseMetadata struct {
	CallID  string `json:"call_id"`
	IsError bool   `json:"is_error,omitempty"`
}

type ClosureMetadata struct {
	Satisfied  bool    `json:"satisfied"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
	Tier       string  `json:"tier"`
}

type EscalationMetadata struct {
	Reason string `json:"reason"`
	Tier   string `json:"tier"`
}

type ReminderMetadata struct {
	IsReminder bool `json:"is_reminder"`
}

// ReplyMetadata describes how a bot reply was produced.
type ReplyMetadata struct {
	Path             string   `json:"path"`
	PlaybookID       string   `json:"playbook_id,omitempty"`
	AgentID          string   `json:"agent_id,omitempty"`
	Citations        []string `json:"citations,omitempty"`
	ToolCalls        []string `json:"tool_calls,omitempty"`
	Fallback         bool     `json:"fallback,omitempty"`
	// AnsweredThrough is the newest customer message the reply covers.
	AnsweredThrough  string   `json:"answered_through,omitempty"`
	PromptTokens     int      `json:"prompt_tokens,omitempty"`
	CompletionTokens int      `json:"completion_tokens,omitempty"`
}

func (*ContextAddedMetadata) Kind() MetadataKind { return MetadataContextAdded }
func (*ToolCallMetadata) Kind() MetadataKind     { return MetadataToolCall }
func (*ToolResponseMetadata) Kind() MetadataKind { return MetadataToolResponse }
func (*ClosureMetadata) Kind() MetadataKind      { return MetadataClosure }
func (*EscalationMetadata) Kind() MetadataKind   { return MetadataEscalation }
func (*ReminderMetadata) Kind() MetadataKind     { return MetadataReminder }
func (*ReplyMetadata) Kind() MetadataKind        { return MetadataReply }

func (*ContextAddedMetadata) sealed() {}
func (*ToolCallMetadata) sealed()     {}
func (*ToolResponseMetadata) sealed() {}
func (*ClosureMetadata) sealed()      {}
func (*EscalationMetadata) sealed()   {}
func (*ReminderMetadata) sealed()     {}
func (*ReplyMetadata) sealed()        {}

// MessageMetadata wraps one variant and stores it as {"kind": ..., "data": ...}.
type MessageMetadata struct {
	Variant MetadataVariant
}

type metadataEnvelope struct {
	Kind MetadataKind    `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func newVariant(kind MetadataKind) (MetadataVariant, error) {
	switch kind {
	case MetadataContextAdded:
		return &ContextAddedMetadata{}, nil
	case MetadataToolCall:
		return &ToolCallMetadata{}, nil
	case MetadataToolResponse:
		return &ToolResponseMetadata{}, nil
	case MetadataClosure:
		return &ClosureMetadata{}, nil
	case MetadataEscalation:
		return &EscalationMetadata{}, nil
	case MetadataReminder:
		return &ReminderMetadata{}, nil
	case MetadataReply:
		return &ReplyMetadata{}, nil
	default:
		return nil, fmt.Errorf("unknown message metadata kind %q", kind)
	}
}

// MarshalJSON implements json.Marshaler
func (m MessageMetadata) MarshalJSON() ([]byte, error) {
	if m.Variant == nil {
		return []byte("null"), nil
	}
	data, err := json.Marshal(m.Variant)
	if err != nil {
		return nil, err
	}
	return json.Marshal(metadataEnvelope{Kind: m.Variant.Kind(), Data: data})
}

// UnmarshalJSON implements json.Unmarshaler
func (m *MessageMetadata) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		m.Variant = nil
		return nil
	}
	var env metadataEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	v, err := newVariant(env.Kind)
	if err != nil {
		return err
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, v); err != nil {
			return err
		}
	}
	m.Variant = v
	return nil
}

// Value implements driver.Valuer for database storage
func (m MessageMetadata) Value() (driver.Value, error) {
	if m.Variant == nil {
		return nil, nil
	}
	b, err := m.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for database retrieval
func (m *MessageMetadata) Scan(value interface{}) error {
	if value == nil {
		m.Variant = nil
		return nil
	}
	b, err := scanBytes(value)
	if err != nil {
		return err
	}
	return m.UnmarshalJSON(b)
}
