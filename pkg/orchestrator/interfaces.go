package orchestrator

import (
	"context"
	"time"

	"github.com/choraleia/helpdesk/pkg/db"
	"github.com/choraleia/helpdesk/pkg/event"
	"github.com/choraleia/helpdesk/pkg/models"
)

// ConversationStore persists conversations and their messages. Lookups of a
// missing conversation return (nil, nil).
type ConversationStore interface {
	GetConversation(ctx context.Context, id, orgID string) (*db.Conversation, error)
	// UpdateConversation applies patch and returns the updated row. It must
	// reject status changes that db.CanTransition does not allow.
	UpdateConversation(ctx context.Context, id, orgID string, patch *db.ConversationPatch) (*db.Conversation, error)
	// AcquireProcessingLock sets the lock to (token, until) only if no lock
	// and no cooldown is active at now, as a single conditional write.
	AcquireProcessingLock(ctx context.Context, id, orgID, token string, now, until time.Time) (bool, error)
	// ReleaseProcessingLock applies patch only while token still holds the lock.
	ReleaseProcessingLock(ctx context.Context, id, orgID, token string, patch *db.ConversationPatch) (bool, error)
	AddMessage(ctx context.Context, convID, orgID string, msg db.NewMessage) (*db.Message, error)
	// GetLastMessages returns up to n most recent messages in chronological order.
	GetLastMessages(ctx context.Context, convID, orgID string, n int) ([]db.Message, error)
	ListConversationsByStatus(ctx context.Context, orgID string, status db.ConversationStatus) ([]db.Conversation, error)
}

// PlaybookStore is read-only access to an organization's playbooks.
type PlaybookStore interface {
	GetPlaybooks(ctx context.Context, orgID string) ([]db.Playbook, error)
	GetPlaybook(ctx context.Context, id, orgID string) (*db.Playbook, error)
}

// AgentStore is read-only access to bot personas.
type AgentStore interface {
	GetAgent(ctx context.Context, id, orgID string) (*db.Agent, error)
	GetDefaultAgent(ctx context.Context, orgID string) (*db.Agent, error)
}

// Completion is a text completion capability.
type Completion interface {
	Invoke(ctx context.Context, prompt string) (*models.Completion, error)
	InvokeWithSystemPrompt(ctx context.Context, system, user string) (*models.Completion, error)
}

// VectorSearch queries an organization's document knowledge base.
type VectorSearch interface {
	Search(ctx context.Context, orgID, query string, limit int) ([]models.DocumentMatch, error)
}

// ToolInvoker runs the support tools a playbook may reference by name.
type ToolInvoker interface {
	// Specs describes the named tools as the organization sees them,
	// skipping names it does not know.
	Specs(orgID string, names []string) []ToolSpec
	Invoke(ctx context.Context, call ToolCall) (string, error)
}

// Emitter publishes orchestration notifications.
type Emitter interface {
	Emit(ev event.Event)
}

type nopEmitter struct{}

func (nopEmitter) Emit(event.Event) {}
