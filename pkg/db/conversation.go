// Database models for support conversations
package db

import (
	"database/sql/driver"
	"errors"
	"time"
)

// ErrInvalidTransition is returned when a patch would move a conversation
// along a path the status table does not allow.
var ErrInvalidTransition = errors.New("invalid conversation status transition")

// ConversationStatus is the lifecycle status of a conversation.
type ConversationStatus string

const (
	ConversationStatusOpen          ConversationStatus = "open"
	ConversationStatusProcessing    ConversationStatus = "processing"
	ConversationStatusPendingHuman  ConversationStatus = "pending-human"
	ConversationStatusHumanTookOver ConversationStatus = "human-took-over"
	ConversationStatusResolved      ConversationStatus = "resolved"
	ConversationStatusClosed        ConversationStatus = "closed"
)

// conversationTransitions lists every allowed status change. A status may
// always be rewritten to itself.
var conversationTransitions = map[ConversationStatus][]ConversationStatus{
	ConversationStatusOpen: {
		ConversationStatusProcessing, ConversationStatusPendingHuman, ConversationStatusHumanTookOver,
		ConversationStatusResolved, ConversationStatusClosed,
	},
	ConversationStatusProcessing: {
		ConversationStatusOpen, ConversationStatusPendingHuman, ConversationStatusResolved, ConversationStatusClosed,
	},
	ConversationStatusPendingHuman: {
		ConversationStatusHumanTookOver, ConversationStatusOpen, ConversationStatusResolved, ConversationStatusClosed,
	},
	ConversationStatusHumanTookOver: {
		ConversationStatusOpen, ConversationStatusResolved, ConversationStatusClosed,
	},
	// A new customer message reopens a finished conversation.
	ConversationStatusResolved: {ConversationStatusOpen},
	ConversationStatusClosed:   {ConversationStatusOpen},
}

// CanTransition reports whether a conversation may move from one status to another.
func CanTransition(from, to ConversationStatus) bool {
	if from == to {
		return true
	}
	for _, s := range conversationTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsFinished reports whether the status ends the bot's involvement.
func (s ConversationStatus) IsFinished() bool {
	return s == ConversationStatusResolved || s == ConversationStatusClosed
}

// Conversation represents a customer support conversation in an organization
type Conversation struct {
	ID             string             `json:"id" gorm:"primaryKey;size:36"`
	OrganizationID string             `json:"organization_id" gorm:"primaryKey;index;size:36;not null"`
	Title          string             `json:"title" gorm:"size:200;default:'New conversation'"`
	Status         ConversationStatus `json:"status" gorm:"index;size:20;default:'open'"`
	AgentID        string             `json:"agent_id,omitempty" gorm:"size:36"`
	PlaybookID     string             `json:"playbook_id,omitempty" gorm:"size:36"`

	// Processing coordination
	ProcessingLockedUntil *time.Time `json:"processing_locked_until,omitempty"`
	ProcessingLockedBy    string     `json:"processing_locked_by,omitempty" gorm:"size:64"`
	CooldownUntil         *time.Time `json:"cooldown_until,omitempty"`
	NeedsProcessing       bool       `json:"needs_processing" gorm:"index;default:false"`
	LastProcessedAt       *time.Time `json:"last_processed_at,omitempty"`

	OrchestrationStatus OrchestrationStatus `json:"orchestration_status" gorm:"type:text"`
	ResolutionMetadata  *ResolutionMetadata `json:"resolution_metadata,omitempty" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// IsLocked reports whether a non-expired processing lock is held at now.
func (c *Conversation) IsLocked(now time.Time) bool {
	return c.ProcessingLockedUntil != nil && c.ProcessingLockedUntil.After(now)
}

// InCooldown reports whether the post-message cooldown is still running at now.
func (c *Conversation) InCooldown(now time.Time) bool {
	return c.CooldownUntil != nil && c.CooldownUntil.After(now)
}

// ResolutionMetadata records why a conversation was closed or resolved.
type ResolutionMetadata struct {
	Resolved   bool      `json:"resolved"`
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// Resolution reasons
const (
	ResolutionReasonInactivity = "inactivity_timeout"
)

// Value implements driver.Valuer for database storage
func (r *ResolutionMetadata) Value() (driver.Value, error) {
	if r == nil {
		return nil, nil
	}
	return jsonValue(r)
}

// Scan implements sql.Scanner for database retrieval
func (r *ResolutionMetadata) Scan(value interface{}) error {
	return jsonScan(value, r)
}

// ConversationPatch is a partial update of a conversation. Nil fields are
// left unchanged; ClearLock and ClearCooldown reset those columns to NULL.
type ConversationPatch struct {
	Status              *ConversationStatus
	Title               *string
	AgentID             *string
	PlaybookID          *string
	NeedsProcessing     *bool
	CooldownUntil       *time.Time
	LastProcessedAt     *time.Time
	ClearLock           bool
	ClearCooldown       bool
	OrchestrationStatus *OrchestrationStatus
	ResolutionMetadata  *ResolutionMetadata

	// LockToken, when set, applies the patch only while that worker still
	// holds the processing lock. It is not a column.
	LockToken string
}

// Columns renders the patch as a column → value map for conditional updates.
func (p *ConversationPatch) Columns() map[string]interface{} {
	cols := map[string]interface{}{}
	if p == nil {
		return cols
	}
	if p.Status != nil {
		cols["status"] = *p.Status
	}
	if p.Title != nil {
		cols["title"] = *p.Title
	}
	if p.AgentID != nil {
		cols["agent_id"] = *p.AgentID
	}
	if p.PlaybookID != nil {
		cols["playbook_id"] = *p.PlaybookID
	}
	if p.NeedsProcessing != nil {
		cols["needs_processing"] = *p.NeedsProcessing
	}
	if p.CooldownUntil != nil {
		cols["cooldown_until"] = *p.CooldownUntil
	}
	if p.LastProcessedAt != nil {
		cols["last_processed_at"] = *p.LastProcessedAt
	}
	if p.ClearLock {
		cols["processing_locked_until"] = nil
		cols["processing_locked_by"] = ""
	}
	if p.ClearCooldown {
		cols["cooldown_until"] = nil
	}
	if p.OrchestrationStatus != nil {
		cols["orchestration_status"] = *p.OrchestrationStatus
	}
	if p.ResolutionMetadata != nil {
		cols["resolution_metadata"] = p.ResolutionMetadata
	}
	return cols
}

// Apply copies the patch onto an in-memory conversation.
func (p *ConversationPatch) Apply(c *Conversation) {
	if p == nil || c == nil {
		return
	}
	if p.Status != nil {
		c.Status = *p.Status
	}
	if p.Title != nil {
		c.Title = *p.Title
	}
	if p.AgentID != nil {
		c.AgentID = *p.AgentID
	}
	if p.PlaybookID != nil {
		c.PlaybookID = *p.PlaybookID
	}
	if p.NeedsProcessing != nil {
		c.NeedsProcessing = *p.NeedsProcessing
	}
	if p.CooldownUntil != nil {
		t := *p.CooldownUntil
		c.CooldownUntil = &t
	}
	if p.LastProcessedAt != nil {
		t := *p.LastProcessedAt
		c.LastProcessedAt = &t
	}
	if p.ClearLock {
		c.ProcessingLockedUntil = nil
		c.ProcessingLockedBy = ""
	}
	if p.ClearCooldown {
		c.CooldownUntil = nil
	}
	if p.OrchestrationStatus != nil {
		c.OrchestrationStatus = p.OrchestrationStatus.Clone()
	}
	if p.ResolutionMetadata != nil {
		r := *p.ResolutionMetadata
		c.ResolutionMetadata = &r
	}
}

// StatusPtr is a helper for building patches.
func StatusPtr(s ConversationStatus) *ConversationStatus { return &s }
