package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/choraleia/helpdesk/pkg/db"
	"github.com/choraleia/helpdesk/pkg/event"
)

// StatusTracker replaces a conversation's orchestration status as a whole
// and announces every change.
type StatusTracker struct {
	store   ConversationStore
	emitter Emitter
	now     func() time.Time
	logger  *slog.Logger
}

func NewStatusTracker(store ConversationStore, emitter Emitter, now func() time.Time, logger *slog.Logger) *StatusTracker {
	return &StatusTracker{store: store, emitter: emitter, now: now, logger: logger}
}

// Update clones the current status, applies mutate, and writes it together
// with patch in one store call. conv is updated in place on success.
func (t *StatusTracker) Update(ctx context.Context, conv *db.Conversation, patch *db.ConversationPatch, mutate func(s *db.OrchestrationStatus)) error {
	next := conv.OrchestrationStatus.Clone()
	if mutate != nil {
		mutate(&next)
	}
	next.LastUpdated = t.now()

	if patch == nil {
		patch = &db.ConversationPatch{}
	}
	patch.OrchestrationStatus = &next
	if err := writeConversation(ctx, t.store, conv, patch); err != nil {
		return fmt.Errorf("update orchestration status: %w", err)
	}

	t.emitter.Emit(event.OrchestrationStatusChangedEvent{
		ConversationID: conv.ID,
		OrganizationID: conv.OrganizationID,
		State:          string(next.State),
		Status:         string(conv.Status),
		PlaybookID:     conv.PlaybookID,
	})
	return nil
}

// SetState is Update for a bare state change.
func (t *StatusTracker) SetState(ctx context.Context, conv *db.Conversation, state db.OrchestrationState) error {
	return t.Update(ctx, conv, nil, func(s *db.OrchestrationStatus) {
		s.State = state
	})
}

// Begin marks the start of a processing cycle held by token.
func (t *StatusTracker) Begin(ctx context.Context, conv *db.Conversation, token string, lockedUntil time.Time) error {
	now := t.now()
	return t.Update(ctx, conv, &db.ConversationPatch{Status: db.StatusPtr(db.ConversationStatusProcessing)}, func(s *db.OrchestrationStatus) {
		s.State = db.StateAnalyzingIntent
		until := lockedUntil
		s.ProcessingDetails = &db.ProcessingDetails{
			WorkerToken: token,
			LockedUntil: &until,
			StartedAt:   now,
		}
		if conv.CooldownUntil != nil {
			cd := *conv.CooldownUntil
			s.ProcessingDetails.CooldownUntil = &cd
		}
	})
}

// Fail records an error state. The conversation returns to open if the
// cycle had moved it to processing.
func (t *StatusTracker) Fail(ctx context.Context, conv *db.Conversation, cause error) error {
	now := t.now()
	patch := &db.ConversationPatch{}
	if conv.Status == db.ConversationStatusProcessing {
		patch.Status = db.StatusPtr(db.ConversationStatusOpen)
	}
	return t.Update(ctx, conv, patch, func(s *db.OrchestrationStatus) {
		s.State = db.StateError
		if s.ProcessingDetails == nil {
			s.ProcessingDetails = &db.ProcessingDetails{StartedAt: now}
		}
		s.ProcessingDetails.FinishedAt = &now
		if cause != nil {
			s.ProcessingDetails.Error = cause.Error()
		}
	})
}

// stateForPath maps an execution path to its in-flight state.
func stateForPath(p Path) db.OrchestrationState {
	if p == PathDocumentQA {
		return db.StateSearchingDocuments
	}
	return db.StateExecutingPlaybook
}

func playbookRef(pb *db.Playbook) *db.PlaybookRef {
	if pb == nil {
		return nil
	}
	return &db.PlaybookRef{ID: pb.ID, Title: pb.Title}
}
