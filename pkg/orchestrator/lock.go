package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/choraleia/helpdesk/pkg/db"
)

// LockResult is the outcome of a lock attempt.
type LockResult int

const (
	LockGranted LockResult = iota
	LockAlreadyLocked
	LockCooldown
)

func (r LockResult) String() string {
	switch r {
	case LockGranted:
		return "granted"
	case LockAlreadyLocked:
		return "already_locked"
	case LockCooldown:
		return "cooldown"
	default:
		return fmt.Sprintf("LockResult(%d)", int(r))
	}
}

// LockCoordinator hands out the per-conversation processing lock.
type LockCoordinator struct {
	store  ConversationStore
	now    func() time.Time
	logger *slog.Logger
}

func NewLockCoordinator(store ConversationStore, now func() time.Time, logger *slog.Logger) *LockCoordinator {
	return &LockCoordinator{store: store, now: now, logger: logger}
}

// TryAcquire claims the conversation for token until now+window. Only a
// Granted result mutates the conversation.
func (l *LockCoordinator) TryAcquire(ctx context.Context, convID, orgID, token string, window time.Duration) (LockResult, error) {
	now := l.now()
	conv, err := l.store.GetConversation(ctx, convID, orgID)
	if err != nil {
		return LockAlreadyLocked, fmt.Errorf("load conversation: %w", err)
	}
	if conv == nil {
		return LockAlreadyLocked, ErrConversationNotFound
	}
	if r, busy := classifyBusy(conv, now); busy {
		return r, nil
	}

	ok, err := l.store.AcquireProcessingLock(ctx, convID, orgID, token, now, now.Add(window))
	if err != nil {
		return LockAlreadyLocked, fmt.Errorf("acquire processing lock: %w", err)
	}
	if ok {
		l.logger.Debug("Processing lock granted", "conversationID", convID, "worker", token, "window", window)
		return LockGranted, nil
	}

	// Lost the race; report what the winner left behind.
	conv, err = l.store.GetConversation(ctx, convID, orgID)
	if err == nil && conv != nil {
		if r, busy := classifyBusy(conv, l.now()); busy {
			return r, nil
		}
	}
	return LockAlreadyLocked, nil
}

func classifyBusy(conv *db.Conversation, now time.Time) (LockResult, bool) {
	if conv.IsLocked(now) {
		return LockAlreadyLocked, true
	}
	if conv.InCooldown(now) {
		return LockCooldown, true
	}
	return LockGranted, false
}

// Release ends a successful cycle: lock and cooldown are cleared and
// last_processed_at is stamped.
func (l *LockCoordinator) Release(ctx context.Context, convID, orgID, token string) error {
	now := l.now()
	ok, err := l.store.ReleaseProcessingLock(ctx, convID, orgID, token, &db.ConversationPatch{
		ClearLock:       true,
		ClearCooldown:   true,
		LastProcessedAt: &now,
	})
	if err != nil {
		return fmt.Errorf("release processing lock: %w", err)
	}
	if !ok {
		l.logger.Warn("Processing lock no longer held at release", "conversationID", convID, "worker", token)
	}
	return nil
}

// Fail ends a failed cycle: the lock is cleared and needs_processing is set
// so the next scheduled pass retries the conversation.
func (l *LockCoordinator) Fail(ctx context.Context, convID, orgID, token string) error {
	needs := true
	ok, err := l.store.ReleaseProcessingLock(ctx, convID, orgID, token, &db.ConversationPatch{
		ClearLock:       true,
		NeedsProcessing: &needs,
	})
	if err != nil {
		return fmt.Errorf("fail processing lock: %w", err)
	}
	if !ok {
		l.logger.Warn("Processing lock no longer held at failure", "conversationID", convID, "worker", token)
	}
	return nil
}
