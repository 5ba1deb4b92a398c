package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/choraleia/helpdesk/pkg/db"
	"github.com/choraleia/helpdesk/pkg/event"
)

const (
	// ReminderMessage is sent once a conversation reaches half the inactivity threshold.
	ReminderMessage = "Are you still there? Just checking in. Reply any time if you still need help."
	// InactivityCloseMessage is the system note left when a conversation times out.
	InactivityCloseMessage = "This conversation was closed due to inactivity."

	inactivityHistory = 20
)

var anythingElsePattern = regexp.MustCompile(`(?i)\b(anything else|something else)\b`)

// InactivityReport summarizes one sweep.
type InactivityReport struct {
	Checked  int
	Reminded int
	Closed   int
	Skipped  int
}

// InactivityMonitor reminds and eventually closes idle open conversations.
type InactivityMonitor struct {
	store     ConversationStore
	lock      *LockCoordinator
	tracker   *StatusTracker
	titles    *TitleGenerator
	emitter   Emitter
	threshold time.Duration
	window    time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

func NewInactivityMonitor(store ConversationStore, lock *LockCoordinator, tracker *StatusTracker, titles *TitleGenerator, emitter Emitter, cfg Config, now func() time.Time, logger *slog.Logger) *InactivityMonitor {
	return &InactivityMonitor{
		store:     store,
		lock:      lock,
		tracker:   tracker,
		titles:    titles,
		emitter:   emitter,
		threshold: cfg.InactivityThreshold,
		window:    cfg.LockWindow,
		now:       now,
		logger:    logger,
	}
}

// Check sweeps every open conversation of the organization. Each one is
// handled under its processing lock; busy conversations are skipped.
func (m *InactivityMonitor) Check(ctx context.Context, orgID, token string) (InactivityReport, error) {
	var report InactivityReport
	convs, err := m.store.ListConversationsByStatus(ctx, orgID, db.ConversationStatusOpen)
	if err != nil {
		return report, fmt.Errorf("list open conversations: %w", err)
	}

	for i := range convs {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Checked++
		action, err := m.checkOne(ctx, &convs[i], token)
		if err != nil {
			m.logger.Error("Inactivity check failed", "conversationID", convs[i].ID, "error", err)
			report.Skipped++
			continue
		}
		switch action {
		case inactivityReminded:
			report.Reminded++
		case inactivityClosed:
			report.Closed++
		case inactivitySkipped:
			report.Skipped++
		}
	}
	return report, nil
}

type inactivityAction int

const (
	inactivityNone inactivityAction = iota
	inactivityReminded
	inactivityClosed
	inactivitySkipped
)

func (m *InactivityMonitor) checkOne(ctx context.Context, conv *db.Conversation, token string) (inactivityAction, error) {
	msgs, err := m.store.GetLastMessages(ctx, conv.ID, conv.OrganizationID, inactivityHistory)
	if err != nil {
		return inactivityNone, fmt.Errorf("load messages: %w", err)
	}
	anchor := lastNonReminder(msgs)
	if anchor == nil {
		return inactivityNone, nil
	}

	elapsed := m.now().Sub(anchor.CreatedAt)
	last := msgs[len(msgs)-1]
	closeDue := elapsed >= m.threshold
	remindDue := !closeDue && elapsed >= m.threshold/2 &&
		last.Type.IsAssistant() && !last.IsReminder() && !anythingElsePattern.MatchString(last.Content)
	if !closeDue && !remindDue {
		return inactivityNone, nil
	}

	res, err := m.lock.TryAcquire(ctx, conv.ID, conv.OrganizationID, token, m.window)
	if err != nil {
		return inactivityNone, err
	}
	if res != LockGranted {
		m.logger.Debug("Skipping busy conversation", "conversationID", conv.ID, "lock", res)
		return inactivitySkipped, nil
	}
	defer func() {
		if err := m.lock.Release(context.WithoutCancel(ctx), conv.ID, conv.OrganizationID, token); err != nil {
			m.logger.Error("Failed to release lock after inactivity check", "conversationID", conv.ID, "error", err)
		}
	}()

	// The lock was taken after the read; make sure nothing changed underneath.
	fresh, err := m.store.GetConversation(ctx, conv.ID, conv.OrganizationID)
	if err != nil {
		return inactivityNone, err
	}
	if fresh == nil || fresh.Status != db.ConversationStatusOpen {
		return inactivitySkipped, nil
	}
	*conv = *fresh

	if closeDue {
		return inactivityClosed, m.closeInactive(ctx, conv, msgs)
	}
	return inactivityReminded, m.remind(ctx, conv)
}

func (m *InactivityMonitor) remind(ctx context.Context, conv *db.Conversation) error {
	msg, err := m.store.AddMessage(ctx, conv.ID, conv.OrganizationID, db.NewMessage{
		Type:     db.MessageTypeBotAgent,
		Content:  ReminderMessage,
		Metadata: &db.ReminderMetadata{IsReminder: true},
	})
	if err != nil {
		return fmt.Errorf("add reminder: %w", err)
	}
	m.emitter.Emit(event.MessageCreatedEvent{
		ConversationID: conv.ID,
		OrganizationID: conv.OrganizationID,
		MessageID:      msg.ID,
		Type:           string(msg.Type),
	})
	m.logger.Info("Inactivity reminder sent", "conversationID", conv.ID)
	return nil
}

func (m *InactivityMonitor) closeInactive(ctx context.Context, conv *db.Conversation, msgs []db.Message) error {
	now := m.now()
	title := m.titles.Generate(ctx, msgs)
	needs := false
	patch := &db.ConversationPatch{
		Status:          db.StatusPtr(db.ConversationStatusClosed),
		Title:           &title,
		NeedsProcessing: &needs,
		ResolutionMetadata: &db.ResolutionMetadata{
			Resolved:   false,
			Confidence: 1,
			Reason:     db.ResolutionReasonInactivity,
			ResolvedAt: now,
		},
	}
	if err := m.tracker.Update(ctx, conv, patch, func(s *db.OrchestrationStatus) {
		s.State = db.StateClosed
	}); err != nil {
		return err
	}

	if _, err := m.store.AddMessage(ctx, conv.ID, conv.OrganizationID, db.NewMessage{
		Type:    db.MessageTypeSystem,
		Content: InactivityCloseMessage,
	}); err != nil {
		m.logger.Warn("Failed to add inactivity close note", "conversationID", conv.ID, "error", err)
	}

	m.emitter.Emit(event.ConversationClosedEvent{
		ConversationID: conv.ID,
		OrganizationID: conv.OrganizationID,
		Status:         string(db.ConversationStatusClosed),
		Reason:         db.ResolutionReasonInactivity,
	})
	m.logger.Info("Conversation closed for inactivity", "conversationID", conv.ID)
	return nil
}

func lastNonReminder(msgs []db.Message) *db.Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if !msgs[i].IsReminder() {
			return &msgs[i]
		}
	}
	return nil
}
