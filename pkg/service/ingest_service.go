package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/choraleia/helpdesk/pkg/db"
	"github.com/choraleia/helpdesk/pkg/event"
	"github.com/choraleia/helpdesk/pkg/models"
	"github.com/choraleia/helpdesk/pkg/orchestrator"
	"github.com/choraleia/helpdesk/pkg/utils"
	"github.com/google/uuid"
)

var ErrEmptyMessage = errors.New("message content is empty")

// IngestService accepts messages from outside the engine and schedules
// processing for them.
type IngestService struct {
	store    *ConversationStore
	queue    WorkQueue
	emitter  orchestrator.Emitter
	cooldown time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

func NewIngestService(store *ConversationStore, queue WorkQueue, emitter orchestrator.Emitter, cooldown time.Duration) *IngestService {
	if emitter == nil {
		emitter = event.Global()
	}
	return &IngestService{
		store:    store,
		queue:    queue,
		emitter:  emitter,
		cooldown: cooldown,
		now:      time.Now,
		logger:   utils.GetLogger(),
	}
}

// ReceiveCustomerMessage stores a customer message, creating the conversation
// when convID is unknown and reopening it when it was finished. Each message
// restarts the cooldown so a burst of messages is answered in one cycle.
func (s *IngestService) ReceiveCustomerMessage(ctx context.Context, orgID, convID string, req *models.PostMessageRequest) (*models.PostMessageResponse, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, ErrEmptyMessage
	}
	if convID == "" {
		convID = uuid.NewString()
	}

	conv, err := s.store.GetConversation(ctx, convID, orgID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if conv == nil {
		conv = &db.Conversation{ID: convID, OrganizationID: orgID, Title: strings.TrimSpace(req.Title)}
		if err := s.store.CreateConversation(ctx, conv); err != nil {
			return nil, err
		}
		s.logger.Info("Conversation created", "conversationID", convID, "organizationID", orgID)
	}

	msg, err := s.store.AddMessage(ctx, convID, orgID, db.NewMessage{Type: db.MessageTypeCustomer, Content: content})
	if err != nil {
		return nil, err
	}
	s.emitter.Emit(event.MessageCreatedEvent{
		ConversationID: convID,
		OrganizationID: orgID,
		MessageID:      msg.ID,
		Type:           string(msg.Type),
	})

	reopened := conv.Status.IsFinished()
	botOwned := reopened || conv.Status == db.ConversationStatusOpen || conv.Status == db.ConversationStatusProcessing
	if !botOwned {
		// A human owns the conversation; the bot stays out.
		return &models.PostMessageResponse{Message: msg, ConversationID: convID}, nil
	}

	notBefore := s.now().Add(s.cooldown).UTC()
	needs := true
	patch := &db.ConversationPatch{NeedsProcessing: &needs, CooldownUntil: &notBefore}
	if reopened {
		patch.Status = db.StatusPtr(db.ConversationStatusOpen)
	}
	if _, err := s.store.UpdateConversation(ctx, convID, orgID, patch); err != nil {
		return nil, fmt.Errorf("schedule processing: %w", err)
	}
	if reopened {
		s.logger.Info("Conversation reopened", "conversationID", convID, "previousStatus", conv.Status)
		s.emitter.Emit(event.ConversationReopenedEvent{ConversationID: convID, OrganizationID: orgID})
	}

	queued := true
	if s.queue != nil {
		err = s.queue.Enqueue(ctx, ProcessJob{ConversationID: convID, OrganizationID: orgID, NotBefore: notBefore})
	} else {
		err = errors.New("no work queue")
	}
	if err != nil {
		// needs_processing is already set; the dispatcher poll will find it.
		s.logger.Warn("Failed to enqueue conversation", "conversationID", convID, "error", err)
		queued = false
	}

	return &models.PostMessageResponse{Message: msg, ConversationID: convID, Queued: queued}, nil
}

// PostAgentMessage records a human agent reply and hands the conversation
// over to humans.
func (s *IngestService) PostAgentMessage(ctx context.Context, orgID, convID, content string) (*db.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}
	conv, err := s.store.GetConversation(ctx, convID, orgID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if conv == nil {
		return nil, orchestrator.ErrConversationNotFound
	}

	switch {
	case conv.Status == db.ConversationStatusProcessing:
		// The bot is mid-cycle; the agent retries once it has answered.
		return nil, orchestrator.ErrConversationBusy
	case conv.Status.IsFinished():
		if _, err := s.store.UpdateConversation(ctx, convID, orgID, &db.ConversationPatch{Status: db.StatusPtr(db.ConversationStatusOpen)}); err != nil {
			return nil, err
		}
		s.emitter.Emit(event.ConversationReopenedEvent{ConversationID: convID, OrganizationID: orgID})
	}
	if conv.Status != db.ConversationStatusHumanTookOver {
		needs := false
		patch := &db.ConversationPatch{Status: db.StatusPtr(db.ConversationStatusHumanTookOver), NeedsProcessing: &needs}
		if _, err := s.store.UpdateConversation(ctx, convID, orgID, patch); err != nil {
			return nil, err
		}
		s.logger.Info("Human agent took over", "conversationID", convID, "previousStatus", conv.Status)
	}

	msg, err := s.store.AddMessage(ctx, convID, orgID, db.NewMessage{Type: db.MessageTypeHumanAgent, Content: content})
	if err != nil {
		return nil, err
	}
	s.emitter.Emit(event.MessageCreatedEvent{
		ConversationID: convID,
		OrganizationID: orgID,
		MessageID:      msg.ID,
		Type:           string(msg.Type),
	})
	return msg, nil
}

// ConversationStatus reports the externally observable orchestration state.
func (s *IngestService) ConversationStatus(ctx context.Context, orgID, convID string) (*models.ConversationStatusResponse, error) {
	conv, err := s.store.GetConversation(ctx, convID, orgID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, orchestrator.ErrConversationNotFound
	}
	now := s.now()
	return &models.ConversationStatusResponse{
		ConversationID:      conv.ID,
		Status:              conv.Status,
		PlaybookID:          conv.PlaybookID,
		AgentID:             conv.AgentID,
		NeedsProcessing:     conv.NeedsProcessing,
		Locked:              conv.IsLocked(now),
		InCooldown:          conv.InCooldown(now),
		OrchestrationStatus: conv.OrchestrationStatus,
		ResolutionMetadata:  conv.ResolutionMetadata,
	}, nil
}

// Messages returns the full transcript of a conversation.
func (s *IngestService) Messages(ctx context.Context, orgID, convID string) ([]db.Message, error) {
	conv, err := s.store.GetConversation(ctx, convID, orgID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, orchestrator.ErrConversationNotFound
	}
	return s.store.GetMessages(ctx, convID, orgID)
}
