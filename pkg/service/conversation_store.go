package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/choraleia/helpdesk/pkg/db"
	"github.com/choraleia/helpdesk/pkg/orchestrator"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConversationStore is the gorm implementation of orchestrator.ConversationStore.
// All timestamps are written in UTC so that the conditional lock update can
// compare them directly in SQL.
type ConversationStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewConversationStore(database *gorm.DB) *ConversationStore {
	return &ConversationStore{db: database, now: time.Now}
}

// DB returns the database instance
func (s *ConversationStore) DB() *gorm.DB {
	return s.db
}

func (s *ConversationStore) scoped(ctx context.Context, id, orgID string) *gorm.DB {
	return s.db.WithContext(ctx).Model(&db.Conversation{}).Where("id = ? AND organization_id = ?", id, orgID)
}

// CreateConversation inserts a new open conversation.
func (s *ConversationStore) CreateConversation(ctx context.Context, conv *db.Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	if conv.Status == "" {
		conv.Status = db.ConversationStatusOpen
	}
	if conv.Title == "" {
		conv.Title = "New conversation"
	}
	if conv.OrchestrationStatus.State == "" {
		conv.OrchestrationStatus.State = db.StateWaitingForUser
		conv.OrchestrationStatus.LastUpdated = s.now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(conv).Error; err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

func (s *ConversationStore) GetConversation(ctx context.Context, id, orgID string) (*db.Conversation, error) {
	var conv db.Conversation
	err := s.db.WithContext(ctx).Where("id = ? AND organization_id = ?", id, orgID).First(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conv, nil
}

func (s *ConversationStore) UpdateConversation(ctx context.Context, id, orgID string, patch *db.ConversationPatch) (*db.Conversation, error) {
	conv, err := s.GetConversation(ctx, id, orgID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, orchestrator.ErrConversationNotFound
	}

	q := s.scoped(ctx, id, orgID)
	if patch.Status != nil {
		if !db.CanTransition(conv.Status, *patch.Status) {
			return nil, fmt.Errorf("%w: %s -> %s", db.ErrInvalidTransition, conv.Status, *patch.Status)
		}
		q = q.Where("status = ?", conv.Status)
	}
	if patch.LockToken != "" {
		q = q.Where("processing_locked_by = ?", patch.LockToken)
	}

	now := s.now().UTC()
	cols := utcColumns(patch.Columns())
	cols["updated_at"] = now
	res := q.Updates(cols)
	if res.Error != nil {
		return nil, fmt.Errorf("update conversation: %w", res.Error)
	}
	if res.RowsAffected == 0 && patch.LockToken != "" {
		latest, err := s.GetConversation(ctx, id, orgID)
		if err != nil {
			return nil, err
		}
		if latest == nil || latest.ProcessingLockedBy != patch.LockToken {
			return nil, fmt.Errorf("%w: %s", orchestrator.ErrLockLost, patch.LockToken)
		}
	}
	if res.RowsAffected == 0 && patch.Status != nil {
		// Someone else moved the status between the read and the write.
		latest, err := s.GetConversation(ctx, id, orgID)
		if err != nil {
			return nil, err
		}
		if latest == nil || latest.Status != *patch.Status {
			return nil, fmt.Errorf("%w: status changed concurrently", db.ErrInvalidTransition)
		}
	}

	patch.Apply(conv)
	conv.UpdatedAt = now
	return conv, nil
}

func (s *ConversationStore) AcquireProcessingLock(ctx context.Context, id, orgID, token string, now, until time.Time) (bool, error) {
	now, until = now.UTC(), until.UTC()
	res := s.scoped(ctx, id, orgID).
		Where("(processing_locked_until IS NULL OR processing_locked_until <= ?)", now).
		Where("(cooldown_until IS NULL OR cooldown_until <= ?)", now).
		Updates(map[string]interface{}{
			"processing_locked_until": until,
			"processing_locked_by":    token,
			"needs_processing":        false,
			"updated_at":              now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *ConversationStore) ReleaseProcessingLock(ctx context.Context, id, orgID, token string, patch *db.ConversationPatch) (bool, error) {
	cols := utcColumns(patch.Columns())
	cols["updated_at"] = s.now().UTC()
	res := s.scoped(ctx, id, orgID).Where("processing_locked_by = ?", token).Updates(cols)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *ConversationStore) AddMessage(ctx context.Context, convID, orgID string, msg db.NewMessage) (*db.Message, error) {
	m := &db.Message{
		ID:             uuid.NewString(),
		ConversationID: convID,
		OrganizationID: orgID,
		Type:           msg.Type,
		Content:        msg.Content,
		Metadata:       db.MessageMetadata{Variant: msg.Metadata},
		CreatedAt:      s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return m, nil
}

func (s *ConversationStore) GetLastMessages(ctx context.Context, convID, orgID string, n int) ([]db.Message, error) {
	q := s.db.WithContext(ctx).
		Where("conversation_id = ? AND organization_id = ?", convID, orgID).
		Order("created_at DESC")
	if n > 0 {
		q = q.Limit(n)
	}
	var msgs []db.Message
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// GetMessages returns the whole conversation in chronological order.
func (s *ConversationStore) GetMessages(ctx context.Context, convID, orgID string) ([]db.Message, error) {
	var msgs []db.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND organization_id = ?", convID, orgID).
		Order("created_at ASC").
		Find(&msgs).Error
	return msgs, err
}

func (s *ConversationStore) ListConversationsByStatus(ctx context.Context, orgID string, status db.ConversationStatus) ([]db.Conversation, error) {
	var convs []db.Conversation
	err := s.db.WithContext(ctx).
		Where("organization_id = ? AND status = ?", orgID, status).
		Order("id").
		Find(&convs).Error
	return convs, err
}

// ListPendingConversations returns conversations whose lock and cooldown have
// both expired at now and that are either flagged for processing or were left
// in processing by a worker that never finished its cycle.
func (s *ConversationStore) ListPendingConversations(ctx context.Context, now time.Time, limit int) ([]db.Conversation, error) {
	now = now.UTC()
	q := s.db.WithContext(ctx).
		Where("(needs_processing = ? AND status = ?) OR status = ?",
			true, db.ConversationStatusOpen, db.ConversationStatusProcessing).
		Where("(processing_locked_until IS NULL OR processing_locked_until <= ?)", now).
		Where("(cooldown_until IS NULL OR cooldown_until <= ?)", now).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var convs []db.Conversation
	err := q.Find(&convs).Error
	return convs, err
}

// ListOrganizationsWithOpenConversations returns the organizations an
// inactivity sweep has to visit.
func (s *ConversationStore) ListOrganizationsWithOpenConversations(ctx context.Context) ([]string, error) {
	var orgs []string
	err := s.db.WithContext(ctx).Model(&db.Conversation{}).
		Where("status = ?", db.ConversationStatusOpen).
		Distinct().
		Order("organization_id").
		Pluck("organization_id", &orgs).Error
	return orgs, err
}

func utcColumns(cols map[string]interface{}) map[string]interface{} {
	for k, v := range cols {
		switch t := v.(type) {
		case time.Time:
			cols[k] = t.UTC()
		case *time.Time:
			if t != nil {
				cols[k] = t.UTC()
			}
		}
	}
	return cols
}

var _ orchestrator.ConversationStore = (*ConversationStore)(nil)
