package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/choraleia/helpdesk/pkg/db"
	"github.com/choraleia/helpdesk/pkg/orchestrator"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrPlaybookNotFound      = errors.New("playbook not found")
	ErrPlaybookTitleRequired = errors.New("playbook title is required")
	ErrInvalidPlaybookStatus = errors.New("invalid playbook status")
)

// PlaybookService stores organization playbooks.
type PlaybookService struct {
	db *gorm.DB
}

func NewPlaybookService(database *gorm.DB) *PlaybookService {
	return &PlaybookService{db: database}
}

// Create validates and inserts a playbook. New playbooks are active unless
// a status is given.
func (s *PlaybookService) Create(ctx context.Context, pb *db.Playbook) error {
	pb.Title = strings.TrimSpace(pb.Title)
	if pb.Title == "" {
		return ErrPlaybookTitleRequired
	}
	if pb.Status == "" {
		pb.Status = db.PlaybookStatusActive
	}
	if !validPlaybookStatus(pb.Status) {
		return fmt.Errorf("%w: %s", ErrInvalidPlaybookStatus, pb.Status)
	}
	if pb.ID == "" {
		pb.ID = uuid.NewString()
	}
	return s.db.WithContext(ctx).Create(pb).Error
}

// SetStatus activates, drafts or archives a playbook.
func (s *PlaybookService) SetStatus(ctx context.Context, id, orgID, status string) error {
	if !validPlaybookStatus(status) {
		return fmt.Errorf("%w: %s", ErrInvalidPlaybookStatus, status)
	}
	res := s.db.WithContext(ctx).Model(&db.Playbook{}).
		Where("id = ? AND organization_id = ?", id, orgID).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrPlaybookNotFound
	}
	return nil
}

// GetPlaybooks returns every playbook of the organization regardless of status.
func (s *PlaybookService) GetPlaybooks(ctx context.Context, orgID string) ([]db.Playbook, error) {
	var pbs []db.Playbook
	err := s.db.WithContext(ctx).Where("organization_id = ?", orgID).Order("created_at ASC").Find(&pbs).Error
	return pbs, err
}

// GetPlaybook returns (nil, nil) when the playbook does not exist.
func (s *PlaybookService) GetPlaybook(ctx context.Context, id, orgID string) (*db.Playbook, error) {
	var pb db.Playbook
	err := s.db.WithContext(ctx).Where("id = ? AND organization_id = ?", id, orgID).First(&pb).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &pb, nil
}

func validPlaybookStatus(s string) bool {
	switch s {
	case db.PlaybookStatusActive, db.PlaybookStatusDraft, db.PlaybookStatusArchived:
		return true
	}
	return false
}

var _ orchestrator.PlaybookStore = (*PlaybookService)(nil)
