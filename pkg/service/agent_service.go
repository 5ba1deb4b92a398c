package service

import (
	"context"
	"errors"
	"strings"

	"github.com/choraleia/helpdesk/pkg/db"
	"github.com/choraleia/helpdesk/pkg/orchestrator"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrAgentNotFound     = errors.New("agent not found")
	ErrAgentNameRequired = errors.New("agent name is required")
)

// AgentService stores the bot personas of each organization.
type AgentService struct {
	db *gorm.DB
}

func NewAgentService(database *gorm.DB) *AgentService {
	return &AgentService{db: database}
}

// Create inserts an agent. Marking it default clears the flag on the
// organization's other agents.
func (s *AgentService) Create(ctx context.Context, agent *db.Agent) error {
	agent.Name = strings.TrimSpace(agent.Name)
	if agent.Name == "" {
		return ErrAgentNameRequired
	}
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if agent.IsDefault {
			if err := tx.Model(&db.Agent{}).
				Where("organization_id = ? AND is_default = ?", agent.OrganizationID, true).
				Update("is_default", false).Error; err != nil {
				return err
			}
		}
		return tx.Create(agent).Error
	})
}

// SetDefault makes id the organization's default agent.
func (s *AgentService) SetDefault(ctx context.Context, id, orgID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&db.Agent{}).Where("id = ? AND organization_id = ?", id, orgID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrAgentNotFound
		}
		if err := tx.Model(&db.Agent{}).
			Where("organization_id = ? AND id <> ?", orgID, id).
			Update("is_default", false).Error; err != nil {
			return err
		}
		return tx.Model(&db.Agent{}).Where("id = ? AND organization_id = ?", id, orgID).Update("is_default", true).Error
	})
}

func (s *AgentService) List(ctx context.Context, orgID string) ([]db.Agent, error) {
	var agents []db.Agent
	err := s.db.WithContext(ctx).Where("organization_id = ?", orgID).Order("created_at ASC").Find(&agents).Error
	return agents, err
}

// GetAgent returns (nil, nil) when the agent does not exist.
func (s *AgentService) GetAgent(ctx context.Context, id, orgID string) (*db.Agent, error) {
	return s.first(ctx, "id = ? AND organization_id = ?", id, orgID)
}

// GetDefaultAgent returns (nil, nil) when the organization has no default agent.
func (s *AgentService) GetDefaultAgent(ctx context.Context, orgID string) (*db.Agent, error) {
	return s.first(ctx, "organization_id = ? AND is_default = ?", orgID, true)
}

func (s *AgentService) first(ctx context.Context, query string, args ...interface{}) (*db.Agent, error) {
	var agent db.Agent
	err := s.db.WithContext(ctx).Where(query, args...).First(&agent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &agent, nil
}

var _ orchestrator.AgentStore = (*AgentService)(nil)
