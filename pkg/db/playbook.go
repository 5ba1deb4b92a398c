package db

import "time"

// TriggerHumanEscalation is the reserved trigger that always wins a playbook switch.
const TriggerHumanEscalation = "human_escalation"

const (
	PlaybookStatusActive   = "active"
	PlaybookStatusDraft    = "draft"
	PlaybookStatusArchived = "archived"
)

// Playbook kinds that must not be interrupted once started.
const (
	PlaybookKindIntake     = "intake"
	PlaybookKindOnboarding = "onboarding"
)

// Playbook is a triggerable behavioral script owned by an organization.
type Playbook struct {
	ID             string      `json:"id" gorm:"primaryKey;size:36"`
	OrganizationID string      `json:"organization_id" gorm:"index;size:36;not null"`
	Title          string      `json:"title" gorm:"size:200;not null"`
	Trigger        string      `json:"trigger" gorm:"type:text"`
	Description    string      `json:"description" gorm:"type:text"`
	Instructions   string      `json:"instructions" gorm:"type:text"`
	RequiredFields StringArray `json:"required_fields" gorm:"type:text"`
	Tools          StringArray `json:"tools,omitempty" gorm:"type:text"`
	Status         string      `json:"status" gorm:"index;size:20;default:'active'"`
	Kind           string      `json:"kind,omitempty" gorm:"size:32"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

func (Playbook) TableName() string {
	return "playbooks"
}

// IsActive reports whether the playbook can be matched.
func (p *Playbook) IsActive() bool {
	return p.Status == PlaybookStatusActive
}
