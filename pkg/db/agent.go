package db

import "time"

// Agent is the bot persona a conversation is answered with.
type Agent struct {
	ID             string    `json:"id" gorm:"primaryKey;size:36"`
	OrganizationID string    `json:"organization_id" gorm:"index;size:36;not null"`
	Name           string    `json:"name" gorm:"size:100;not null"`
	Tone           string    `json:"tone" gorm:"type:text"`
	Avoid          string    `json:"avoid" gorm:"type:text"`
	Trigger        string    `json:"trigger" gorm:"type:text"`
	Instructions   string    `json:"instructions" gorm:"type:text"`
	IsDefault      bool      `json:"is_default" gorm:"default:false"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (Agent) TableName() string {
	return "agents"
}
