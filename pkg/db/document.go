package db

import "time"

// KnowledgeDocument is a knowledge base entry mirrored into the vector store.
type KnowledgeDocument struct {
	ID             string    `json:"id" gorm:"primaryKey;size:36"`
	OrganizationID string    `json:"organization_id" gorm:"index;size:36;not null"`
	Title          string    `json:"title" gorm:"size:255"`
	Source         string    `json:"source" gorm:"size:1024"`
	Content        string    `json:"content" gorm:"type:text"`
	ContentHash    string    `json:"content_hash" gorm:"index;size:64"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (KnowledgeDocument) TableName() string {
	return "knowledge_documents"
}
