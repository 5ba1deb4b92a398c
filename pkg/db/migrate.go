package db

import "gorm.io/gorm"

// AllModels lists every table owned by the service.
func AllModels() []interface{} {
	return []interface{}{
		&Conversation{},
		&Message{},
		&Playbook{},
		&Agent{},
		&KnowledgeDocument{},
	}
}

// AutoMigrate creates or updates the schema for all models.
func AutoMigrate(g *gorm.DB) error {
	return g.AutoMigrate(AllModels()...)
}
