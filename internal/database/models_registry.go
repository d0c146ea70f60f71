package database

import "pollapp/internal/models"

// PersistentModels returns the authoritative set of schema-managed GORM models.
// Order matters for AutoMigrate: referenced tables come first.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Poll{},
		&models.Option{},
		&models.Vote{},
		&models.Comment{},
		&models.Reaction{},
	}
}
