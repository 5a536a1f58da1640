package database

import "ikak/internal/models"

// PersistentModels returns the authoritative set of schema-managed GORM models.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.Account{},
		&models.RefreshToken{},
		&models.ProfileRecord{},
		&models.PostRecord{},
		&models.LikeRecord{},
		&models.CommentRecord{},
	}
}
