package repository

import (
	"context"

	"ikak/internal/models"

	"gorm.io/gorm"
)

// ProfileRepository defines persistence operations for profiles.
type ProfileRepository interface {
	Columns() map[string]bool
	Find(ctx context.Context, q Query) ([]models.ProfileRecord, error)
	Create(ctx context.Context, p *models.ProfileRecord) error
	// Update changes the rows matching q that belong to ownerID.
	Update(ctx context.Context, q Query, ownerID string, fields map[string]interface{}) ([]models.ProfileRecord, error)
}

// ProfileUpdatableColumns are the columns a PATCH may set.
var ProfileUpdatableColumns = map[string]bool{
	"username":     true,
	"display_name": true,
	"bio":          true,
	"avatar_url":   true,
}

type profileRepository struct {
	table[models.ProfileRecord]
}

// NewProfileRepository returns a ProfileRepository.
func NewProfileRepository(db *gorm.DB) ProfileRepository {
	return &profileRepository{newTable[models.ProfileRecord](db, "profiles",
		"id", "username", "display_name", "created_at")}
}

func (r *profileRepository) Find(ctx context.Context, q Query) ([]models.ProfileRecord, error) {
	return r.find(ctx, q)
}

func (r *profileRepository) Create(ctx context.Context, p *models.ProfileRecord) error {
	return r.create(ctx, p)
}

func (r *profileRepository) Update(ctx context.Context, q Query, ownerID string, fields map[string]interface{}) ([]models.ProfileRecord, error) {
	scoped := q.Eq("id", ownerID)
	scoped.Order, scoped.Limit = nil, 0

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return scoped.Apply(tx.Model(&models.ProfileRecord{})).Updates(fields).Error
	})
	if err != nil {
		return nil, r.fail(ctx, "update", err)
	}
	r.log.LogWrite(ctx, "update", map[string]interface{}{"id": ownerID})
	return r.find(ctx, scoped)
}
