package repository

import (
	"context"

	"ikak/internal/models"

	"gorm.io/gorm"
)

// LikeRepository defines persistence operations for likes.
type LikeRepository interface {
	Columns() map[string]bool
	Find(ctx context.Context, q Query) ([]models.LikeRecord, error)
	Create(ctx context.Context, l *models.LikeRecord) error
	Delete(ctx context.Context, q Query, ownerID string) ([]models.LikeRecord, error)
}

type likeRepository struct {
	table[models.LikeRecord]
}

// NewLikeRepository returns a LikeRepository.
func NewLikeRepository(db *gorm.DB) LikeRepository {
	return &likeRepository{newTable[models.LikeRecord](db, "likes", "post_id", "user_id")}
}

func (r *likeRepository) Find(ctx context.Context, q Query) ([]models.LikeRecord, error) {
	return r.find(ctx, q)
}

func (r *likeRepository) Create(ctx context.Context, l *models.LikeRecord) error {
	return r.create(ctx, l)
}

func (r *likeRepository) Delete(ctx context.Context, q Query, ownerID string) ([]models.LikeRecord, error) {
	scoped := q.Eq("user_id", ownerID)
	scoped.Order, scoped.Limit = nil, 0
	deleted := []models.LikeRecord{}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := scoped.Apply(tx).Find(&deleted).Error; err != nil {
			return err
		}
		if len(deleted) == 0 {
			return nil
		}
		return scoped.Apply(tx).Delete(&models.LikeRecord{}).Error
	})
	if err != nil {
		return nil, r.fail(ctx, "delete", err)
	}
	return deleted, nil
}
