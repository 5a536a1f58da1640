package repository

import (
	"context"

	"ikak/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PostRepository defines persistence operations for posts.
type PostRepository interface {
	Columns() map[string]bool
	Find(ctx context.Context, q Query) ([]models.PostRecord, error)
	Create(ctx context.Context, p *models.PostRecord) error
	// Delete removes the rows matching q that belong to ownerID, with their
	// likes and comments, and returns the removed posts.
	Delete(ctx context.Context, q Query, ownerID string) ([]models.PostRecord, error)
}

type postRepository struct {
	table[models.PostRecord]
}

// NewPostRepository creates a new post repository
func NewPostRepository(db *gorm.DB) PostRepository {
	return &postRepository{newTable[models.PostRecord](db, "posts", "id", "user_id", "created_at")}
}

func (r *postRepository) Find(ctx context.Context, q Query) ([]models.PostRecord, error) {
	return r.find(ctx, q)
}

func (r *postRepository) Create(ctx context.Context, p *models.PostRecord) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return r.create(ctx, p)
}

func (r *postRepository) Delete(ctx context.Context, q Query, ownerID string) ([]models.PostRecord, error) {
	scoped := q.Eq("user_id", ownerID)
	var deleted []models.PostRecord

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := scoped.Apply(tx).Find(&deleted).Error; err != nil {
			return err
		}
		if len(deleted) == 0 {
			return nil
		}
		ids := make([]string, len(deleted))
		for i, p := range deleted {
			ids[i] = p.ID
		}
		if err := tx.Where("post_id IN ?", ids).Delete(&models.LikeRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("post_id IN ?", ids).Delete(&models.CommentRecord{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Delete(&models.PostRecord{}).Error
	})
	if err != nil {
		return nil, r.fail(ctx, "delete", err)
	}
	if len(deleted) > 0 {
		r.log.LogWrite(ctx, "delete", map[string]interface{}{"count": len(deleted)})
	}
	if deleted == nil {
		deleted = []models.PostRecord{}
	}
	return deleted, nil
}
