package repository

import (
	"context"

	"ikak/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CommentRepository defines persistence operations for comments. Comments
// are append-only.
type CommentRepository interface {
	Columns() map[string]bool
	Find(ctx context.Context, q Query) ([]models.CommentRecord, error)
	Create(ctx context.Context, c *models.CommentRecord) error
}

type commentRepository struct {
	table[models.CommentRecord]
}

// NewCommentRepository returns a CommentRepository.
func NewCommentRepository(db *gorm.DB) CommentRepository {
	return &commentRepository{newTable[models.CommentRecord](db, "comments", "id", "post_id", "user_id", "created_at")}
}

func (r *commentRepository) Find(ctx context.Context, q Query) ([]models.CommentRecord, error) {
	return r.find(ctx, q)
}

func (r *commentRepository) Create(ctx context.Context, c *models.CommentRecord) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return r.create(ctx, c)
}
