// Package repository implements the platform emulator's data access layer.
package repository

import (
	"context"
	"errors"

	"ikak/internal/models"
	"ikak/internal/observability"

	"gorm.io/gorm"
)

// table holds what every row repository needs: the connection, the
// filterable columns and the instrumentation for one table.
type table[T any] struct {
	db      *gorm.DB
	name    string
	columns map[string]bool
	log     *observability.RepoLogger
	metrics *observability.DatabaseMetrics
}

func newTable[T any](db *gorm.DB, name string, columns ...string) table[T] {
	allowed := make(map[string]bool, len(columns))
	for _, c := range columns {
		allowed[c] = true
	}
	return table[T]{
		db:      db,
		name:    name,
		columns: allowed,
		log:     observability.NewRepoLogger(name),
		metrics: observability.NewDatabaseMetrics(),
	}
}

// Columns returns the columns clients may filter and order on.
func (t table[T]) Columns() map[string]bool {
	return t.columns
}

func (t table[T]) find(ctx context.Context, q Query) ([]T, error) {
	ctx, span := observability.TraceRepositoryMethod(ctx, "Find", t.name)
	defer span.End()
	defer t.metrics.TrackQuery("find", t.name)()

	rows := []T{}
	if err := q.Apply(t.db.WithContext(ctx)).Find(&rows).Error; err != nil {
		return nil, t.fail(ctx, "find", err)
	}
	return rows, nil
}

func (t table[T]) create(ctx context.Context, row *T) error {
	ctx, span := observability.TraceRepositoryMethod(ctx, "Create", t.name)
	defer span.End()
	defer t.metrics.TrackQuery("create", t.name)()

	if err := t.db.WithContext(ctx).Create(row).Error; err != nil {
		return t.fail(ctx, "create", err)
	}
	t.log.LogWrite(ctx, "create", nil)
	return nil
}

// fail records err and maps it onto an AppError.
func (t table[T]) fail(ctx context.Context, op string, err error) error {
	observability.RecordErrorInContext(ctx, err)
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return models.NewConflictError("duplicate key value violates unique constraint")
	case errors.Is(err, gorm.ErrRecordNotFound):
		return models.NewNotFoundError(t.name, "")
	}
	t.log.LogError(ctx, err, op)
	return models.NewInternalError(err)
}
