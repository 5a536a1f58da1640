package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"ikak/internal/middleware"
	"ikak/internal/models"
	"ikak/internal/repository"

	"github.com/gofiber/fiber/v2"
)

// rowSource is the read and insert side shared by every table repository.
type rowSource[T any] interface {
	Columns() map[string]bool
	Find(ctx context.Context, q repository.Query) ([]T, error)
	Create(ctx context.Context, row *T) error
}

// restTable serves one /rest/v1 table. Reads are public; writes apply the
// table's row-level rules against the caller's user ID.
type restTable[T any] struct {
	name string
	repo rowSource[T]
	// owner points at the column that must equal the caller on insert.
	owner func(row *T) *string
	// check validates a row before insert.
	check func(ctx context.Context, row *T) error
	// patch and del are nil when the table does not allow the operation.
	patch     func(ctx context.Context, q repository.Query, ownerID string, fields map[string]interface{}) ([]T, error)
	patchable map[string]bool
	del       func(ctx context.Context, q repository.Query, ownerID string) ([]T, error)
}

// tableHandlers is the route set of one table.
type tableHandlers struct {
	list, insert, update, remove fiber.Handler
}

func handlersFor[T any](t *restTable[T]) tableHandlers {
	return tableHandlers{list: t.list, insert: t.insert, update: t.update, remove: t.remove}
}

func (s *Server) tables() map[string]tableHandlers {
	profiles := &restTable[models.ProfileRecord]{
		name:  "profiles",
		repo:  s.profileRepo,
		owner: func(p *models.ProfileRecord) *string { return &p.ID },
		check: func(_ context.Context, p *models.ProfileRecord) error {
			if strings.TrimSpace(p.Username) == "" {
				return models.NewValidationError(`null value in column "username" violates not-null constraint`)
			}
			return nil
		},
		patch:     s.profileRepo.Update,
		patchable: repository.ProfileUpdatableColumns,
	}
	posts := &restTable[models.PostRecord]{
		name:  "posts",
		repo:  s.postRepo,
		owner: func(p *models.PostRecord) *string { return &p.UserID },
		check: func(_ context.Context, p *models.PostRecord) error {
			return requireContent(p.Content)
		},
		del: s.postRepo.Delete,
	}
	likes := &restTable[models.LikeRecord]{
		name:  "likes",
		repo:  s.likeRepo,
		owner: func(l *models.LikeRecord) *string { return &l.UserID },
		check: func(ctx context.Context, l *models.LikeRecord) error {
			return s.requirePost(ctx, "likes", l.PostID)
		},
		del: s.likeRepo.Delete,
	}
	comments := &restTable[models.CommentRecord]{
		name:  "comments",
		repo:  s.commentRepo,
		owner: func(cm *models.CommentRecord) *string { return &cm.UserID },
		check: func(ctx context.Context, cm *models.CommentRecord) error {
			if err := requireContent(cm.Content); err != nil {
				return err
			}
			return s.requirePost(ctx, "comments", cm.PostID)
		},
	}

	return map[string]tableHandlers{
		"profiles": handlersFor(profiles),
		"posts":    handlersFor(posts),
		"likes":    handlersFor(likes),
		"comments": handlersFor(comments),
	}
}

func requireContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return models.NewValidationError(`null value in column "content" violates not-null constraint`)
	}
	return nil
}

// requirePost emulates the post_id foreign key.
func (s *Server) requirePost(ctx context.Context, table, postID string) error {
	if postID == "" {
		return models.NewValidationError(`null value in column "post_id" violates not-null constraint`)
	}
	rows, err := s.postRepo.Find(ctx, repository.Query{}.Eq("id", postID))
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return models.NewConflictError(fmt.Sprintf(
			`insert or update on table %q violates foreign key constraint "%s_post_id_fkey"`, table, table))
	}
	return nil
}

// list handles GET /rest/v1/<table>.
func (t *restTable[T]) list(c *fiber.Ctx) error {
	q, err := t.query(c)
	if err != nil {
		return respondTableError(c, err)
	}
	rows, err := t.repo.Find(c.UserContext(), q)
	if err != nil {
		return respondTableError(c, err)
	}
	return c.JSON(rows)
}

// insert handles POST /rest/v1/<table> with one object or an array of them.
func (t *restTable[T]) insert(c *fiber.Ctx) error {
	rows, err := decodeRows[T](c.Body())
	if err != nil {
		return respondTableError(c, err)
	}

	uid := middleware.UserID(c)
	for i := range rows {
		owner := t.owner(&rows[i])
		if *owner == "" {
			*owner = uid
		}
		if *owner != uid {
			return respondTableError(c, rlsViolation(t.name))
		}
		if err := t.check(c.UserContext(), &rows[i]); err != nil {
			return respondTableError(c, err)
		}
	}
	for i := range rows {
		if err := t.repo.Create(c.UserContext(), &rows[i]); err != nil {
			return respondTableError(c, err)
		}
	}

	if !wantsRepresentation(c) {
		return c.SendStatus(fiber.StatusCreated)
	}
	return c.Status(fiber.StatusCreated).JSON(rows)
}

// update handles PATCH /rest/v1/<table>. Rows the caller does not own are
// left alone, as row-level security would.
func (t *restTable[T]) update(c *fiber.Ctx) error {
	if t.patch == nil {
		return respondTableError(c, rlsViolation(t.name))
	}
	q, err := t.query(c)
	if err != nil {
		return respondTableError(c, err)
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(c.Body(), &fields); err != nil || len(fields) == 0 {
		return respondTableError(c, models.NewValidationError("Request body must be a non-empty JSON object"))
	}
	for column := range fields {
		if !t.patchable[column] {
			return respondTableError(c, models.NewValidationError(
				fmt.Sprintf("Column %q of relation %q cannot be updated", column, t.name)))
		}
	}

	rows, err := t.patch(c.UserContext(), q, middleware.UserID(c), fields)
	if err != nil {
		return respondTableError(c, err)
	}
	if !wantsRepresentation(c) {
		return c.SendStatus(fiber.StatusNoContent)
	}
	return c.JSON(rows)
}

// remove handles DELETE /rest/v1/<table>. It requires at least one filter so
// a bare DELETE cannot wipe the caller's rows.
func (t *restTable[T]) remove(c *fiber.Ctx) error {
	if t.del == nil {
		return respondTableError(c, rlsViolation(t.name))
	}
	q, err := t.query(c)
	if err != nil {
		return respondTableError(c, err)
	}
	if len(q.Filters) == 0 {
		return respondTableError(c, models.NewValidationError("DELETE requires a WHERE clause"))
	}

	rows, err := t.del(c.UserContext(), q, middleware.UserID(c))
	if err != nil {
		return respondTableError(c, err)
	}
	if !wantsRepresentation(c) {
		return c.SendStatus(fiber.StatusNoContent)
	}
	return c.JSON(rows)
}

func (t *restTable[T]) query(c *fiber.Ctx) (repository.Query, error) {
	values, err := url.ParseQuery(string(c.Request().URI().QueryString()))
	if err != nil {
		return repository.Query{}, fmt.Errorf("%w: %v", repository.ErrInvalidFilter, err)
	}
	values.Del("apikey")
	return repository.ParseQuery(values, t.repo.Columns())
}

// decodeRows accepts a JSON object or an array of objects.
func decodeRows[T any](body []byte) ([]T, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, models.NewValidationError("Empty request body")
	}
	if body[0] == '[' {
		var rows []T
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, models.NewValidationError("Invalid JSON array")
		}
		if len(rows) == 0 {
			return nil, models.NewValidationError("Empty request body")
		}
		return rows, nil
	}
	var row T
	if err := json.Unmarshal(body, &row); err != nil {
		return nil, models.NewValidationError("Invalid JSON object")
	}
	return []T{row}, nil
}

func wantsRepresentation(c *fiber.Ctx) bool {
	return strings.Contains(c.Get("Prefer"), "return=representation")
}

func rlsViolation(table string) error {
	return models.NewForbiddenError(fmt.Sprintf("new row violates row-level security policy for table %q", table))
}

func respondTableError(c *fiber.Ctx, err error) error {
	if errors.Is(err, repository.ErrInvalidFilter) {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError(err.Error()))
	}
	return models.RespondWithError(c, models.StatusFor(err), err)
}
