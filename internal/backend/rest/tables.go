package rest

import (
	"context"
	"net/http"

	"ikak/internal/backend"
)

var returnRepresentation = map[string]string{"Prefer": "return=representation"}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (c *Client) table(ctx context.Context, method, name string, q *query, body any, headers map[string]string, out any) error {
	r := request{
		method:  method,
		path:    "/rest/v1/" + name,
		body:    body,
		headers: headers,
		bearer:  c.accessToken(ctx),
	}
	if q != nil {
		r.query = q.encode()
	}
	return c.do(ctx, r, out)
}

func first[T any](rows []T) (*T, error) {
	if len(rows) == 0 {
		return nil, backend.ErrNotFound
	}
	return &rows[0], nil
}

type profilesTable struct {
	c *Client
}

func (t *profilesTable) GetByID(ctx context.Context, id string) (*backend.Profile, error) {
	var rows []backend.Profile
	if err := t.c.table(ctx, http.MethodGet, "profiles", newQuery().eq("id", id), nil, nil, &rows); err != nil {
		return nil, err
	}
	return first(rows)
}

func (t *profilesTable) GetByUsername(ctx context.Context, username string) (*backend.Profile, error) {
	var rows []backend.Profile
	if err := t.c.table(ctx, http.MethodGet, "profiles", newQuery().eq("username", username), nil, nil, &rows); err != nil {
		return nil, err
	}
	return first(rows)
}

func (t *profilesTable) ListByIDs(ctx context.Context, ids []string) ([]backend.Profile, error) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []backend.Profile
	if err := t.c.table(ctx, http.MethodGet, "profiles", newQuery().in("id", ids), nil, nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (t *profilesTable) Insert(ctx context.Context, p backend.Profile) (*backend.Profile, error) {
	var rows []backend.Profile
	if err := t.c.table(ctx, http.MethodPost, "profiles", nil, p, returnRepresentation, &rows); err != nil {
		return nil, err
	}
	return first(rows)
}

func (t *profilesTable) Update(ctx context.Context, id string, fields map[string]any) (*backend.Profile, error) {
	var rows []backend.Profile
	if err := t.c.table(ctx, http.MethodPatch, "profiles", newQuery().eq("id", id), fields, returnRepresentation, &rows); err != nil {
		return nil, err
	}
	return first(rows)
}

type postsTable struct {
	c *Client
}

func (t *postsTable) ListRecent(ctx context.Context) ([]backend.PostRow, error) {
	var rows []backend.PostRow
	if err := t.c.table(ctx, http.MethodGet, "posts", newQuery().order("created_at", true), nil, nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (t *postsTable) Insert(ctx context.Context, p backend.PostRow) (*backend.PostRow, error) {
	var rows []backend.PostRow
	if err := t.c.table(ctx, http.MethodPost, "posts", nil, p, returnRepresentation, &rows); err != nil {
		return nil, err
	}
	return first(rows)
}

// Delete reports ErrNotFound when no row was removed, which includes rows
// the caller does not own.
func (t *postsTable) Delete(ctx context.Context, id string) error {
	var rows []backend.PostRow
	if err := t.c.table(ctx, http.MethodDelete, "posts", newQuery().eq("id", id), nil, returnRepresentation, &rows); err != nil {
		return err
	}
	_, err := first(rows)
	return err
}

type likesTable struct {
	c *Client
}

func (t *likesTable) List(ctx context.Context) ([]backend.Like, error) {
	var rows []backend.Like
	if err := t.c.table(ctx, http.MethodGet, "likes", newQuery(), nil, nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (t *likesTable) ListByUser(ctx context.Context, userID string) ([]backend.Like, error) {
	var rows []backend.Like
	if err := t.c.table(ctx, http.MethodGet, "likes", newQuery().eq("user_id", userID), nil, nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (t *likesTable) Insert(ctx context.Context, l backend.Like) error {
	return t.c.table(ctx, http.MethodPost, "likes", nil, l, nil, nil)
}

func (t *likesTable) Delete(ctx context.Context, l backend.Like) error {
	var rows []backend.Like
	q := newQuery().eq("post_id", l.PostID).eq("user_id", l.UserID)
	if err := t.c.table(ctx, http.MethodDelete, "likes", q, nil, returnRepresentation, &rows); err != nil {
		return err
	}
	_, err := first(rows)
	return err
}

type commentsTable struct {
	c *Client
}

func (t *commentsTable) ListByPostIDs(ctx context.Context, postIDs []string) ([]backend.CommentRow, error) {
	postIDs = uniqueIDs(postIDs)
	if len(postIDs) == 0 {
		return nil, nil
	}
	var rows []backend.CommentRow
	q := newQuery().in("post_id", postIDs).order("created_at", false)
	if err := t.c.table(ctx, http.MethodGet, "comments", q, nil, nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (t *commentsTable) Insert(ctx context.Context, cm backend.CommentRow) (*backend.CommentRow, error) {
	var rows []backend.CommentRow
	if err := t.c.table(ctx, http.MethodPost, "comments", nil, cm, returnRepresentation, &rows); err != nil {
		return nil, err
	}
	return first(rows)
}
