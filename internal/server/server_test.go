package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"ikak/internal/backend"
	"ikak/internal/config"
	"ikak/internal/database"
	"ikak/internal/repository"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
)

const (
	testAnonKey = "anon-test-key"
	testSecret  = "test-secret-key-12345678901234567890123456789012"
)

func testConfig(flags string) *config.Config {
	return &config.Config{
		Env:                   "test",
		JWTSecret:             testSecret,
		AnonKey:               testAnonKey,
		FeatureFlags:          flags,
		AccessTokenTTLMinutes: 60,
		SiteURL:               "http://site.test",
		BackendURL:            "http://platform.test",
		AllowedOrigins:        "http://site.test",
	}
}

func setupTestServer(t *testing.T, flags string) (*Server, *fiber.App) {
	t.Helper()
	db, err := database.Open(sqlite.Open(":memory:"), false)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	srv, err := NewServerWithDeps(testConfig(flags), db, nil)
	require.NoError(t, err)
	return srv, srv.NewApp()
}

type call struct {
	method  string
	path    string
	token   string
	body    any
	prefer  bool
	noKey   bool
	headers map[string]string
}

func do(t *testing.T, app *fiber.App, c call) (int, []byte, http.Header) {
	t.Helper()
	var body io.Reader
	if c.body != nil {
		raw, err := json.Marshal(c.body)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(c.method, c.path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if !c.noKey {
		req.Header.Set("apikey", testAnonKey)
	}
	bearer := c.token
	if bearer == "" {
		bearer = testAnonKey
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	if c.prefer {
		req.Header.Set("Prefer", "return=representation")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw, resp.Header
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return out
}

func signUp(t *testing.T, app *fiber.App, email string) *backend.Session {
	t.Helper()
	status, raw, _ := do(t, app, call{
		method: http.MethodPost,
		path:   "/auth/v1/signup",
		body:   map[string]any{"email": email, "password": "secret1", "data": map[string]any{"username": "ann"}},
	})
	require.Equal(t, http.StatusOK, status, string(raw))
	resp := decode[signupResponse](t, raw)
	require.NotNil(t, resp.Session)
	return resp.Session
}

func errorMessage(t *testing.T, raw []byte) string {
	t.Helper()
	return decode[map[string]any](t, raw)["error"].(string)
}

func TestAuth_PasswordFlow(t *testing.T) {
	_, app := setupTestServer(t, "email_confirmation=off")

	session := signUp(t, app, "Ann@Example.com")
	assert.Equal(t, "ann@example.com", session.User.Email)
	assert.Equal(t, "ann", session.User.MetadataString("username"))
	assert.Equal(t, 3600, session.ExpiresIn)

	t.Run("password grant", func(t *testing.T) {
		status, raw, _ := do(t, app, call{
			method: http.MethodPost,
			path:   "/auth/v1/token?grant_type=password",
			body:   map[string]string{"email": "ann@example.com", "password": "secret1"},
		})
		require.Equal(t, http.StatusOK, status, string(raw))
		s := decode[backend.Session](t, raw)
		assert.Equal(t, session.User.ID, s.User.ID)
		assert.NotEmpty(t, s.AccessToken)
	})

	t.Run("wrong password", func(t *testing.T) {
		status, raw, _ := do(t, app, call{
			method: http.MethodPost,
			path:   "/auth/v1/token?grant_type=password",
			body:   map[string]string{"email": "ann@example.com", "password": "nope123"},
		})
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "Invalid login credentials", errorMessage(t, raw))
	})

	t.Run("unknown grant", func(t *testing.T) {
		status, _, _ := do(t, app, call{
			method: http.MethodPost,
			path:   "/auth/v1/token?grant_type=magic",
			body:   map[string]string{},
		})
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("user", func(t *testing.T) {
		status, raw, _ := do(t, app, call{method: http.MethodGet, path: "/auth/v1/user", token: session.AccessToken})
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, session.User.ID, decode[backend.AuthUser](t, raw).ID)

		status, _, _ = do(t, app, call{method: http.MethodGet, path: "/auth/v1/user"})
		assert.Equal(t, http.StatusUnauthorized, status, "the anon key is not a user")
	})

	t.Run("refresh then logout", func(t *testing.T) {
		status, raw, _ := do(t, app, call{
			method: http.MethodPost,
			path:   "/auth/v1/token?grant_type=refresh_token",
			body:   map[string]string{"refresh_token": session.RefreshToken},
		})
		require.Equal(t, http.StatusOK, status, string(raw))
		refreshed := decode[backend.Session](t, raw)

		status, _, _ = do(t, app, call{method: http.MethodPost, path: "/auth/v1/logout", token: refreshed.AccessToken})
		assert.Equal(t, http.StatusNoContent, status)

		status, raw, _ = do(t, app, call{
			method: http.MethodPost,
			path:   "/auth/v1/token?grant_type=refresh_token",
			body:   map[string]string{"refresh_token": refreshed.RefreshToken},
		})
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Contains(t, errorMessage(t, raw), "Invalid Refresh Token")
	})

	t.Run("existing email", func(t *testing.T) {
		status, raw, _ := do(t, app, call{
			method: http.MethodPost,
			path:   "/auth/v1/signup",
			body:   map[string]any{"email": "ann@example.com", "password": "other12"},
		})
		require.Equal(t, http.StatusOK, status)
		resp := decode[signupResponse](t, raw)
		assert.Nil(t, resp.Session)
		require.NotNil(t, resp.User.Identities)
		assert.Empty(t, resp.User.Identities)
	})
}

func TestAuth_ConfirmationFlow(t *testing.T) {
	srv, app := setupTestServer(t, "email_confirmation=on")

	status, raw, _ := do(t, app, call{
		method: http.MethodPost,
		path:   "/auth/v1/signup?redirect_to=" + url.QueryEscape("http://site.test/"),
		body:   map[string]any{"email": "bob@example.com", "password": "secret1"},
	})
	require.Equal(t, http.StatusOK, status)
	resp := decode[signupResponse](t, raw)
	assert.Nil(t, resp.Session)
	assert.Len(t, resp.User.Identities, 1)

	status, raw, _ = do(t, app, call{
		method: http.MethodPost,
		path:   "/auth/v1/token?grant_type=password",
		body:   map[string]string{"email": "bob@example.com", "password": "secret1"},
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Email not confirmed", errorMessage(t, raw))

	account, err := repository.NewAccountRepository(srv.db).GetByEmail(context.Background(), "bob@example.com")
	require.NoError(t, err)

	t.Run("foreign redirect falls back to the site", func(t *testing.T) {
		assert.Equal(t, "http://site.test", srv.redirectTarget("https://evil.test/"))
		assert.Equal(t, "http://site.test/feed", srv.redirectTarget("http://site.test/feed"))
		assert.Equal(t, "", srv.redirectTarget(""))
	})

	status, _, header := do(t, app, call{
		method: http.MethodGet,
		path:   "/auth/v1/verify?type=signup&token=" + account.ConfirmToken + "&redirect_to=" + url.QueryEscape("http://site.test/"),
		noKey:  true,
	})
	require.Equal(t, http.StatusSeeOther, status)
	assert.True(t, strings.HasPrefix(header.Get("Location"), "http://site.test/#access_token="), header.Get("Location"))

	status, _, _ = do(t, app, call{
		method: http.MethodPost,
		path:   "/auth/v1/token?grant_type=password",
		body:   map[string]string{"email": "bob@example.com", "password": "secret1"},
	})
	assert.Equal(t, http.StatusOK, status)

	status, _, _ = do(t, app, call{method: http.MethodGet, path: "/auth/v1/verify?token=" + account.ConfirmToken, noKey: true})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPIKeyIsRequired(t *testing.T) {
	_, app := setupTestServer(t, "")

	status, raw, _ := do(t, app, call{method: http.MethodGet, path: "/rest/v1/posts", noKey: true})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "No API key found in request", errorMessage(t, raw))

	status, _, _ = do(t, app, call{method: http.MethodGet, path: "/rest/v1/posts", headers: map[string]string{"apikey": "wrong"}})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestRest_Profiles(t *testing.T) {
	_, app := setupTestServer(t, "")
	ann := signUp(t, app, "ann@example.com")
	bob := signUp(t, app, "bob@example.com")

	status, raw, _ := do(t, app, call{
		method: http.MethodPost, path: "/rest/v1/profiles", token: ann.AccessToken, prefer: true,
		body: backend.Profile{ID: ann.User.ID, Username: "ann", DisplayName: "Ann"},
	})
	require.Equal(t, http.StatusCreated, status, string(raw))
	created := decode[[]backend.Profile](t, raw)
	require.Len(t, created, 1)
	assert.False(t, created[0].CreatedAt.IsZero())

	t.Run("insert for someone else is forbidden", func(t *testing.T) {
		status, _, _ := do(t, app, call{
			method: http.MethodPost, path: "/rest/v1/profiles", token: bob.AccessToken,
			body: backend.Profile{ID: ann.User.ID, Username: "mallory"},
		})
		assert.Equal(t, http.StatusForbidden, status)
	})

	t.Run("anonymous insert is unauthorized", func(t *testing.T) {
		status, _, _ := do(t, app, call{
			method: http.MethodPost, path: "/rest/v1/profiles",
			body: backend.Profile{ID: bob.User.ID, Username: "bob"},
		})
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("taken username conflicts", func(t *testing.T) {
		status, _, _ := do(t, app, call{
			method: http.MethodPost, path: "/rest/v1/profiles", token: bob.AccessToken,
			body: backend.Profile{ID: bob.User.ID, Username: "ann"},
		})
		assert.Equal(t, http.StatusConflict, status)
	})

	t.Run("public read by username", func(t *testing.T) {
		status, raw, _ := do(t, app, call{method: http.MethodGet, path: "/rest/v1/profiles?select=*&username=eq.ann"})
		require.Equal(t, http.StatusOK, status)
		rows := decode[[]backend.Profile](t, raw)
		require.Len(t, rows, 1)
		assert.Equal(t, ann.User.ID, rows[0].ID)

		status, raw, _ = do(t, app, call{method: http.MethodGet, path: "/rest/v1/profiles?username=eq.nobody"})
		require.Equal(t, http.StatusOK, status)
		assert.JSONEq(t, "[]", string(raw))
	})

	t.Run("owner update", func(t *testing.T) {
		status, raw, _ := do(t, app, call{
			method: http.MethodPatch, path: "/rest/v1/profiles?id=eq." + ann.User.ID, token: ann.AccessToken, prefer: true,
			body: map[string]any{"bio": "hello", "display_name": "Ann A."},
		})
		require.Equal(t, http.StatusOK, status, string(raw))
		rows := decode[[]backend.Profile](t, raw)
		require.Len(t, rows, 1)
		assert.Equal(t, "hello", rows[0].Bio)
		assert.Equal(t, "Ann A.", rows[0].DisplayName)
	})

	t.Run("update of another row changes nothing", func(t *testing.T) {
		status, raw, _ := do(t, app, call{
			method: http.MethodPatch, path: "/rest/v1/profiles?id=eq." + ann.User.ID, token: bob.AccessToken, prefer: true,
			body: map[string]any{"bio": "pwned"},
		})
		require.Equal(t, http.StatusOK, status)
		assert.JSONEq(t, "[]", string(raw))
	})

	t.Run("protected columns cannot be patched", func(t *testing.T) {
		status, _, _ := do(t, app, call{
			method: http.MethodPatch, path: "/rest/v1/profiles?id=eq." + ann.User.ID, token: ann.AccessToken,
			body: map[string]any{"id": bob.User.ID},
		})
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("profiles cannot be deleted", func(t *testing.T) {
		status, _, _ := do(t, app, call{
			method: http.MethodDelete, path: "/rest/v1/profiles?id=eq." + ann.User.ID, token: ann.AccessToken,
		})
		assert.Equal(t, http.StatusForbidden, status)
	})
}

func TestRest_PostsLikesComments(t *testing.T) {
	_, app := setupTestServer(t, "")
	ann := signUp(t, app, "ann@example.com")
	bob := signUp(t, app, "bob@example.com")

	status, raw, _ := do(t, app, call{
		method: http.MethodPost, path: "/rest/v1/posts", token: ann.AccessToken, prefer: true,
		body: backend.PostRow{UserID: ann.User.ID, Content: "first"},
	})
	require.Equal(t, http.StatusCreated, status, string(raw))
	post := decode[[]backend.PostRow](t, raw)[0]
	assert.NotEmpty(t, post.ID)

	status, raw, _ = do(t, app, call{
		method: http.MethodPost, path: "/rest/v1/posts", token: bob.AccessToken,
		body: []backend.PostRow{{Content: "second"}},
	})
	require.Equal(t, http.StatusCreated, status, string(raw))
	assert.Empty(t, raw, "no representation without Prefer")

	t.Run("empty content is rejected", func(t *testing.T) {
		status, _, _ := do(t, app, call{
			method: http.MethodPost, path: "/rest/v1/posts", token: ann.AccessToken,
			body: backend.PostRow{Content: "   "},
		})
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("newest first", func(t *testing.T) {
		status, raw, _ := do(t, app, call{method: http.MethodGet, path: "/rest/v1/posts?select=*&order=created_at.desc"})
		require.Equal(t, http.StatusOK, status)
		rows := decode[[]backend.PostRow](t, raw)
		require.Len(t, rows, 2)
		assert.Equal(t, "second", rows[0].Content)
	})

	t.Run("likes", func(t *testing.T) {
		like := backend.Like{PostID: post.ID, UserID: bob.User.ID}
		status, _, _ := do(t, app, call{method: http.MethodPost, path: "/rest/v1/likes", token: bob.AccessToken, body: like})
		assert.Equal(t, http.StatusCreated, status)

		status, _, _ = do(t, app, call{method: http.MethodPost, path: "/rest/v1/likes", token: bob.AccessToken, body: like})
		assert.Equal(t, http.StatusConflict, status, "one like per user and post")

		status, _, _ = do(t, app, call{
			method: http.MethodPost, path: "/rest/v1/likes", token: bob.AccessToken,
			body: backend.Like{PostID: "missing", UserID: bob.User.ID},
		})
		assert.Equal(t, http.StatusConflict, status, "post must exist")

		status, _, _ = do(t, app, call{
			method: http.MethodPost, path: "/rest/v1/likes", token: bob.AccessToken,
			body: backend.Like{PostID: post.ID, UserID: ann.User.ID},
		})
		assert.Equal(t, http.StatusForbidden, status)

		status, raw, _ := do(t, app, call{method: http.MethodGet, path: "/rest/v1/likes?user_id=eq." + bob.User.ID})
		require.Equal(t, http.StatusOK, status)
		assert.Len(t, decode[[]backend.Like](t, raw), 1)
	})

	t.Run("comments", func(t *testing.T) {
		for _, content := range []string{"c1", "c2"} {
			status, raw, _ := do(t, app, call{
				method: http.MethodPost, path: "/rest/v1/comments", token: bob.AccessToken, prefer: true,
				body: backend.CommentRow{PostID: post.ID, Content: content},
			})
			require.Equal(t, http.StatusCreated, status, string(raw))
		}

		status, raw, _ := do(t, app, call{
			method: http.MethodGet,
			path:   "/rest/v1/comments?post_id=" + url.QueryEscape("in.("+post.ID+",other)") + "&order=created_at.asc",
		})
		require.Equal(t, http.StatusOK, status, string(raw))
		rows := decode[[]backend.CommentRow](t, raw)
		require.Len(t, rows, 2)
		assert.Equal(t, "c1", rows[0].Content)
		assert.Equal(t, bob.User.ID, rows[0].UserID)

		status, _, _ = do(t, app, call{
			method: http.MethodPost, path: "/rest/v1/comments", token: bob.AccessToken,
			body: backend.CommentRow{PostID: "missing", Content: "x"},
		})
		assert.Equal(t, http.StatusConflict, status)

		status, _, _ = do(t, app, call{
			method: http.MethodDelete, path: "/rest/v1/comments?post_id=eq." + post.ID, token: bob.AccessToken,
		})
		assert.Equal(t, http.StatusForbidden, status, "comments are append-only")
	})

	t.Run("delete", func(t *testing.T) {
		status, raw, _ := do(t, app, call{
			method: http.MethodDelete, path: "/rest/v1/posts?id=eq." + post.ID, token: bob.AccessToken, prefer: true,
		})
		require.Equal(t, http.StatusOK, status)
		assert.JSONEq(t, "[]", string(raw), "only the author can delete")

		status, _, _ = do(t, app, call{method: http.MethodDelete, path: "/rest/v1/posts", token: ann.AccessToken})
		assert.Equal(t, http.StatusBadRequest, status, "a filter is required")

		status, raw, _ = do(t, app, call{
			method: http.MethodDelete, path: "/rest/v1/posts?id=eq." + post.ID, token: ann.AccessToken, prefer: true,
		})
		require.Equal(t, http.StatusOK, status)
		require.Len(t, decode[[]backend.PostRow](t, raw), 1)

		_, raw, _ = do(t, app, call{method: http.MethodGet, path: "/rest/v1/likes?post_id=eq." + post.ID})
		assert.JSONEq(t, "[]", string(raw))
		_, raw, _ = do(t, app, call{method: http.MethodGet, path: "/rest/v1/comments?post_id=eq." + post.ID})
		assert.JSONEq(t, "[]", string(raw))
	})
}

func TestRest_BadRequests(t *testing.T) {
	_, app := setupTestServer(t, "")

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"unknown column", "/rest/v1/posts?content=eq.x", http.StatusBadRequest},
		{"unknown operator", "/rest/v1/posts?id=like.x", http.StatusBadRequest},
		{"bad order", "/rest/v1/posts?order=content.desc", http.StatusBadRequest},
		{"unknown table", "/rest/v1/accounts", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, raw, _ := do(t, app, call{method: http.MethodGet, path: tt.path})
			assert.Equal(t, tt.status, status, string(raw))
		})
	}
}

func TestHealth(t *testing.T) {
	_, app := setupTestServer(t, "")

	status, raw, _ := do(t, app, call{method: http.MethodGet, path: "/health", noKey: true})
	require.Equal(t, http.StatusOK, status)
	body := decode[map[string]any](t, raw)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "unavailable", body["checks"].(map[string]any)["redis"])

	status, _, _ = do(t, app, call{method: http.MethodGet, path: "/health/live", noKey: true})
	assert.Equal(t, http.StatusOK, status)
}

func TestAuthSettings(t *testing.T) {
	for _, tc := range []struct {
		flags       string
		autoconfirm bool
	}{
		{"email_confirmation=on", false},
		{"email_confirmation=off", true},
		{"", true},
	} {
		_, app := setupTestServer(t, tc.flags)
		status, raw, _ := do(t, app, call{method: http.MethodGet, path: "/auth/v1/settings"})
		require.Equal(t, http.StatusOK, status)
		body := decode[map[string]any](t, raw)
		assert.Equal(t, tc.autoconfirm, body["mailer_autoconfirm"], tc.flags)
	}
}
