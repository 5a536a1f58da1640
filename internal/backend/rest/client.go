// Package rest implements the backend contract over the hosted service's
// HTTP API: /auth/v1 for accounts and sessions, /rest/v1 for tables.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"ikak/internal/backend"
	"ikak/internal/localstore"
	"ikak/internal/observability"
)

// Config holds the service endpoint and public key.
type Config struct {
	BaseURL string
	AnonKey string
	Timeout time.Duration
}

// Client talks to the hosted backend on behalf of one browser session.
type Client struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
	storage    localstore.Storage
	events     *backend.Broadcaster
	now        func() time.Time

	mu        sync.Mutex
	refreshMu sync.Mutex
	session   *backend.Session
	loaded    bool
}

// NewClient returns a client that persists its session in storage.
func NewClient(cfg Config, storage localstore.Storage) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		anonKey:    cfg.AnonKey,
		httpClient: &http.Client{Timeout: timeout},
		storage:    storage,
		events:     backend.NewBroadcaster(),
		now:        time.Now,
	}
}

// WithHTTPClient swaps the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// Backend exposes the client through the backend contract.
func (c *Client) Backend() *backend.Backend {
	return &backend.Backend{
		Auth:     &authAPI{c: c},
		Profiles: &profilesTable{c: c},
		Posts:    &postsTable{c: c},
		Likes:    &likesTable{c: c},
		Comments: &commentsTable{c: c},
	}
}

// Close stops event delivery.
func (c *Client) Close() {
	c.events.Close()
}

type request struct {
	method  string
	path    string
	query   url.Values
	body    any
	headers map[string]string
	// bearer overrides the session token.
	bearer string
}

// errorBody covers both the auth and the table error shapes.
type errorBody struct {
	Code             string `json:"code"`
	ErrorCode        string `json:"error_code"`
	Message          string `json:"message"`
	Msg              string `json:"msg"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (e errorBody) text() string {
	for _, s := range []string{e.Message, e.Msg, e.ErrorDescription, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

func (c *Client) do(ctx context.Context, r request, out any) error {
	span, ctx := observability.StartBackendSpan(ctx, r.method, r.path)
	defer span.End()

	fullURL := c.baseURL + r.path
	if len(r.query) > 0 {
		fullURL += "?" + r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		raw, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, fullURL, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	bearer := r.bearer
	if bearer == "" {
		bearer = c.anonKey
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.SetError(err)
		return fmt.Errorf("http %s %s: %w", r.method, r.path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		span.SetError(err)
		return fmt.Errorf("read body: %w", err)
	}

	observability.GlobalLogger.DebugContext(ctx, "backend response",
		slog.String("method", r.method),
		slog.String("path", r.path),
		slog.Int("status", resp.StatusCode),
		slog.Int("bytes", len(raw)),
	)

	if resp.StatusCode >= http.StatusMultipleChoices {
		err := statusError(resp.StatusCode, raw)
		span.SetError(err)
		return err
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}

func statusError(status int, raw []byte) error {
	var eb errorBody
	_ = json.Unmarshal(raw, &eb)

	switch status {
	case http.StatusNotFound:
		return backend.ErrNotFound
	case http.StatusConflict:
		if msg := eb.text(); msg != "" {
			return fmt.Errorf("%w: %s", backend.ErrConflict, msg)
		}
		return backend.ErrConflict
	}

	code := eb.Code
	if code == "" {
		code = eb.ErrorCode
	}
	msg := eb.text()
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &backend.APIError{Status: status, Code: code, Message: msg}
}

// isAPIError reports whether err is a definitive answer from the service
// rather than a transport failure.
func isAPIError(err error) bool {
	var apiErr *backend.APIError
	return errors.As(err, &apiErr)
}
