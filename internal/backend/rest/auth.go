package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"ikak/internal/backend"
	"ikak/internal/localstore"
	"ikak/internal/observability"
)

type authAPI struct {
	c *Client
}

type passwordGrant struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshGrant struct {
	RefreshToken string `json:"refresh_token"`
}

type signUpBody struct {
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Data     map[string]any `json:"data,omitempty"`
}

type signUpResponse struct {
	User    *backend.AuthUser `json:"user"`
	Session *backend.Session  `json:"session"`
}

// GetSession returns the stored session, refreshing it when the access token
// has expired. A refresh token the service rejects ends the session.
func (a *authAPI) GetSession(ctx context.Context) (*backend.Session, error) {
	s, err := a.c.currentSession(ctx)
	if err != nil || s == nil {
		return nil, err
	}
	if !s.Expired(a.c.now()) {
		return s, nil
	}
	return a.c.refresh(ctx, s)
}

func (a *authAPI) SignInWithPassword(ctx context.Context, email, password string) (*backend.Session, error) {
	var s backend.Session
	err := a.c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  url.Values{"grant_type": {"password"}},
		body:   passwordGrant{Email: email, Password: password},
	}, &s)
	if err != nil {
		return nil, err
	}
	if err := a.c.storeSession(ctx, &s); err != nil {
		return nil, err
	}
	a.c.events.Publish(backend.AuthChange{Event: backend.EventSignedIn, Session: &s})
	return &s, nil
}

func (a *authAPI) SignUp(ctx context.Context, email, password string, opts backend.SignUpOptions) (*backend.SignUpResult, error) {
	query := url.Values{}
	if opts.RedirectURL != "" {
		query.Set("redirect_to", opts.RedirectURL)
	}

	var resp signUpResponse
	err := a.c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/signup",
		query:  query,
		body:   signUpBody{Email: email, Password: password, Data: opts.Metadata},
	}, &resp)
	if err != nil {
		return nil, err
	}

	if resp.Session != nil && resp.Session.AccessToken != "" {
		if err := a.c.storeSession(ctx, resp.Session); err != nil {
			return nil, err
		}
		a.c.events.Publish(backend.AuthChange{Event: backend.EventSignedIn, Session: resp.Session})
	} else {
		resp.Session = nil
	}
	return &backend.SignUpResult{User: resp.User, Session: resp.Session}, nil
}

// SignOut revokes the session remotely and always forgets it locally.
func (a *authAPI) SignOut(ctx context.Context) error {
	s, _ := a.c.currentSession(ctx)

	var remoteErr error
	if s != nil {
		remoteErr = a.c.do(ctx, request{
			method: http.MethodPost,
			path:   "/auth/v1/logout",
			bearer: s.AccessToken,
		}, nil)
	}

	if err := a.c.clearSession(ctx); err != nil {
		return err
	}
	a.c.events.Publish(backend.AuthChange{Event: backend.EventSignedOut})
	return remoteErr
}

func (a *authAPI) OnAuthStateChange(fn func(backend.AuthChange)) func() {
	return a.c.events.Subscribe(fn)
}

// GetUser fetches the account behind the current access token.
func (c *Client) GetUser(ctx context.Context) (*backend.AuthUser, error) {
	token := c.accessToken(ctx)
	if token == "" {
		return nil, nil
	}
	var u backend.AuthUser
	if err := c.do(ctx, request{method: http.MethodGet, path: "/auth/v1/user", bearer: token}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) currentSession(ctx context.Context) (*backend.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return c.session, nil
	}

	raw, ok, err := c.storage.Get(ctx, localstore.SessionKey)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	c.loaded = true
	if !ok {
		return nil, nil
	}
	var s backend.Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil || s.AccessToken == "" {
		observability.GlobalLogger.WarnContext(ctx, "discarding unreadable stored session")
		_ = c.storage.Remove(ctx, localstore.SessionKey)
		return nil, nil
	}
	c.session = &s
	return c.session, nil
}

func (c *Client) storeSession(ctx context.Context, s *backend.Session) error {
	if s.ExpiresAt == 0 && s.ExpiresIn > 0 {
		s.ExpiresAt = c.now().Add(time.Duration(s.ExpiresIn) * time.Second).Unix()
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.storage.Set(ctx, localstore.SessionKey, string(raw)); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	c.session = s
	c.loaded = true
	return nil
}

func (c *Client) clearSession(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = nil
	c.loaded = true
	return c.storage.Remove(ctx, localstore.SessionKey)
}

// refresh exchanges the refresh token of stale for a new session. Concurrent
// callers holding the same stale session share one exchange.
func (c *Client) refresh(ctx context.Context, stale *backend.Session) (*backend.Session, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	current, err := c.currentSession(ctx)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, nil
	}
	if current.AccessToken != stale.AccessToken && !current.Expired(c.now()) {
		return current, nil
	}

	var s backend.Session
	err = c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  url.Values{"grant_type": {"refresh_token"}},
		body:   refreshGrant{RefreshToken: current.RefreshToken},
	}, &s)
	if err != nil {
		if isAPIError(err) || errors.Is(err, backend.ErrNotFound) {
			observability.GlobalLogger.InfoContext(ctx, "refresh token rejected, ending session", slog.String("error", err.Error()))
			if clearErr := c.clearSession(ctx); clearErr != nil {
				return nil, clearErr
			}
			c.events.Publish(backend.AuthChange{Event: backend.EventSignedOut})
			return nil, nil
		}
		return nil, err
	}

	if err := c.storeSession(ctx, &s); err != nil {
		return nil, err
	}
	c.events.Publish(backend.AuthChange{Event: backend.EventTokenRefreshed, Session: &s})
	return &s, nil
}

// accessToken returns the bearer for table calls: the session token when
// signed in, else "" so the anon key is used.
func (c *Client) accessToken(ctx context.Context) string {
	s, err := (&authAPI{c: c}).GetSession(ctx)
	if err != nil {
		observability.GlobalLogger.WarnContext(ctx, "session lookup failed, using anon key", slog.String("error", err.Error()))
		return ""
	}
	if s == nil {
		return ""
	}
	return s.AccessToken
}
