// Package store holds the client application state: the session lifecycle,
// the signed-in user, the feed and local settings. One State serves one
// browser session and is safe for concurrent use.
package store

import (
	"context"
	"sync"
	"time"

	"ikak/internal/backend"
	"ikak/internal/localstore"
	"ikak/internal/models"
	"ikak/internal/observability"
	"ikak/internal/ratelimit"
)

// Config tunes the retry loops and the sign-up redirect.
type Config struct {
	RestoreAttempts  int
	RestoreDelay     time.Duration
	RestoreTimeout   time.Duration
	ActivateAttempts int
	ActivateDelay    time.Duration
	// RedirectURL is where the confirmation email sends the user.
	RedirectURL string
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		RestoreAttempts:  2,
		RestoreDelay:     500 * time.Millisecond,
		RestoreTimeout:   2 * time.Second,
		ActivateAttempts: 15,
		ActivateDelay:    500 * time.Millisecond,
	}
}

// Snapshot is a copy of the state for rendering.
type Snapshot struct {
	Phase           Phase              `json:"phase"`
	AuthLoading     bool               `json:"auth_loading"`
	IsAuthenticated bool               `json:"is_authenticated"`
	User            *models.User       `json:"user"`
	Posts           []models.Post      `json:"posts"`
	Settings        models.AppSettings `json:"settings"`
	Page            models.Page        `json:"page"`
}

// State is the application state of one client.
type State struct {
	mu       sync.Mutex
	phase    Phase
	user     *models.User
	posts    []models.Post
	settings models.AppSettings
	page     models.Page
	// epoch increments whenever the signed-in identity is torn down, so
	// results of work started before that can be recognised and dropped.
	epoch uint64

	backend  *backend.Backend
	pending  *localstore.PendingProfiles
	limiter  *ratelimit.Limiter
	resolver *Resolver
	cfg      Config
	log      *observability.StoreLogger

	subMu       sync.Mutex
	unsubscribe func()
}

// Option customises a State.
type Option func(*State)

// WithLimiter replaces the default rate limiter.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(s *State) { s.limiter = l }
}

// New returns a State in PhaseInitial. storage persists the pending profile.
func New(b *backend.Backend, storage localstore.Storage, cfg Config, opts ...Option) *State {
	pending := localstore.NewPendingProfiles(storage)
	s := &State{
		phase:    PhaseInitial,
		posts:    []models.Post{},
		settings: models.DefaultSettings(),
		page:     models.PageFeed,
		backend:  b,
		pending:  pending,
		limiter:  ratelimit.New(),
		resolver: NewResolver(b.Auth, b.Profiles, pending),
		cfg:      cfg,
		log:      observability.NewStoreLogger("store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns a deep copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Phase:           s.phase,
		AuthLoading:     s.phase.AuthLoading(),
		IsAuthenticated: s.phase == PhaseAuthenticated && s.user != nil,
		User:            copyUser(s.user),
		Posts:           clonePosts(s.posts),
		Settings:        s.settings,
		Page:            s.page,
	}
}

// Phase returns the lifecycle phase.
func (s *State) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// User returns a copy of the signed-in user, or nil.
func (s *State) User() *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyUser(s.user)
}

// Posts returns a copy of the feed.
func (s *State) Posts() []models.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clonePosts(s.posts)
}

// Settings returns the local settings.
func (s *State) Settings() models.AppSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// UpdateSettings merges a local-only settings patch.
func (s *State) UpdateSettings(u models.SettingsUpdate) models.AppSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = u.Apply(s.settings)
	return s.settings
}

// SetPage switches the current page.
func (s *State) SetPage(p models.Page) error {
	if !p.Valid() {
		return models.NewValidationError(s.msg(msgUnknownPage))
	}
	s.mu.Lock()
	s.page = p
	s.mu.Unlock()
	return nil
}

func (s *State) msg(key messageKey) string {
	s.mu.Lock()
	lang := s.settings.Language
	s.mu.Unlock()
	return message(lang, key)
}

// viewer returns the signed-in user and the current epoch.
func (s *State) viewer() (*models.User, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyUser(s.user), s.epoch
}

func (s *State) currentEpoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// adopt makes u the signed-in user unless the identity was torn down since
// epoch.
func (s *State) adopt(u *models.User, epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return false
	}
	s.user = copyUser(u)
	s.phase = PhaseAuthenticated
	return true
}

// teardown clears the identity and feed and moves to phase.
func (s *State) teardown(phase Phase) {
	s.user = nil
	s.posts = []models.Post{}
	s.phase = phase
	s.epoch++
}

// adoptAndFetch adopts u and loads the feed for it.
func (s *State) adoptAndFetch(ctx context.Context, u *models.User, epoch uint64) bool {
	if !s.adopt(u, epoch) {
		s.log.Info(ctx, "dropping stale user resolution", "user_id", u.ID)
		return false
	}
	if err := s.FetchPosts(ctx, u.ID); err != nil {
		s.log.Warn(ctx, "initial feed load failed", err)
	}
	return true
}

func copyUser(u *models.User) *models.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

func clonePosts(posts []models.Post) []models.Post {
	out := make([]models.Post, len(posts))
	for i, p := range posts {
		out[i] = p.Clone()
	}
	return out
}
