package web

import (
	"context"
	"sync"
	"time"

	"ikak/internal/backend/rest"
	"ikak/internal/config"
	"ikak/internal/localstore"
	"ikak/internal/observability"
	"ikak/internal/store"

	"github.com/redis/go-redis/v9"
)

// Session is the client state of one browser session.
type Session struct {
	ID    string
	State *store.State

	lastSeen time.Time
	close    func()
}

// SessionFactory builds the client for a new browser session.
type SessionFactory func(ctx context.Context, id string) (*Session, error)

// NewSessionFactory returns the production factory: every session gets its
// own storage namespace, REST client and State. Storage lives in Redis when
// rdb is non-nil so a session survives a host restart.
func NewSessionFactory(cfg *config.Config, rdb *redis.Client) SessionFactory {
	storeCfg := StoreConfig(cfg)
	return func(_ context.Context, id string) (*Session, error) {
		var storage localstore.Storage
		if rdb != nil {
			storage = localstore.NewRedisStorage(rdb, id, cfg.SessionIdleTTL())
		} else {
			storage = localstore.NewMemoryStorage()
		}

		client := rest.NewClient(rest.Config{BaseURL: cfg.BackendURL, AnonKey: cfg.AnonKey}, storage)
		state := store.New(client.Backend(), storage, storeCfg)
		state.Start()

		return &Session{
			ID:    id,
			State: state,
			close: func() {
				state.Close()
				client.Close()
			},
		}, nil
	}
}

// StoreConfig maps the host configuration onto the client timings.
func StoreConfig(cfg *config.Config) store.Config {
	c := store.DefaultConfig()
	if cfg.RestoreAttempts > 0 {
		c.RestoreAttempts = cfg.RestoreAttempts
	}
	if cfg.RestoreDelayMS > 0 {
		c.RestoreDelay = time.Duration(cfg.RestoreDelayMS) * time.Millisecond
	}
	if cfg.RestoreTimeoutMS > 0 {
		c.RestoreTimeout = time.Duration(cfg.RestoreTimeoutMS) * time.Millisecond
	}
	if cfg.ActivateAttempts > 0 {
		c.ActivateAttempts = cfg.ActivateAttempts
	}
	if cfg.ActivateDelayMS > 0 {
		c.ActivateDelay = time.Duration(cfg.ActivateDelayMS) * time.Millisecond
	}
	c.RedirectURL = cfg.SiteURL
	return c
}

// Registry holds the live sessions and evicts the idle ones.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	factory  SessionFactory
	idleTTL  time.Duration
	now      func() time.Time
}

// NewRegistry returns an empty registry. A non-positive idleTTL disables eviction.
func NewRegistry(factory SessionFactory, idleTTL time.Duration) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		factory:  factory,
		idleTTL:  idleTTL,
		now:      time.Now,
	}
}

// Get returns the session for id, creating it on first use.
func (r *Registry) Get(ctx context.Context, id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		s.lastSeen = r.now()
		return s, nil
	}

	s, err := r.factory(ctx, id)
	if err != nil {
		return nil, err
	}
	s.ID = id
	s.lastSeen = r.now()
	r.sessions[id] = s
	observability.ActiveClientSessions.Inc()
	return s, nil
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep closes and drops the sessions idle for longer than the TTL and
// returns how many were evicted.
func (r *Registry) Sweep() int {
	if r.idleTTL <= 0 {
		return 0
	}
	r.mu.Lock()
	cutoff := r.now().Add(-r.idleTTL)
	var idle []*Session
	for id, s := range r.sessions {
		if s.lastSeen.Before(cutoff) {
			idle = append(idle, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range idle {
		s.shutdown()
		observability.ActiveClientSessions.Dec()
	}
	return len(idle)
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				observability.GlobalLogger.Info("evicted idle sessions", "count", n)
			}
		}
	}
}

// Close shuts down every session.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.shutdown()
		observability.ActiveClientSessions.Dec()
	}
}

func (s *Session) shutdown() {
	if s.close != nil {
		s.close()
	}
}
