package web

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"ikak/internal/config"
	"ikak/internal/localstore"
	"ikak/internal/store"
	"ikak/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingFactory builds sessions on fake backends and counts creations and
// closes.
func countingFactory(created, closed *atomic.Int32) SessionFactory {
	return func(_ context.Context, id string) (*Session, error) {
		created.Add(1)
		fb := testutil.NewFakeBackend()
		st := store.New(fb.Backend(), localstore.NewMemoryStorage(), store.DefaultConfig())
		return &Session{ID: id, State: st, close: func() {
			closed.Add(1)
			st.Close()
			fb.Close()
		}}, nil
	}
}

func TestRegistry_GetReusesSessions(t *testing.T) {
	var created, closed atomic.Int32
	r := NewRegistry(countingFactory(&created, &closed), time.Minute)
	defer r.Close()
	ctx := context.Background()

	a, err := r.Get(ctx, "a")
	require.NoError(t, err)
	again, err := r.Get(ctx, "a")
	require.NoError(t, err)
	b, err := r.Get(ctx, "b")
	require.NoError(t, err)

	assert.Same(t, a, again)
	assert.NotSame(t, a, b)
	assert.Equal(t, int32(2), created.Load())
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_SweepEvictsIdle(t *testing.T) {
	var created, closed atomic.Int32
	r := NewRegistry(countingFactory(&created, &closed), 10*time.Minute)
	defer r.Close()
	ctx := context.Background()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	_, err := r.Get(ctx, "old")
	require.NoError(t, err)
	now = now.Add(8 * time.Minute)
	_, err = r.Get(ctx, "fresh")
	require.NoError(t, err)

	now = now.Add(5 * time.Minute)
	assert.Equal(t, 1, r.Sweep())
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, int32(1), closed.Load())

	// An evicted id starts over with a new session.
	_, err = r.Get(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, int32(3), created.Load())
}

func TestRegistry_ZeroTTLNeverEvicts(t *testing.T) {
	var created, closed atomic.Int32
	r := NewRegistry(countingFactory(&created, &closed), 0)
	_, err := r.Get(context.Background(), "a")
	require.NoError(t, err)

	r.now = func() time.Time { return time.Now().Add(24 * time.Hour) }
	assert.Zero(t, r.Sweep())

	r.Close()
	assert.Equal(t, int32(1), closed.Load())
	assert.Zero(t, r.Len())
}

func TestRegistry_RunStopsWithContext(t *testing.T) {
	var created, closed atomic.Int32
	r := NewRegistry(countingFactory(&created, &closed), time.Millisecond)
	defer r.Close()
	_, err := r.Get(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestStoreConfig(t *testing.T) {
	cfg := &config.Config{
		RestoreAttempts:  3,
		RestoreDelayMS:   100,
		RestoreTimeoutMS: 1500,
		ActivateAttempts: 7,
		ActivateDelayMS:  250,
		SiteURL:          "http://localhost:8080",
	}
	got := StoreConfig(cfg)
	assert.Equal(t, 3, got.RestoreAttempts)
	assert.Equal(t, 100*time.Millisecond, got.RestoreDelay)
	assert.Equal(t, 1500*time.Millisecond, got.RestoreTimeout)
	assert.Equal(t, 7, got.ActivateAttempts)
	assert.Equal(t, 250*time.Millisecond, got.ActivateDelay)
	assert.Equal(t, "http://localhost:8080", got.RedirectURL)

	defaults := StoreConfig(&config.Config{})
	assert.Equal(t, store.DefaultConfig().RestoreTimeout, defaults.RestoreTimeout)
	assert.Equal(t, store.DefaultConfig().ActivateAttempts, defaults.ActivateAttempts)
}

func TestNewSessionFactory_RedisStorage(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	cfg := &config.Config{
		BackendURL:            "http://127.0.0.1:1",
		AnonKey:               "anon",
		SessionIdleTTLMinutes: 30,
		RestoreDelayMS:        5,
	}
	factory := NewSessionFactory(cfg, rdb)

	s, err := factory(context.Background(), "sid-1")
	require.NoError(t, err)
	require.NotNil(t, s.State)
	defer s.shutdown()

	// Restore reads the persisted auth session from the session's Redis namespace.
	before := mr.CommandCount()
	s.State.Restore(context.Background())
	assert.Greater(t, mr.CommandCount(), before)
	assert.Equal(t, store.PhaseAnonymous, s.State.Phase())
}
