package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPoll(t *testing.T) {
	t.Parallel()

	t.Run("Found On Third Attempt", func(t *testing.T) {
		calls := 0
		out := Poll(context.Background(), 5, time.Millisecond, func(context.Context) (string, bool) {
			calls++
			return "ok", calls == 3
		})
		assert.True(t, out.Found)
		assert.Equal(t, "ok", out.Value)
		assert.Equal(t, 3, out.Attempts)
	})

	t.Run("Exhausted", func(t *testing.T) {
		calls := 0
		out := Poll(context.Background(), 4, time.Millisecond, func(context.Context) (int, bool) {
			calls++
			return calls, false
		})
		assert.False(t, out.Found)
		assert.Zero(t, out.Value)
		assert.Equal(t, 4, out.Attempts)
		assert.Equal(t, 4, calls)
	})

	t.Run("At Least One Attempt", func(t *testing.T) {
		out := Poll(context.Background(), 0, time.Hour, func(context.Context) (int, bool) { return 7, true })
		assert.True(t, out.Found)
		assert.Equal(t, 1, out.Attempts)
	})

	t.Run("Cancelled During Delay", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		start := time.Now()
		out := Poll(ctx, 10, time.Hour, func(context.Context) (int, bool) { return 0, false })
		assert.False(t, out.Found)
		assert.Equal(t, 1, out.Attempts)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("Cancelled Before Start", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		out := Poll(ctx, 3, time.Millisecond, func(context.Context) (int, bool) { return 1, true })
		assert.False(t, out.Found)
		assert.Zero(t, out.Attempts)
	})
}

func TestPhase(t *testing.T) {
	t.Parallel()
	loading := map[Phase]bool{
		PhaseInitial:       true,
		PhaseRestoring:     true,
		PhaseActivating:    true,
		PhaseRegistering:   false,
		PhaseAuthenticated: false,
		PhaseAnonymous:     false,
		PhaseSignedOut:     false,
	}
	for p, want := range loading {
		assert.Equal(t, want, p.AuthLoading(), p)
	}

	assert.True(t, PhaseInitial.canRestore())
	assert.True(t, PhaseSignedOut.canRestore())
	assert.False(t, PhaseAnonymous.canRestore())
	assert.False(t, PhaseRegistering.canRestore())

	assert.False(t, PhaseRegistering.canRegister())
	assert.False(t, PhaseActivating.canRegister())
	assert.True(t, PhaseRestoring.canRegister())

	assert.Equal(t, PhaseInitial, PhaseInitial.settled())
	assert.Equal(t, PhaseAnonymous, PhaseRestoring.settled())
}
