package store

import (
	"context"
	"time"
)

// Outcome is the typed result of Poll.
type Outcome[T any] struct {
	Value    T
	Found    bool
	Attempts int
}

// Poll calls fn up to attempts times, sleeping delay between calls, until fn
// reports found. It stops early when ctx is done.
func Poll[T any](ctx context.Context, attempts int, delay time.Duration, fn func(context.Context) (T, bool)) Outcome[T] {
	if attempts < 1 {
		attempts = 1
	}
	var out Outcome[T]
	for i := 1; i <= attempts; i++ {
		if ctx.Err() != nil {
			return out
		}
		out.Attempts = i
		if v, ok := fn(ctx); ok {
			out.Value = v
			out.Found = true
			return out
		}
		if i == attempts {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return out
		case <-timer.C:
		}
	}
	return out
}
