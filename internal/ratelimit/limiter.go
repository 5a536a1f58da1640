// Package ratelimit provides the client-side fixed-window limiter that damps
// accidental rapid-fire submissions. It is advisory only: it offers no
// protection against a caller who reloads or talks to the backend directly.
package ratelimit

import (
	"sync"
	"time"

	"ikak/internal/observability"
)

// Default windows used by the store.
const (
	RegisterMax = 5
	PostMax     = 10
	CommentMax  = 20
	Window      = time.Minute
)

// Action keys.
const (
	ActionRegister = "register"
	ActionPost     = "post"
)

// CommentAction returns the per-post comment action key.
func CommentAction(postID string) string {
	return "comment_" + postID
}

type record struct {
	count   int
	resetAt time.Time
}

// Limiter keeps one fixed-window counter per action key.
type Limiter struct {
	mu      sync.Mutex
	now     func() time.Time
	records map[string]*record
}

// New returns a limiter using the wall clock.
func New() *Limiter {
	return NewWithClock(time.Now)
}

// NewWithClock returns a limiter driven by the supplied clock.
func NewWithClock(now func() time.Time) *Limiter {
	return &Limiter{now: now, records: make(map[string]*record)}
}

// Allow records an attempt for action and reports whether it is within
// max attempts for the current window.
func (l *Limiter) Allow(action string, max int, window time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	rec, ok := l.records[action]
	if !ok || now.After(rec.resetAt) {
		l.records[action] = &record{count: 1, resetAt: now.Add(window)}
		return true
	}
	if rec.count >= max {
		observability.ClientRateLimitRejections.WithLabelValues(metricAction(action)).Inc()
		return false
	}
	rec.count++
	return true
}

// Reset forgets every window.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = make(map[string]*record)
}

// metricAction collapses per-post keys so the label set stays bounded.
func metricAction(action string) string {
	if len(action) > len("comment_") && action[:len("comment_")] == "comment_" {
		return "comment"
	}
	return action
}
