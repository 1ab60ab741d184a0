// Package ratelimit implements the per-project per-minute admission guard:
// spec.md §4.3's RateLimiter, backed by an atomic upsert against the
// rate_limit_tracking table rather than an in-memory counter — required so
// the limit is enforced correctly across concurrent API processes.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/outpostmsg/outpost/internal/store"
)

// Decision is the outcome of Acquire.
type Decision struct {
	Allowed bool
	Current int
	Limit   int
	Window  string // "per_minute"
}

// Limiter evaluates and consumes one admission token per call against a
// tumbling one-minute window.
type Limiter struct {
	store store.Store
}

func New(s store.Store) *Limiter {
	return &Limiter{store: s}
}

// Acquire consumes one token from the current minute window regardless of
// what happens to the request afterwards (spec.md §4.3: burst protection,
// not fairness accounting). A nil rateLimitPerMinute means unlimited and
// performs no side effect at all.
func (l *Limiter) Acquire(ctx context.Context, projectID string, rateLimitPerMinute *int, now time.Time) (Decision, error) {
	if rateLimitPerMinute == nil {
		return Decision{Allowed: true}, nil
	}
	window := Window(now)
	count, err := l.store.IncrementRateBucket(ctx, projectID, window)
	if err != nil {
		return Decision{}, fmt.Errorf("increment rate bucket: %w", err)
	}
	return Decision{
		Allowed: count <= *rateLimitPerMinute,
		Current: count,
		Limit:   *rateLimitPerMinute,
		Window:  "per_minute",
	}, nil
}

// Window truncates t to the minute — the tumbling bucket key spec.md uses
// for RateBucket.
func Window(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}
