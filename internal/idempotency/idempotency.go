// Package idempotency implements spec.md §4.1's IdempotencyGuard: the
// enqueue-time check that resolves a caller-supplied key to either a fresh
// admission or the id of the message that already won the race.
package idempotency

import (
	"context"
	"errors"
	"fmt"

	"github.com/outpostmsg/outpost/internal/store"
)

// Result is the outcome of Check.
type Result struct {
	Fresh          bool
	ExistingID     string
	ExistingStatus string
}

// Guard consults the idempotency index. The eventual insert still relies on
// the (project_id, idempotency_key) unique index to catch concurrent
// duplicates this read-then-decide step cannot see.
type Guard struct {
	store store.Store
}

func New(s store.Store) *Guard {
	return &Guard{store: s}
}

// Check returns Fresh when key is absent, or when no existing message
// carries it yet. A present key with an existing row returns the winner's
// id and status for the caller to echo back as a duplicate response.
func (g *Guard) Check(ctx context.Context, projectID string, key *string) (Result, error) {
	if key == nil || *key == "" {
		return Result{Fresh: true}, nil
	}
	msg, err := g.store.FindMessageByIdempotencyKey(ctx, projectID, *key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Result{Fresh: true}, nil
		}
		return Result{}, fmt.Errorf("find message by idempotency key: %w", err)
	}
	return Result{Fresh: false, ExistingID: msg.ID, ExistingStatus: string(msg.Status)}, nil
}

// Resolve re-reads the winning row after a lost insert race (the unique
// index rejected our insert). Per spec.md §4.1/§4.4, the transaction that
// lost must roll back and re-consult the guard to return the winner's id.
func (g *Guard) Resolve(ctx context.Context, projectID, key string) (Result, error) {
	msg, err := g.store.FindMessageByIdempotencyKey(ctx, projectID, key)
	if err != nil {
		return Result{}, fmt.Errorf("resolve idempotency winner: %w", err)
	}
	return Result{Fresh: false, ExistingID: msg.ID, ExistingStatus: string(msg.Status)}, nil
}
