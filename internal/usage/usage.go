// Package usage implements spec.md §4.8's UsageLedger: an atomic monthly
// counter increment, recorded only on successful delivery and only from
// within the dispatcher's transaction.
package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/outpostmsg/outpost/internal/models"
	"github.com/outpostmsg/outpost/internal/quota"
	"github.com/outpostmsg/outpost/internal/store"
)

// Ledger increments the (project, period, channel) usage bucket.
type Ledger struct{}

func New() *Ledger { return &Ledger{} }

// Record increments the bucket for now's calendar period via q, which must
// be bound to the dispatcher's in-flight transaction so the increment
// commits atomically with the message's delivered transition.
func (l *Ledger) Record(ctx context.Context, q store.Queries, projectID string, channel models.Channel, now time.Time) error {
	if err := q.IncrementUsage(ctx, projectID, quota.Period(now), channel); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}
