// Package quota implements the monthly usage admission check: spec.md
// §4.2's QuotaController.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/outpostmsg/outpost/internal/store"
)

// Decision is the outcome of Check.
type Decision struct {
	Allowed bool
	Current int
	Limit   int // meaningless when Allowed && Limit==0 (unlimited)
}

// Controller evaluates a project's monthly usage against its configured
// monthly_limit. A nil or unset limit means unlimited.
type Controller struct {
	store store.Store
}

func New(s store.Store) *Controller {
	return &Controller{store: s}
}

// Check is advisory, not transactional with the subsequent enqueue
// (spec.md §4.2): the ceiling is a soft fairness boundary, not a billing
// gate, so a brief race admitting one extra message is acceptable.
func (c *Controller) Check(ctx context.Context, projectID string, monthlyLimit *int, now time.Time) (Decision, error) {
	if monthlyLimit == nil {
		return Decision{Allowed: true}, nil
	}
	period := Period(now)
	current, err := c.store.SumUsageForPeriod(ctx, projectID, period)
	if err != nil {
		return Decision{}, fmt.Errorf("sum usage for period: %w", err)
	}
	return Decision{
		Allowed: current < *monthlyLimit,
		Current: current,
		Limit:   *monthlyLimit,
	}, nil
}

// Period formats t as the calendar-month key spec.md uses for UsageBucket.
func Period(t time.Time) string {
	return t.UTC().Format("2006-01")
}
