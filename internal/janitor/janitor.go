// Package janitor implements spec.md §4.9's retention sweeps: chunked
// deletes of old events, terminal messages, and rate buckets, run on a
// timer well after startup so the sweep never competes with cold-start
// traffic.
package janitor

import (
	"context"
	"time"

	"github.com/outpostmsg/outpost/config"
	"github.com/outpostmsg/outpost/internal/logger"
	"github.com/outpostmsg/outpost/internal/store"
)

// Janitor periodically prunes data the retention policy says is expired.
// Every sweep failure is logged, never propagated — a slow or failing
// sweep must not take the worker process down with it.
type Janitor struct {
	store store.Store
	cfg   config.JanitorConfig
}

func New(s store.Store, cfg config.JanitorConfig) *Janitor {
	return &Janitor{store: s, cfg: cfg}
}

// Run blocks until ctx is cancelled, sweeping once after InitialDelay and
// then every Interval.
func (j *Janitor) Run(ctx context.Context) {
	timer := time.NewTimer(j.cfg.InitialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			j.SweepOnce(ctx)
			timer.Reset(j.cfg.Interval)
		}
	}
}

// SweepOnce runs all three retention sweeps once, exposed directly for
// tests and for an operator-triggered off-cycle run.
func (j *Janitor) SweepOnce(ctx context.Context) {
	now := time.Now()
	retentionCutoff := now.AddDate(0, 0, -j.cfg.RetentionDays)

	if n, err := j.sweepChunked(ctx, retentionCutoff, j.store.DeleteOldEvents); err != nil {
		logger.Error("janitor: event sweep failed", "error", err)
	} else if n > 0 {
		logger.Info("janitor: deleted old events", "count", n)
	}

	if n, err := j.sweepChunked(ctx, retentionCutoff, j.store.DeleteOldTerminalMessages); err != nil {
		logger.Error("janitor: terminal message sweep failed", "error", err)
	} else if n > 0 {
		logger.Info("janitor: deleted old terminal messages", "count", n)
	}

	bucketCutoff := now.Add(-j.cfg.RateBucketTTL)
	if n, err := j.store.DeleteOldRateBuckets(ctx, bucketCutoff); err != nil {
		logger.Error("janitor: rate bucket sweep failed", "error", err)
	} else if n > 0 {
		logger.Info("janitor: deleted old rate buckets", "count", n)
	}
}

// sweepChunked repeatedly invokes a chunked delete until it reports fewer
// than a full chunk, pausing between chunks so a retention sweep never
// holds a long lock against live traffic.
func (j *Janitor) sweepChunked(ctx context.Context, before time.Time, del func(context.Context, time.Time, int) (int, error)) (int, error) {
	var total int
	for {
		n, err := del(ctx, before, j.cfg.ChunkSize)
		if err != nil {
			return total, err
		}
		total += n
		if n < j.cfg.ChunkSize {
			return total, nil
		}
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		case <-time.After(j.cfg.ChunkPause):
		}
	}
}
