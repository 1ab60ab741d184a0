// Package supervisor implements spec.md §4.10: the worker process's
// lifecycle owner. It validates startup configuration, drives the
// Dispatcher's polling loop and the Janitor's sweep loop as structured
// goroutines, emits a periodic heartbeat, and drains in-flight work on
// SIGTERM/SIGINT within a bounded ceiling.
package supervisor

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/outpostmsg/outpost/config"
	"github.com/outpostmsg/outpost/internal/dispatch"
	"github.com/outpostmsg/outpost/internal/janitor"
	"github.com/outpostmsg/outpost/internal/logger"
)

// Supervisor owns the worker process's background goroutines.
type Supervisor struct {
	dispatcher *dispatch.Dispatcher
	janitor    *janitor.Janitor
	cfg        config.WorkerConfig
	startedAt  time.Time
}

func New(d *dispatch.Dispatcher, j *janitor.Janitor, cfg config.WorkerConfig) *Supervisor {
	return &Supervisor{dispatcher: d, janitor: j, cfg: cfg}
}

// ValidateStartup warns (never fails) on configuration choices that are
// legal but risky, per spec.md §4.10.
func ValidateStartup(cfg config.WorkerConfig) {
	if cfg.BatchSize > 100 {
		logger.Warn("worker batch size is unusually large", "batch_size", cfg.BatchSize)
	}
	if cfg.PollInterval < 100*time.Millisecond {
		logger.Warn("worker poll interval is unusually tight", "poll_interval", cfg.PollInterval)
	}
}

// Run drives the polling loop, the janitor sweep, and the heartbeat until
// ctx is cancelled, then waits up to DrainTimeout for the in-flight batch
// before returning. The caller is expected to cancel ctx on SIGTERM/SIGINT.
func (s *Supervisor) Run(ctx context.Context) error {
	ValidateStartup(s.cfg)
	s.startedAt = time.Now()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.pollLoop(gctx)
		return nil
	})
	g.Go(func() error {
		s.janitor.Run(gctx)
		return nil
	})
	g.Go(func() error {
		s.heartbeatLoop(gctx)
		return nil
	})

	return g.Wait()
}

// pollLoop is the single-threaded batch-claim timer spec.md §4.5 requires:
// one poll at a time, never overlapping the next tick. On shutdown it lets
// any in-flight RunOnce finish (bounded by DrainTimeout) rather than
// aborting mid-batch.
func (s *Supervisor) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.drain()
			return
		case <-ticker.C:
			// The batch context is cancelled DrainTimeout after ctx is, not
			// at the moment shutdown begins.
			batchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
			stop := context.AfterFunc(ctx, func() { time.AfterFunc(s.cfg.DrainTimeout, cancel) })
			if _, err := s.dispatcher.RunOnce(batchCtx); err != nil {
				logger.Error("supervisor: poll batch failed", "error", err)
			}
			stop()
			cancel()
		}
	}
}

// drain gives one final in-flight-safe batch attempt up to DrainTimeout
// after shutdown begins, per spec.md §4.10's "wait up to 5 seconds" rule.
// ctx is already cancelled by the caller, so a fresh bounded context is
// used instead of the (dead) loop context.
func (s *Supervisor) drain() {
	drainCtx, cancel := context.WithTimeout(context.Background(), s.cfg.DrainTimeout)
	defer cancel()
	if _, err := s.dispatcher.RunOnce(drainCtx); err != nil {
		logger.Error("supervisor: drain batch failed", "error", err)
	}
}

func (s *Supervisor) heartbeatLoop(ctx context.Context) {
	interval := s.cfg.HeartbeatEvery
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := s.dispatcher.Stats()
			logger.Info("worker heartbeat",
				"uptime", time.Since(s.startedAt).Round(time.Second).String(),
				"claimed", stats.Claimed,
				"delivered", stats.Delivered,
				"retried", stats.Retried,
				"dead", stats.Dead,
				"skipped", stats.Skipped,
			)
		}
	}
}
