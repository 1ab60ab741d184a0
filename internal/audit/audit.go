// Package audit implements the control-plane write log as a bounded
// in-process job channel: entries are dropped under overflow rather than
// blocking the admin request that produced them, and a dedicated goroutine
// drains the channel until it is explicitly flushed on shutdown (spec.md
// §9's "fire-and-forget audit logging" redesign note).
package audit

import (
	"context"
	"sync"

	"github.com/outpostmsg/outpost/internal/logger"
	"github.com/outpostmsg/outpost/internal/models"
)

// Logger accepts AdminEvent records and persists them from a single
// background goroutine, so the admin HTTP handlers never block on a write
// to the audit trail. AdminEvent is out of the core engine's transactional
// path (spec.md §3), so persistence here is a structured log line rather
// than a database table — the bounded channel is the durability mechanism
// this redesign calls for, not a new storage concern.
type Logger struct {
	jobs      chan models.AdminEvent
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Logger with the given channel capacity. A capacity of 0
// falls back to 256, matching the teacher's sizing for bounded internal
// queues.
func New(capacity int) *Logger {
	if capacity <= 0 {
		capacity = 256
	}
	return &Logger{
		jobs: make(chan models.AdminEvent, capacity),
		done: make(chan struct{}),
	}
}

// Run drains the job channel until ctx is cancelled or Close is called,
// persisting every entry it can before returning.
func (l *Logger) Run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case ev, ok := <-l.jobs:
			if !ok {
				return
			}
			l.persist(ev)
		case <-ctx.Done():
			l.drain()
			return
		}
	}
}

// drain flushes whatever is already queued without blocking for new work,
// called once during shutdown so in-flight audit entries are not lost.
func (l *Logger) drain() {
	for {
		select {
		case ev, ok := <-l.jobs:
			if !ok {
				return
			}
			l.persist(ev)
		default:
			return
		}
	}
}

func (l *Logger) persist(ev models.AdminEvent) {
	logger.Info("admin audit", "actor", ev.Actor, "action", ev.Action, "target", ev.Target, "detail", string(ev.Detail))
}

// Record enqueues an audit entry, dropping it if the channel is full
// rather than blocking the caller — spec.md §9's drop-on-overflow rule.
func (l *Logger) Record(actor, action, target string, detail []byte) {
	ev := models.AdminEvent{Actor: actor, Action: action, Target: target, Detail: detail}
	select {
	case l.jobs <- ev:
	default:
		logger.Error("audit: dropped entry, queue full", "action", action, "target", target)
	}
}

// Close signals no more entries will be recorded and waits for Run to
// finish draining.
func (l *Logger) Close() {
	l.closeOnce.Do(func() { close(l.jobs) })
	<-l.done
}
