// Package dispatch implements spec.md §4.5's Dispatcher: the polling loop
// that claims ready messages under row-level locks and drives each through
// the delivery state machine.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/outpostmsg/outpost/internal/logger"
	"github.com/outpostmsg/outpost/internal/models"
	"github.com/outpostmsg/outpost/internal/provider"
	"github.com/outpostmsg/outpost/internal/retry"
	"github.com/outpostmsg/outpost/internal/store"
	"github.com/outpostmsg/outpost/internal/usage"
)

// Stats accumulates cumulative counters the Supervisor reports in its
// heartbeat (spec.md §4.10).
type Stats struct {
	Claimed   int64
	Delivered int64
	Retried   int64
	Dead      int64
	Skipped   int64
}

// Dispatcher claims and processes batches of queued messages. It holds no
// goroutines of its own; the Supervisor drives RunOnce on a timer.
type Dispatcher struct {
	store     store.Store
	broker    *provider.Broker
	ledger    *usage.Ledger
	batchSize int
	stats     Stats
}

func New(s store.Store, broker *provider.Broker, batchSize int) *Dispatcher {
	return &Dispatcher{store: s, broker: broker, ledger: usage.New(), batchSize: batchSize}
}

// Stats returns a snapshot of cumulative counters.
func (d *Dispatcher) Stats() Stats { return d.stats }

// RunOnce claims one batch and drives every claimed message through the
// state machine inside the claim's own transaction, per spec.md §4.5's
// "critical invariant": the provider call happens before commit, so a
// commit failure after a successful send is recorded as at-least-once
// delivery, never silently lost. This is documented, not fixed — accepting
// it is a deliberate engine boundary.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	var claimed int
	err := d.store.RunInTx(ctx, func(ctx context.Context, q store.Queries) error {
		now := time.Now()
		msgs, err := q.ClaimQueued(ctx, d.batchSize, now)
		if err != nil {
			return fmt.Errorf("claim queued: %w", err)
		}
		claimed = len(msgs)
		for i := range msgs {
			d.processOne(ctx, q, &msgs[i])
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	d.stats.Claimed += int64(claimed)
	return claimed, nil
}

// processOne implements the per-message state machine of spec.md §4.5
// steps 1-3. It never returns an error to RunOnce: a single bad message
// must not roll back the whole batch's claim.
func (d *Dispatcher) processOne(ctx context.Context, q store.Queries, msg *models.Message) {
	status, err := q.GetProjectStatus(ctx, msg.ProjectID)
	if err != nil {
		logger.WithContext(ctx).Error("dispatch: project status lookup failed", "message_id", msg.ID, "error", err)
		return
	}
	if status == models.ProjectSuspended {
		d.emit(ctx, q, msg, models.EventSkipped, map[string]string{"reason": "Project suspended"})
		d.stats.Skipped++
		return
	}

	if msg.Attempts >= msg.MaxAttempts {
		d.deadLetter(ctx, q, msg)
		return
	}

	msg.Attempts++
	verdict, err := d.broker.Send(ctx, msg)
	if err != nil {
		// Adapters classify their own failures; Send itself should not
		// error, but treat an unexpected error the same way spec.md §4.5
		// treats an unhandled exception: retryable transient failure.
		verdict = provider.Verdict{Success: false, Retryable: true, ErrorMessage: err.Error()}
	}

	switch {
	case verdict.Success:
		d.deliver(ctx, q, msg, verdict)
	case verdict.Retryable:
		d.scheduleRetry(ctx, q, msg, verdict)
	default:
		d.failTerminal(ctx, q, msg, verdict)
	}

	if err := q.UpdateMessageStatus(ctx, msg.ID, msg.Status, msg.Attempts, msg.NextAttemptAt); err != nil {
		logger.WithContext(ctx).Error("dispatch: update message status failed", "message_id", msg.ID, "error", err)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, q store.Queries, msg *models.Message, v provider.Verdict) {
	msg.Status = models.StatusDelivered
	msg.NextAttemptAt = nil
	d.emitPayload(ctx, q, msg, models.EventDelivered, v.ProviderResponse)
	if err := d.ledger.Record(ctx, q, msg.ProjectID, msg.Type, time.Now()); err != nil {
		logger.WithContext(ctx).Error("dispatch: usage record failed", "message_id", msg.ID, "error", err)
	}
	d.stats.Delivered++
}

func (d *Dispatcher) scheduleRetry(ctx context.Context, q store.Queries, msg *models.Message, v provider.Verdict) {
	next := retry.NextAttemptAt(time.Now(), msg.Attempts)
	msg.Status = models.StatusQueued
	msg.NextAttemptAt = &next
	d.emit(ctx, q, msg, models.EventFailed, map[string]any{
		"retryable":      true,
		"next_attempt_at": next,
		"backoff_seconds": retry.Backoff(msg.Attempts).Seconds(),
		"error_message":  v.ErrorMessage,
	})
	d.stats.Retried++
}

func (d *Dispatcher) failTerminal(ctx context.Context, q store.Queries, msg *models.Message, v provider.Verdict) {
	msg.Status = models.StatusFailed
	msg.NextAttemptAt = nil
	d.emit(ctx, q, msg, models.EventFailed, map[string]any{
		"retryable":     false,
		"error_message": v.ErrorMessage,
	})
}

func (d *Dispatcher) deadLetter(ctx context.Context, q store.Queries, msg *models.Message) {
	msg.Status = models.StatusDead
	msg.NextAttemptAt = nil
	d.emit(ctx, q, msg, models.EventDead, map[string]any{
		"reason":   "Max attempts exceeded",
		"attempts": msg.Attempts,
	})
	if err := q.UpdateMessageStatus(ctx, msg.ID, msg.Status, msg.Attempts, msg.NextAttemptAt); err != nil {
		logger.WithContext(ctx).Error("dispatch: dead-letter update failed", "message_id", msg.ID, "error", err)
	}
	d.stats.Dead++
}

func (d *Dispatcher) emit(ctx context.Context, q store.Queries, msg *models.Message, typ models.EventType, detail any) {
	payload, err := json.Marshal(detail)
	if err != nil {
		logger.WithContext(ctx).Error("dispatch: marshal event detail failed", "message_id", msg.ID, "error", err)
		payload = nil
	}
	d.emitPayload(ctx, q, msg, typ, payload)
}

func (d *Dispatcher) emitPayload(ctx context.Context, q store.Queries, msg *models.Message, typ models.EventType, payload json.RawMessage) {
	ev := &models.Event{MessageID: msg.ID, ProjectID: msg.ProjectID, Type: typ, ProviderPayload: payload}
	if err := q.InsertEvent(ctx, ev); err != nil && !errors.Is(err, store.ErrNotFound) {
		logger.WithContext(ctx).Error("dispatch: insert event failed", "message_id", msg.ID, "event_type", typ, "error", err)
	}
}
