// Package provider implements spec.md §4.7's ProviderBroker: it selects a
// channel-specific adapter and invokes it under a hard per-call deadline.
// Adapters classify their own errors; the engine never inspects provider
// payloads, it only trusts the returned Verdict.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/outpostmsg/outpost/internal/models"
)

// Verdict is what an Adapter reports back to the dispatcher.
type Verdict struct {
	Success          bool
	Retryable        bool
	ProviderResponse json.RawMessage
	ErrorMessage     string
}

// Adapter is the minimal contract every channel implementation satisfies.
// Adapters classify their own failures; an adapter that panics or blocks
// past the broker's deadline is treated as a retryable transient failure
// by Send, never as a crash.
type Adapter interface {
	Send(ctx context.Context, msg *models.Message) (Verdict, error)
}

// Broker maps a channel type to its Adapter and enforces the 10-second
// (configurable) hard deadline spec.md §4.5/§5 requires on every provider
// call — the call and its deadline share one cancellation scope.
type Broker struct {
	adapters map[models.Channel]Adapter
	timeout  time.Duration
}

// New creates a Broker with adapters registered per channel. Any channel
// absent from adapters is handled by Send as an unsupported-channel
// retryable failure (spec.md §4.7), so the adapter factory never crashes
// the worker.
func New(timeout time.Duration, adapters map[models.Channel]Adapter) *Broker {
	return &Broker{adapters: adapters, timeout: timeout}
}

// Send dispatches msg to its channel's adapter under the broker's
// deadline. An unsupported channel, an adapter panic (recovered), or a
// deadline overrun all classify as a retryable transient failure — the
// dispatcher does not need to special-case any of them.
func (b *Broker) Send(ctx context.Context, msg *models.Message) (verdict Verdict, err error) {
	adapter, ok := b.adapters[msg.Type]
	if !ok {
		return Verdict{Success: false, Retryable: true, ErrorMessage: fmt.Sprintf("unsupported channel: %s", msg.Type)}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	type result struct {
		v   Verdict
		err error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{Verdict{Success: false, Retryable: true, ErrorMessage: fmt.Sprintf("adapter panic: %v", r)}, nil}
			}
		}()
		v, err := adapter.Send(callCtx, msg)
		done <- result{v, err}
	}()

	select {
	case <-callCtx.Done():
		return Verdict{Success: false, Retryable: true, ErrorMessage: "provider call deadline exceeded"}, nil
	case res := <-done:
		if res.err != nil {
			return Verdict{Success: false, Retryable: true, ErrorMessage: res.err.Error()}, nil
		}
		return res.v, nil
	}
}
