package provider

import (
	"context"
	"testing"
	"time"

	"github.com/outpostmsg/outpost/internal/models"
)

type fakeAdapter struct {
	verdict Verdict
	err     error
	delay   time.Duration
	panics  bool
}

func (f *fakeAdapter) Send(ctx context.Context, msg *models.Message) (Verdict, error) {
	if f.panics {
		panic("boom")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return Verdict{}, ctx.Err()
		}
	}
	return f.verdict, f.err
}

func TestBroker_Send_Success(t *testing.T) {
	b := New(time.Second, map[models.Channel]Adapter{
		models.ChannelEmail: &fakeAdapter{verdict: Verdict{Success: true}},
	})
	v, err := b.Send(context.Background(), &models.Message{Type: models.ChannelEmail})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !v.Success {
		t.Fatalf("expected success")
	}
}

func TestBroker_Send_UnsupportedChannel(t *testing.T) {
	b := New(time.Second, map[models.Channel]Adapter{})
	v, err := b.Send(context.Background(), &models.Message{Type: models.ChannelPush})
	if err != nil {
		t.Fatalf("send should not error: %v", err)
	}
	if v.Success || !v.Retryable {
		t.Fatalf("expected retryable failure for unsupported channel, got %+v", v)
	}
}

func TestBroker_Send_DeadlineExceeded(t *testing.T) {
	b := New(10*time.Millisecond, map[models.Channel]Adapter{
		models.ChannelSMS: &fakeAdapter{delay: 200 * time.Millisecond, verdict: Verdict{Success: true}},
	})
	v, err := b.Send(context.Background(), &models.Message{Type: models.ChannelSMS})
	if err != nil {
		t.Fatalf("send should not error: %v", err)
	}
	if v.Success || !v.Retryable {
		t.Fatalf("expected retryable failure on deadline exceeded, got %+v", v)
	}
}

func TestBroker_Send_AdapterPanicIsRetryable(t *testing.T) {
	b := New(time.Second, map[models.Channel]Adapter{
		models.ChannelWhatsApp: &fakeAdapter{panics: true},
	})
	v, err := b.Send(context.Background(), &models.Message{Type: models.ChannelWhatsApp})
	if err != nil {
		t.Fatalf("send should not error: %v", err)
	}
	if v.Success || !v.Retryable {
		t.Fatalf("expected retryable failure on adapter panic, got %+v", v)
	}
}

func TestBroker_Send_AdapterErrorIsRetryable(t *testing.T) {
	b := New(time.Second, map[models.Channel]Adapter{
		models.ChannelEmail: &fakeAdapter{err: errTransient},
	})
	v, err := b.Send(context.Background(), &models.Message{Type: models.ChannelEmail})
	if err != nil {
		t.Fatalf("send should not error: %v", err)
	}
	if v.Success || !v.Retryable {
		t.Fatalf("expected retryable failure, got %+v", v)
	}
}

func TestWebhookAdapter_NoURLConfigured(t *testing.T) {
	a := NewWebhookAdapter("")
	v, err := a.Send(context.Background(), &models.Message{Type: models.ChannelSMS, ToAddress: "+1555"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if v.Success || !v.Retryable {
		t.Fatalf("expected retryable failure when unconfigured, got %+v", v)
	}
}

func TestRawOrQuoted(t *testing.T) {
	if string(rawOrQuoted([]byte(`{"ok":true}`))) != `{"ok":true}` {
		t.Fatalf("expected valid json passed through unchanged")
	}
	if string(rawOrQuoted(nil)) != "null" {
		t.Fatalf("expected null for empty body")
	}
	if string(rawOrQuoted([]byte("not json"))) != `"not json"` {
		t.Fatalf("expected non-json body quoted as a json string")
	}
}

var errTransient = &transientErr{"smtp: connection refused"}

type transientErr struct{ msg string }

func (e *transientErr) Error() string { return e.msg }
