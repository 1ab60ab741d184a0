package audit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/outpostmsg/outpost/internal/logger"
)

func TestMain(m *testing.M) {
	logger.Init("error", "text")
	os.Exit(m.Run())
}

func TestLogger_RecordAndClose_Drains(t *testing.T) {
	l := New(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go l.Run(ctx)

	l.Record("admin-1", "revoke_key", "key-abc", []byte(`{"reason":"rotated"}`))
	l.Record("admin-1", "create_project", "proj-xyz", nil)

	done := make(chan struct{})
	go func() {
		l.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not return after draining")
	}
}

func TestLogger_Record_DropsOnOverflowWithoutBlocking(t *testing.T) {
	l := New(1)
	// No Run goroutine draining: the channel fills after one entry and
	// every subsequent Record must return immediately rather than block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			l.Record("admin-1", "action", "target", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full queue instead of dropping")
	}
}

func TestLogger_Run_StopsOnContextCancelAndDrainsQueued(t *testing.T) {
	l := New(4)
	l.Record("admin-1", "action", "target", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}
