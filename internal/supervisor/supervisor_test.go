package supervisor

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/outpostmsg/outpost/config"
	"github.com/outpostmsg/outpost/internal/dispatch"
	"github.com/outpostmsg/outpost/internal/janitor"
	"github.com/outpostmsg/outpost/internal/logger"
	"github.com/outpostmsg/outpost/internal/models"
	"github.com/outpostmsg/outpost/internal/provider"
	"github.com/outpostmsg/outpost/internal/store"
)

func TestMain(m *testing.M) {
	logger.Init("error", "text")
	os.Exit(m.Run())
}

func TestSupervisor_Run_StopsWithinDrainTimeout(t *testing.T) {
	s := store.NewInMemoryStore()
	broker := provider.New(time.Second, map[models.Channel]provider.Adapter{})
	d := dispatch.New(s, broker, 10)
	j := janitor.New(s, config.JanitorConfig{InitialDelay: time.Hour, Interval: time.Hour, ChunkSize: 100, ChunkPause: time.Millisecond, RetentionDays: 30, RateBucketTTL: time.Hour})

	sup := New(d, j, config.WorkerConfig{
		PollInterval:   5 * time.Millisecond,
		BatchSize:      10,
		DrainTimeout:   200 * time.Millisecond,
		HeartbeatEvery: time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop after cancellation")
	}
}

func TestValidateStartup_DoesNotPanicOnRiskyConfig(t *testing.T) {
	ValidateStartup(config.WorkerConfig{BatchSize: 1000, PollInterval: time.Millisecond})
	ValidateStartup(config.WorkerConfig{BatchSize: 10, PollInterval: time.Second})
}
