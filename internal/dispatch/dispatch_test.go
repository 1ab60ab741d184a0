package dispatch

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/outpostmsg/outpost/internal/logger"
	"github.com/outpostmsg/outpost/internal/models"
	"github.com/outpostmsg/outpost/internal/provider"
	"github.com/outpostmsg/outpost/internal/store"
)

func TestMain(m *testing.M) {
	logger.Init("error", "text")
	os.Exit(m.Run())
}

type fakeAdapter struct {
	verdict provider.Verdict
}

func (f *fakeAdapter) Send(ctx context.Context, msg *models.Message) (provider.Verdict, error) {
	return f.verdict, nil
}

func brokerWith(v provider.Verdict) *provider.Broker {
	return provider.New(time.Second, map[models.Channel]provider.Adapter{
		models.ChannelEmail: &fakeAdapter{verdict: v},
	})
}

func seedProject(t *testing.T, s store.Store, p *models.Project) {
	t.Helper()
	if err := s.CreateProject(context.Background(), p); err != nil {
		t.Fatalf("seed project: %v", err)
	}
}

func insertQueued(t *testing.T, s store.Store, msg *models.Message) {
	t.Helper()
	if err := s.InsertMessage(context.Background(), msg); err != nil {
		t.Fatalf("insert message: %v", err)
	}
}

func TestDispatcher_RunOnce_DeliversSuccessfully(t *testing.T) {
	s := store.NewInMemoryStore()
	seedProject(t, s, &models.Project{ID: "p1", Status: models.ProjectActive})
	msg := &models.Message{ProjectID: "p1", Type: models.ChannelEmail, Status: models.StatusQueued, MaxAttempts: 3, ToAddress: "a@b.com", Body: "hi"}
	insertQueued(t, s, msg)

	d := New(s, brokerWith(provider.Verdict{Success: true}), 10)
	n, err := d.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 claimed, got %d", n)
	}
	if d.Stats().Delivered != 1 {
		t.Fatalf("expected delivered stat incremented")
	}

	claimed, err := s.ClaimQueued(context.Background(), 10, time.Now())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("delivered message should no longer be claimable, got %d", len(claimed))
	}
}

func TestDispatcher_RunOnce_SkipsSuspendedProject(t *testing.T) {
	s := store.NewInMemoryStore()
	seedProject(t, s, &models.Project{ID: "p1", Status: models.ProjectSuspended})
	msg := &models.Message{ProjectID: "p1", Type: models.ChannelEmail, Status: models.StatusQueued, MaxAttempts: 3, ToAddress: "a@b.com", Body: "hi"}
	insertQueued(t, s, msg)

	d := New(s, brokerWith(provider.Verdict{Success: true}), 10)
	if _, err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if d.Stats().Skipped != 1 {
		t.Fatalf("expected skipped stat incremented")
	}

	claimed, err := s.ClaimQueued(context.Background(), 10, time.Now())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 || claimed[0].Attempts != 0 {
		t.Fatalf("expected message to remain queued untouched, got %+v", claimed)
	}
}

func TestDispatcher_RunOnce_RetryableFailureReschedules(t *testing.T) {
	s := store.NewInMemoryStore()
	seedProject(t, s, &models.Project{ID: "p1", Status: models.ProjectActive})
	msg := &models.Message{ProjectID: "p1", Type: models.ChannelEmail, Status: models.StatusQueued, MaxAttempts: 3, ToAddress: "a@b.com", Body: "hi"}
	insertQueued(t, s, msg)

	d := New(s, brokerWith(provider.Verdict{Success: false, Retryable: true, ErrorMessage: "timeout"}), 10)
	if _, err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	// Not claimable yet: next_attempt_at is in the future.
	claimed, err := s.ClaimQueued(context.Background(), 10, time.Now())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("expected not yet due for retry, got %d", len(claimed))
	}

	// Due after the backoff window.
	claimed, err = s.ClaimQueued(context.Background(), 10, time.Now().Add(2*time.Second))
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 || claimed[0].Status != models.StatusQueued || claimed[0].Attempts != 1 {
		t.Fatalf("expected message requeued with attempts=1, got %+v", claimed)
	}
}

func TestDispatcher_RunOnce_NonRetryableFailureTerminal(t *testing.T) {
	s := store.NewInMemoryStore()
	seedProject(t, s, &models.Project{ID: "p1", Status: models.ProjectActive})
	msg := &models.Message{ProjectID: "p1", Type: models.ChannelEmail, Status: models.StatusQueued, MaxAttempts: 3, ToAddress: "a@b.com", Body: "hi"}
	insertQueued(t, s, msg)

	d := New(s, brokerWith(provider.Verdict{Success: false, Retryable: false, ErrorMessage: "invalid recipient"}), 10)
	if _, err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	claimed, err := s.ClaimQueued(context.Background(), 10, time.Now())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("terminal failed message should not be claimable, got %d", len(claimed))
	}
}

func TestDispatcher_RunOnce_DeadLettersAtAttemptCeiling(t *testing.T) {
	s := store.NewInMemoryStore()
	seedProject(t, s, &models.Project{ID: "p1", Status: models.ProjectActive})
	msg := &models.Message{ProjectID: "p1", Type: models.ChannelEmail, Status: models.StatusQueued, Attempts: 3, MaxAttempts: 3, ToAddress: "a@b.com", Body: "hi"}
	insertQueued(t, s, msg)

	d := New(s, brokerWith(provider.Verdict{Success: true}), 10)
	if _, err := d.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if d.Stats().Dead != 1 {
		t.Fatalf("expected dead stat incremented")
	}
}

func TestDispatcher_RunOnce_BatchSizeLimitsClaim(t *testing.T) {
	s := store.NewInMemoryStore()
	seedProject(t, s, &models.Project{ID: "p1", Status: models.ProjectActive})
	for i := 0; i < 5; i++ {
		insertQueued(t, s, &models.Message{ProjectID: "p1", Type: models.ChannelEmail, Status: models.StatusQueued, MaxAttempts: 3, ToAddress: "a@b.com", Body: "hi"})
	}

	d := New(s, brokerWith(provider.Verdict{Success: true}), 2)
	n, err := d.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected batch size 2 claimed, got %d", n)
	}
}
