package idempotency

import (
	"context"
	"testing"

	"github.com/outpostmsg/outpost/internal/models"
	"github.com/outpostmsg/outpost/internal/store"
)

func strPtr(s string) *string { return &s }

func TestGuard_Check_NoKeyIsAlwaysFresh(t *testing.T) {
	g := New(store.NewInMemoryStore())
	res, err := g.Check(context.Background(), "p1", nil)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Fresh {
		t.Fatalf("expected fresh when key absent")
	}
}

func TestGuard_Check_UnusedKeyIsFresh(t *testing.T) {
	g := New(store.NewInMemoryStore())
	res, err := g.Check(context.Background(), "p1", strPtr("k1"))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Fresh {
		t.Fatalf("expected fresh for unused key")
	}
}

func TestGuard_Check_ExistingKeyIsDuplicate(t *testing.T) {
	s := store.NewInMemoryStore()
	ctx := context.Background()
	key := "k1"
	msg := &models.Message{ProjectID: "p1", Status: models.StatusQueued, IdempotencyKey: &key}
	if err := s.InsertMessage(ctx, msg); err != nil {
		t.Fatalf("insert: %v", err)
	}

	g := New(s)
	res, err := g.Check(ctx, "p1", &key)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Fresh {
		t.Fatalf("expected duplicate")
	}
	if res.ExistingID != msg.ID {
		t.Fatalf("expected existing id %s, got %s", msg.ID, res.ExistingID)
	}
	if res.ExistingStatus != string(models.StatusQueued) {
		t.Fatalf("expected status queued, got %s", res.ExistingStatus)
	}
}

func TestGuard_Check_ScopedPerProject(t *testing.T) {
	s := store.NewInMemoryStore()
	ctx := context.Background()
	key := "k1"
	msg := &models.Message{ProjectID: "p1", Status: models.StatusQueued, IdempotencyKey: &key}
	if err := s.InsertMessage(ctx, msg); err != nil {
		t.Fatalf("insert: %v", err)
	}

	g := New(s)
	res, err := g.Check(ctx, "p2", &key)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Fresh {
		t.Fatalf("expected fresh: idempotency key is scoped per project")
	}
}

func TestGuard_Resolve(t *testing.T) {
	s := store.NewInMemoryStore()
	ctx := context.Background()
	key := "k1"
	msg := &models.Message{ProjectID: "p1", Status: models.StatusDelivered, IdempotencyKey: &key}
	if err := s.InsertMessage(ctx, msg); err != nil {
		t.Fatalf("insert: %v", err)
	}

	g := New(s)
	res, err := g.Resolve(ctx, "p1", key)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.ExistingID != msg.ID {
		t.Fatalf("expected winner id %s, got %s", msg.ID, res.ExistingID)
	}
}
