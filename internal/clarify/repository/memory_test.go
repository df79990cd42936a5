package repository

import (
	"context"
	"testing"
	"time"

	"github.com/creatoria/clarifier/internal/clarify/session"
	"github.com/creatoria/clarifier/internal/common/errors"
	v1 "github.com/creatoria/clarifier/pkg/api/v1"
)

func newTestSession(t *testing.T) *session.Session {
	t.Helper()
	s := session.New(&v1.SolverInput{}, nil, 3)
	if s == nil {
		t.Fatal("expected a session")
	}
	return s
}

func TestMemoryStoreLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	s := newTestSession(t)

	if err := store.Create(ctx, s); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Create(ctx, s); err == nil {
		t.Error("duplicate Create should fail")
	}

	got, err := store.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != s.ID {
		t.Errorf("Get returned session %s, want %s", got.ID, s.ID)
	}

	if err := store.Save(ctx, s); err != nil {
		t.Errorf("Save: %v", err)
	}

	if err := store.Delete(ctx, s.ID); err != nil {
		t.Errorf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, s.ID); !errors.IsNotFound(err) {
		t.Errorf("expected not found after delete, got %v", err)
	}
	// Deleting again is fine.
	if err := store.Delete(ctx, s.ID); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	s := newTestSession(t)

	if err := store.Create(ctx, s); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Mutating one loaded copy must not leak into the store.
	got, err := store.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := got.SubmitAnswer("variables", "x1"); err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}

	fresh, err := store.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if active := fresh.ActiveField(); active == nil || active.ID != "variables" {
		t.Errorf("stored session changed without Save, active = %+v", active)
	}
	if len(fresh.History) != 0 {
		t.Errorf("stored session picked up %d history messages", len(fresh.History))
	}
	if fresh.Input.Variable("x1") != nil {
		t.Error("stored session picked up the merged variable")
	}

	// Save makes the mutation visible to later reads.
	if err := store.Save(ctx, got); err != nil {
		t.Fatalf("Save: %v", err)
	}
	saved, err := store.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if active := saved.ActiveField(); active == nil || active.ID != "objectives" {
		t.Errorf("saved state not visible, active = %+v", active)
	}
}

func TestMemoryStoreSaveUnknown(t *testing.T) {
	store := NewMemoryStore()
	s := newTestSession(t)
	if err := store.Save(context.Background(), s); !errors.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestMemoryStoreReapIdle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	stale := newTestSession(t)
	stale.LastActive = time.Now().UTC().Add(-time.Hour)
	fresh := newTestSession(t)

	if err := store.Create(ctx, stale); err != nil {
		t.Fatalf("Create stale: %v", err)
	}
	if err := store.Create(ctx, fresh); err != nil {
		t.Fatalf("Create fresh: %v", err)
	}

	n, err := store.ReapIdle(ctx, time.Now().UTC().Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("ReapIdle: %v", err)
	}
	if n != 1 {
		t.Errorf("reaped %d sessions, want 1", n)
	}
	if _, err := store.Get(ctx, stale.ID); !errors.IsNotFound(err) {
		t.Errorf("stale session should be gone, got %v", err)
	}
	if _, err := store.Get(ctx, fresh.ID); err != nil {
		t.Errorf("fresh session should survive: %v", err)
	}
}
