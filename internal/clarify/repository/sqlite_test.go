package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/creatoria/clarifier/internal/common/errors"
	v1 "github.com/creatoria/clarifier/pkg/api/v1"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	s := newTestSession(t)

	if err := store.Create(ctx, s); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Create(ctx, s); err == nil {
		t.Error("duplicate Create should fail")
	}

	// Mutate and save, then read back through the JSON round trip.
	if _, err := s.SubmitAnswer("variables", "x1"); err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	if err := store.Save(ctx, s); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Field("variables").Status != v1.FieldStatusResolved {
		t.Errorf("restored status = %s", got.Field("variables").Status)
	}
	if got.Input.Variable("x1") == nil {
		t.Error("restored input lost the merged variable")
	}
	if len(got.History) != len(s.History) {
		t.Errorf("restored history has %d messages, want %d", len(got.History), len(s.History))
	}
	if active := got.ActiveField(); active == nil || active.ID != "objectives" {
		t.Errorf("restored session should resume at objectives, got %+v", active)
	}
}

func TestSQLiteStoreDeleteAndReap(t *testing.T) {
	store := newSQLiteStore(t)
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

	if err := store.Delete(ctx, fresh.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, fresh.ID); !errors.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
	if err := store.Save(ctx, fresh); !errors.IsNotFound(err) {
		t.Errorf("saving a deleted session should report not found, got %v", err)
	}
}
