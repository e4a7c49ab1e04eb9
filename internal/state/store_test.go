package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestNewSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(DefaultOptions(":memory:"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	if store.CurrentVersion() != 0 {
		t.Errorf("expected version 0, got %d", store.CurrentVersion())
	}
	if _, err := store.Latest(context.Background()); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(DefaultOptions(":memory:"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	first, err := store.Save(ctx, "load", 3, []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	second, err := store.Save(ctx, "flush", 0, []byte{4})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if second.Version != first.Version+1 {
		t.Errorf("versions not monotonic: %d then %d", first.Version, second.Version)
	}

	latest, err := store.Latest(ctx)
	if err != nil {
		t.Fatalf("latest failed: %v", err)
	}
	if latest.ID != second.ID || latest.Reason != "flush" {
		t.Errorf("unexpected latest snapshot %+v", latest)
	}

	got, err := store.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(got.Data) != string([]byte{1, 2, 3}) || got.Rules != 3 {
		t.Errorf("unexpected snapshot %+v", got)
	}

	if _, err := store.Get(ctx, "missing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	list, err := store.List(ctx, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != second.ID {
		t.Errorf("expected newest first, got %+v", list)
	}
	if list[0].Data != nil {
		t.Error("List must not load data")
	}
}

func TestRetention(t *testing.T) {
	ctx := context.Background()
	opts := DefaultOptions(":memory:")
	opts.Keep = 2
	store, err := NewSQLiteStore(opts)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	for i := range 5 {
		if _, err := store.Save(ctx, "load", i, []byte{byte(i)}); err != nil {
			t.Fatalf("save %d failed: %v", i, err)
		}
	}
	list, err := store.List(ctx, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 retained snapshots, got %d", len(list))
	}
	if list[0].Version != 5 || list[1].Version != 4 {
		t.Errorf("unexpected retained versions %d, %d", list[0].Version, list[1].Version)
	}
}

func TestReopenKeepsVersion(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	store, err := NewSQLiteStore(DefaultOptions(path))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	store.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	snap, err := store.Save(ctx, "load", 1, []byte("x"))
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	store.Close()

	if _, err := store.Save(ctx, "load", 1, nil); err != ErrStoreClosed {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}

	store2, err := NewSQLiteStore(DefaultOptions(path))
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer store2.Close()

	if store2.CurrentVersion() != snap.Version {
		t.Errorf("expected version %d after reopen, got %d", snap.Version, store2.CurrentVersion())
	}
	latest, err := store2.Latest(ctx)
	if err != nil {
		t.Fatalf("latest failed: %v", err)
	}
	if !latest.CreatedAt.Equal(snap.CreatedAt) {
		t.Errorf("timestamp changed: %v vs %v", latest.CreatedAt, snap.CreatedAt)
	}
}
