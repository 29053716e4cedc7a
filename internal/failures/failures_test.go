package failures

import (
	"context"
	"errors"
	"testing"
	"time"

	"shroud/internal/media"
	"shroud/internal/objectstore"
)

func newRegistry(store objectstore.Store) *Registry {
	return NewRegistry(store, media.DefaultLayout(), "worker-1", nil)
}

func TestMarkFailedAndIsFailed(t *testing.T) {
	store := objectstore.NewMemory()
	reg := newRegistry(store)
	ctx := context.Background()
	key := "originals/people/photo.png"

	failed, err := reg.IsFailed(ctx, key)
	if err != nil {
		t.Fatalf("IsFailed: %v", err)
	}
	if failed {
		t.Fatal("unmarked item must not read as failed")
	}

	if err := reg.MarkFailed(ctx, key, errors.New("transform produced no output")); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	failed, err = reg.IsFailed(ctx, key)
	if err != nil {
		t.Fatalf("IsFailed: %v", err)
	}
	if !failed {
		t.Fatal("marked item must read as failed")
	}
}

func TestListReturnsRecords(t *testing.T) {
	store := objectstore.NewMemory()
	reg := newRegistry(store)
	ctx := context.Background()

	if err := reg.MarkFailed(ctx, "originals/a.png", errors.New("boom")); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if err := reg.MarkFailed(ctx, "originals/clips/b.mp4", errors.New("frame 12 unreadable")); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	records, err := reg.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	byKey := make(map[string]Record, len(records))
	for _, record := range records {
		byKey[record.OriginalKey] = record
	}
	record, ok := byKey["originals/a.png"]
	if !ok {
		t.Fatalf("missing record for originals/a.png: %v", records)
	}
	if record.Error != "boom" {
		t.Fatalf("unexpected error message %q", record.Error)
	}
	if record.OwnerID != "worker-1" {
		t.Fatalf("unexpected owner %q", record.OwnerID)
	}
	if _, err := time.Parse(time.RFC3339Nano, record.Timestamp); err != nil {
		t.Fatalf("timestamp not RFC3339: %v", err)
	}
}

func TestClearMakesItemEligibleAgain(t *testing.T) {
	store := objectstore.NewMemory()
	reg := newRegistry(store)
	ctx := context.Background()
	key := "originals/a.png"

	if err := reg.MarkFailed(ctx, key, errors.New("boom")); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if err := reg.Clear(ctx, key); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	failed, err := reg.IsFailed(ctx, key)
	if err != nil {
		t.Fatalf("IsFailed: %v", err)
	}
	if failed {
		t.Fatal("cleared item must not read as failed")
	}

	// Clearing again is a no-op.
	if err := reg.Clear(ctx, key); err != nil {
		t.Fatalf("repeat Clear: %v", err)
	}
}
