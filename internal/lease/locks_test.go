package lease

import (
	"context"
	"testing"
	"time"

	"shroud/internal/media"
	"shroud/internal/objectstore"
)

func TestListLocksReportsOwners(t *testing.T) {
	store := objectstore.NewMemory()
	layout := media.DefaultLayout()
	ctx := context.Background()

	mgr := NewManager(store, layout, "worker-1")
	if lease, err := mgr.Acquire(ctx, "originals/a.png"); err != nil || lease == nil {
		t.Fatalf("acquire: lease=%v err=%v", lease, err)
	}
	// A corrupted lock still shows up.
	if err := store.Put(ctx, layout.LocksPrefix+"broken.lock", []byte("not-json")); err != nil {
		t.Fatalf("seed broken lock: %v", err)
	}

	infos, err := ListLocks(ctx, store, layout)
	if err != nil {
		t.Fatalf("ListLocks: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 locks, got %d", len(infos))
	}
	byKey := make(map[string]Info, len(infos))
	for _, info := range infos {
		byKey[info.LockKey] = info
	}
	if byKey["locks/a.png.lock"].OwnerID != "worker-1" {
		t.Fatalf("expected owner worker-1, got %q", byKey["locks/a.png.lock"].OwnerID)
	}
	if byKey["locks/broken.lock"].OwnerID != "" {
		t.Fatal("corrupted lock should carry no owner")
	}
}

func TestReapDeletesOnlyStaleLocks(t *testing.T) {
	store := objectstore.NewMemory()
	layout := media.DefaultLayout()
	ctx := context.Background()
	now := time.Now().UTC()

	old := NewManager(store, layout, "worker-1", WithClock(func() time.Time { return now.Add(-3 * time.Hour) }))
	if lease, err := old.Acquire(ctx, "originals/stale.png"); err != nil || lease == nil {
		t.Fatalf("seed stale lock: lease=%v err=%v", lease, err)
	}
	fresh := NewManager(store, layout, "worker-2", WithClock(func() time.Time { return now }))
	if lease, err := fresh.Acquire(ctx, "originals/fresh.png"); err != nil || lease == nil {
		t.Fatalf("seed fresh lock: lease=%v err=%v", lease, err)
	}

	reaped, err := Reap(ctx, store, layout, time.Hour, now)
	if err != nil {
		t.Fatalf("Reap: %v", err)
	}
	if reaped != 1 {
		t.Fatalf("expected 1 reaped lock, got %d", reaped)
	}

	infos, err := ListLocks(ctx, store, layout)
	if err != nil {
		t.Fatalf("ListLocks: %v", err)
	}
	if len(infos) != 1 || infos[0].LockKey != "locks/fresh.png.lock" {
		t.Fatalf("only the fresh lock should remain, got %v", infos)
	}
}
