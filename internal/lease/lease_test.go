package lease

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"shroud/internal/media"
	"shroud/internal/objectstore"
)

func newManager(t *testing.T, store objectstore.Store, opts ...Option) *Manager {
	t.Helper()
	return NewManager(store, media.DefaultLayout(), "worker-1", opts...)
}

func TestAcquireCreatesLockRecord(t *testing.T) {
	store := objectstore.NewMemory()
	mgr := newManager(t, store)

	lease, err := mgr.Acquire(context.Background(), "originals/people/photo.png")
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if lease == nil {
		t.Fatal("expected lease on uncontended acquire")
	}
	if lease.LockKey != "locks/photo.png.lock" {
		t.Fatalf("unexpected lock key %q", lease.LockKey)
	}

	payload, err := store.Get(context.Background(), lease.LockKey)
	if err != nil {
		t.Fatalf("lock object missing: %v", err)
	}
	var record lockRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		t.Fatalf("lock payload is not JSON: %v", err)
	}
	if record.OwnerID != "worker-1" {
		t.Fatalf("expected owner worker-1, got %q", record.OwnerID)
	}
	if _, err := time.Parse(time.RFC3339Nano, record.Timestamp); err != nil {
		t.Fatalf("timestamp not RFC3339: %v", err)
	}
}

func TestAcquireContentionReturnsNilLease(t *testing.T) {
	store := objectstore.NewMemory()
	first := newManager(t, store)
	second := NewManager(store, media.DefaultLayout(), "worker-2")

	if _, err := first.Acquire(context.Background(), "originals/a.png"); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	lease, err := second.Acquire(context.Background(), "originals/a.png")
	if err != nil {
		t.Fatalf("contended acquire should not error: %v", err)
	}
	if lease != nil {
		t.Fatal("expected nil lease under contention")
	}
}

func TestAcquireIsExclusiveUnderRace(t *testing.T) {
	store := objectstore.NewMemory()

	const workers = 16
	var wg sync.WaitGroup
	won := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(owner string) {
			defer wg.Done()
			mgr := NewManager(store, media.DefaultLayout(), owner)
			lease, err := mgr.Acquire(context.Background(), "originals/contended.png")
			if err != nil {
				t.Errorf("acquire error: %v", err)
				return
			}
			if lease != nil {
				won <- owner
			}
		}(string(rune('a' + i)))
	}
	wg.Wait()
	close(won)

	winners := 0
	for range won {
		winners++
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	store := objectstore.NewMemory()
	mgr := newManager(t, store)

	lease, err := mgr.Acquire(context.Background(), "originals/a.png")
	if err != nil || lease == nil {
		t.Fatalf("acquire failed: lease=%v err=%v", lease, err)
	}
	for i := 0; i < 3; i++ {
		if err := mgr.Release(context.Background(), lease); err != nil {
			t.Fatalf("release %d returned error: %v", i, err)
		}
	}
	if err := mgr.Release(context.Background(), nil); err != nil {
		t.Fatalf("releasing nil lease should be a no-op: %v", err)
	}
	if mgr.Pending() != 0 {
		t.Fatalf("expected no pending leases, got %d", mgr.Pending())
	}
}

func TestReleaseAllFreesEveryLock(t *testing.T) {
	store := objectstore.NewMemory()
	mgr := newManager(t, store)

	keys := []string{"originals/a.png", "originals/b.png", "originals/c.mp4"}
	for _, key := range keys {
		if lease, err := mgr.Acquire(context.Background(), key); err != nil || lease == nil {
			t.Fatalf("acquire %s failed: lease=%v err=%v", key, lease, err)
		}
	}
	if mgr.Pending() != len(keys) {
		t.Fatalf("expected %d pending leases, got %d", len(keys), mgr.Pending())
	}
	if err := mgr.ReleaseAll(context.Background()); err != nil {
		t.Fatalf("ReleaseAll returned error: %v", err)
	}
	locks, err := store.List(context.Background(), "locks/")
	if err != nil {
		t.Fatalf("list locks: %v", err)
	}
	if len(locks) != 0 {
		t.Fatalf("expected empty lock prefix, found %d objects", len(locks))
	}
}

func TestStaleLockIsReclaimed(t *testing.T) {
	store := objectstore.NewMemory()
	now := time.Now().UTC()

	stale := newManager(t, store, WithClock(func() time.Time { return now.Add(-2 * time.Hour) }))
	if lease, err := stale.Acquire(context.Background(), "originals/a.png"); err != nil || lease == nil {
		t.Fatalf("seeding stale lock failed: lease=%v err=%v", lease, err)
	}

	fresh := NewManager(store, media.DefaultLayout(), "worker-2",
		WithTTL(time.Hour),
		WithClock(func() time.Time { return now }))
	lease, err := fresh.Acquire(context.Background(), "originals/a.png")
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if lease == nil {
		t.Fatal("expected stale lock to be reclaimed")
	}

	payload, err := store.Get(context.Background(), lease.LockKey)
	if err != nil {
		t.Fatalf("lock object missing after reclaim: %v", err)
	}
	var record lockRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		t.Fatalf("lock payload is not JSON: %v", err)
	}
	if record.OwnerID != "worker-2" {
		t.Fatalf("expected new owner worker-2, got %q", record.OwnerID)
	}
}

func TestFreshLockIsNotReclaimed(t *testing.T) {
	store := objectstore.NewMemory()
	now := time.Now().UTC()

	holder := newManager(t, store, WithClock(func() time.Time { return now.Add(-time.Minute) }))
	if lease, err := holder.Acquire(context.Background(), "originals/a.png"); err != nil || lease == nil {
		t.Fatalf("seeding lock failed: lease=%v err=%v", lease, err)
	}

	contender := NewManager(store, media.DefaultLayout(), "worker-2",
		WithTTL(time.Hour),
		WithClock(func() time.Time { return now }))
	lease, err := contender.Acquire(context.Background(), "originals/a.png")
	if err != nil {
		t.Fatalf("Acquire returned error: %v", err)
	}
	if lease != nil {
		t.Fatal("fresh lock must not be reclaimed")
	}
}
