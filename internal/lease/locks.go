package lease

import (
	"context"
	"encoding/json"
	"time"

	"shroud/internal/media"
	"shroud/internal/objectstore"
	"shroud/internal/services"
)

// Info describes one lock object for operator inspection.
type Info struct {
	LockKey   string
	OwnerID   string
	Timestamp time.Time
}

// Age returns how long the lock has been held as of now.
func (i Info) Age(now time.Time) time.Duration {
	if i.Timestamp.IsZero() {
		return 0
	}
	return now.Sub(i.Timestamp)
}

// ListLocks returns every lock object under the layout's lock prefix. Locks
// with unreadable payloads are included with just the key so operators can
// still see and reap them.
func ListLocks(ctx context.Context, store objectstore.Store, layout media.Layout) ([]Info, error) {
	objects, err := store.List(ctx, layout.LocksPrefix)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "lease", "list locks", "", err)
	}
	infos := make([]Info, 0, len(objects))
	for _, obj := range objects {
		info := Info{LockKey: obj.Key, Timestamp: obj.LastModified}
		if payload, err := store.Get(ctx, obj.Key); err == nil {
			var record lockRecord
			if json.Unmarshal(payload, &record) == nil {
				info.OwnerID = record.OwnerID
				if stamped, err := time.Parse(time.RFC3339Nano, record.Timestamp); err == nil {
					info.Timestamp = stamped
				}
			}
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Reap deletes every lock older than ttl and reports how many were removed.
// This is the manual recovery path for orphaned locks when automatic
// staleness reclaim is disabled.
func Reap(ctx context.Context, store objectstore.Store, layout media.Layout, ttl time.Duration, now time.Time) (int, error) {
	infos, err := ListLocks(ctx, store, layout)
	if err != nil {
		return 0, err
	}
	reaped := 0
	for _, info := range infos {
		if info.Age(now) < ttl {
			continue
		}
		if err := store.Delete(ctx, info.LockKey); err != nil {
			return reaped, services.Wrap(services.ErrTransient, "lease", "reap", info.LockKey, err)
		}
		reaped++
	}
	return reaped, nil
}
