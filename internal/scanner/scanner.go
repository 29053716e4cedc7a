// Package scanner builds the local work queue: it walks the originals
// prefix, filters out items that are done, failed, or claimed elsewhere, and
// acquires a lease for everything it admits.
package scanner

import (
	"context"
	"log/slog"

	"shroud/internal/failures"
	"shroud/internal/lease"
	"shroud/internal/logging"
	"shroud/internal/media"
	"shroud/internal/objectstore"
	"shroud/internal/services"
	"shroud/internal/tracker"
)

// Entry is one claimed unit of work. The lease is held by this instance and
// must be released by whoever consumes the entry.
type Entry struct {
	Key   string
	Kind  media.Kind
	Lease *lease.Lease
}

// Scanner selects and claims candidate items.
type Scanner struct {
	store    objectstore.Store
	layout   media.Layout
	tracker  *tracker.Tracker
	failures *failures.Registry
	leases   *lease.Manager
	logger   *slog.Logger
}

// New constructs a scanner over the given collaborators.
func New(store objectstore.Store, layout media.Layout, trk *tracker.Tracker, reg *failures.Registry, leases *lease.Manager, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scanner{
		store:    store,
		layout:   layout,
		tracker:  trk,
		failures: reg,
		leases:   leases,
		logger:   logger,
	}
}

// Build scans the originals prefix once and returns up to desired claimed
// entries. An empty result means no eligible work exists right now; that is
// not an error. Items that fail a transient check are skipped for this pass
// and reconsidered on the next one.
func (s *Scanner) Build(ctx context.Context, desired int) ([]Entry, error) {
	if desired <= 0 {
		return nil, nil
	}
	objects, err := s.store.List(ctx, s.layout.OriginalsPrefix)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "scanner", "build", "list originals", err)
	}

	entries := make([]Entry, 0, desired)
	for _, obj := range objects {
		if len(entries) >= desired {
			break
		}
		if err := ctx.Err(); err != nil {
			return entries, err
		}
		kind, ok := media.KindForKey(obj.Key)
		if !ok {
			continue
		}
		admit, err := s.eligible(ctx, obj.Key)
		if err != nil {
			s.logger.Warn("skipping item after check failure",
				logging.String(logging.FieldComponent, "scanner"),
				logging.String(logging.FieldItemKey, obj.Key),
				logging.Error(err))
			continue
		}
		if !admit {
			continue
		}
		claimed, err := s.leases.Acquire(ctx, obj.Key)
		if err != nil {
			s.logger.Warn("skipping item after lease failure",
				logging.String(logging.FieldComponent, "scanner"),
				logging.String(logging.FieldItemKey, obj.Key),
				logging.Error(err))
			continue
		}
		if claimed == nil {
			continue
		}
		entries = append(entries, Entry{Key: obj.Key, Kind: kind, Lease: claimed})
	}

	s.logger.Debug("queue built",
		logging.String(logging.FieldComponent, "scanner"),
		logging.Int("entries", len(entries)),
		logging.Int("scanned", len(objects)))
	return entries, nil
}

// eligible applies the cheap checks in escalating cost order: local
// completion first, then the shared failure registry, then targeted remote
// lookups for levels the tracker cannot confirm.
func (s *Scanner) eligible(ctx context.Context, key string) (bool, error) {
	done, err := s.tracker.AllDone(ctx, key)
	if err != nil {
		return false, err
	}
	if done {
		return false, nil
	}
	failed, err := s.failures.IsFailed(ctx, key)
	if err != nil {
		return false, err
	}
	if failed {
		return false, nil
	}
	missing, err := s.tracker.DetermineMissingLevels(ctx, s.store, s.layout, key)
	if err != nil {
		return false, err
	}
	return len(missing) > 0, nil
}
