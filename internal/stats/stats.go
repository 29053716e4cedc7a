// Package stats derives dataset progress figures from bulk listings of the
// shared store, for operator-facing status output. Only LIST requests are
// issued; no per-object lookups.
package stats

import (
	"context"
	"path"

	"shroud/internal/media"
	"shroud/internal/objectstore"
	"shroud/internal/services"
)

// Summary aggregates the dataset's processing state.
type Summary struct {
	TotalItems  int
	Images      int
	Videos      int
	Complete    int
	Partial     int
	Unprocessed int
	Failed      int
	ActiveLocks int
}

// Collect builds a summary from four prefix listings.
func Collect(ctx context.Context, store objectstore.Store, layout media.Layout, policy media.Policy) (Summary, error) {
	originals, err := store.List(ctx, layout.OriginalsPrefix)
	if err != nil {
		return Summary{}, services.Wrap(services.ErrTransient, "stats", "collect", "list originals", err)
	}
	cloaked, err := store.List(ctx, layout.CloakedPrefix)
	if err != nil {
		return Summary{}, services.Wrap(services.ErrTransient, "stats", "collect", "list cloaked", err)
	}
	failed, err := store.List(ctx, layout.FailedPrefix)
	if err != nil {
		return Summary{}, services.Wrap(services.ErrTransient, "stats", "collect", "list failed", err)
	}
	locks, err := store.List(ctx, layout.LocksPrefix)
	if err != nil {
		return Summary{}, services.Wrap(services.ErrTransient, "stats", "collect", "list locks", err)
	}

	levelsByItem := make(map[string]map[media.Level]bool)
	for _, obj := range cloaked {
		dir, base, level, ok := layout.ParseCloaked(obj.Key)
		if !ok {
			continue
		}
		id := path.Join(dir, base)
		if levelsByItem[id] == nil {
			levelsByItem[id] = make(map[media.Level]bool)
		}
		levelsByItem[id][level] = true
	}

	summary := Summary{Failed: len(failed), ActiveLocks: len(locks)}
	for _, obj := range originals {
		kind, ok := media.KindForKey(obj.Key)
		if !ok {
			continue
		}
		summary.TotalItems++
		if kind == media.KindVideo {
			summary.Videos++
		} else {
			summary.Images++
		}

		have := levelsByItem[path.Join(layout.OriginalDir(obj.Key), media.BaseName(obj.Key))]
		switch {
		case policy.Satisfied(kind, have):
			summary.Complete++
		case len(have) > 0:
			summary.Partial++
		default:
			summary.Unprocessed++
		}
	}
	return summary, nil
}

// InitLayout creates zero-byte placeholder objects for every standard prefix
// so a fresh bucket shows the expected structure in listings.
func InitLayout(ctx context.Context, store objectstore.Store, layout media.Layout) error {
	for _, prefix := range layout.Prefixes() {
		if err := store.Put(ctx, prefix, nil); err != nil {
			return services.Wrap(services.ErrTransient, "stats", "init layout", prefix, err)
		}
	}
	return nil
}
