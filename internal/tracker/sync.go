package tracker

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"time"

	"shroud/internal/media"
	"shroud/internal/objectstore"
	"shroud/internal/services"
)

// SyncResult summarizes a bulk reconciliation pass.
type SyncResult struct {
	Items    int
	Levels   int
	Complete int
}

// Sync rebuilds the local database from two bulk listings of the shared
// store: one of originals, one of cloaked outputs. No per-object lookups are
// issued. Existing local state is replaced; the store is authoritative.
func (t *Tracker) Sync(ctx context.Context, store objectstore.Store, layout media.Layout) (SyncResult, error) {
	originals, err := store.List(ctx, layout.OriginalsPrefix)
	if err != nil {
		return SyncResult{}, services.Wrap(services.ErrTransient, "tracker", "sync", "list originals", err)
	}
	cloaked, err := store.List(ctx, layout.CloakedPrefix)
	if err != nil {
		return SyncResult{}, services.Wrap(services.ErrTransient, "tracker", "sync", "list cloaked", err)
	}

	// Cloaked names carry the output extension, not the original's, so
	// outputs are matched back to originals by relative directory and base.
	index := make(map[string]string, len(originals))
	for _, obj := range originals {
		if _, ok := media.KindForKey(obj.Key); !ok {
			continue
		}
		index[path.Join(layout.OriginalDir(obj.Key), media.BaseName(obj.Key))] = obj.Key
	}

	levelsByKey := make(map[string]map[media.Level]bool)
	for _, obj := range cloaked {
		dir, base, level, ok := layout.ParseCloaked(obj.Key)
		if !ok {
			continue
		}
		originalKey, known := index[path.Join(dir, base)]
		if !known {
			continue
		}
		if levelsByKey[originalKey] == nil {
			levelsByKey[originalKey] = make(map[media.Level]bool)
		}
		levelsByKey[originalKey][level] = true
	}

	result := SyncResult{Items: len(index)}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return SyncResult{}, fmt.Errorf("begin sync tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{"DELETE FROM processed_levels", "DELETE FROM items"} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return SyncResult{}, fmt.Errorf("clear tracker state: %w", err)
		}
	}

	for _, originalKey := range index {
		have := levelsByKey[originalKey]
		for level := range have {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO processed_levels (key, level, processed_at) VALUES (?, ?, ?)",
				originalKey, string(level), now,
			); err != nil {
				return SyncResult{}, fmt.Errorf("insert level: %w", err)
			}
			result.Levels++
		}
		kind, _ := media.KindForKey(originalKey)
		done := t.policy.Satisfied(kind, have)
		if done {
			result.Complete++
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO items (key, all_done, updated_at) VALUES (?, ?, ?)",
			originalKey, boolToInt(done), now,
		); err != nil {
			return SyncResult{}, fmt.Errorf("insert item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return SyncResult{}, fmt.Errorf("commit sync: %w", err)
	}
	return result, nil
}

// DetermineMissingLevels returns the required levels for key that neither the
// local database nor the shared store can confirm. Remote HEAD lookups are
// issued only for levels the local database does not already know about, and
// confirmations are cached locally.
func (t *Tracker) DetermineMissingLevels(ctx context.Context, store objectstore.Store, layout media.Layout, key string) ([]media.Level, error) {
	kind, ok := media.KindForKey(key)
	if !ok {
		return nil, fmt.Errorf("unsupported media key %q", key)
	}

	var missing []media.Level
	for _, level := range t.policy.RequiredLevels(kind) {
		known, err := t.HasLevel(ctx, key, level)
		if err != nil {
			return nil, err
		}
		if known {
			continue
		}
		_, err = store.Head(ctx, layout.CloakedKey(key, level))
		switch {
		case err == nil:
			if err := t.MarkLevelProcessed(ctx, key, level); err != nil {
				return nil, err
			}
		case errors.Is(err, objectstore.ErrNotFound):
			missing = append(missing, level)
		default:
			return nil, services.Wrap(services.ErrTransient, "tracker", "determine missing levels", key, err)
		}
	}
	return missing, nil
}

// ItemState is one entry of a tracker snapshot.
type ItemState struct {
	ProcessedLevels []string `json:"processed_levels"`
	AllDone         bool     `json:"all_done"`
}

// Snapshot exports the full tracker state keyed by original item. The shape
// matches the legacy progress-file format consumed by existing tooling.
type Snapshot struct {
	Files map[string]ItemState `json:"files"`
}

// Export builds a snapshot of every tracked item.
func (t *Tracker) Export(ctx context.Context) (Snapshot, error) {
	snapshot := Snapshot{Files: make(map[string]ItemState)}

	rows, err := t.db.QueryContext(ctx, "SELECT key, all_done FROM items")
	if err != nil {
		return Snapshot{}, fmt.Errorf("query items: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			key  string
			done int
		)
		if err := rows.Scan(&key, &done); err != nil {
			return Snapshot{}, fmt.Errorf("scan item: %w", err)
		}
		snapshot.Files[key] = ItemState{AllDone: done != 0}
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, err
	}

	levelRows, err := t.db.QueryContext(ctx, "SELECT key, level FROM processed_levels")
	if err != nil {
		return Snapshot{}, fmt.Errorf("query levels: %w", err)
	}
	defer func() { _ = levelRows.Close() }()
	for levelRows.Next() {
		var key, level string
		if err := levelRows.Scan(&key, &level); err != nil {
			return Snapshot{}, fmt.Errorf("scan level: %w", err)
		}
		state := snapshot.Files[key]
		state.ProcessedLevels = append(state.ProcessedLevels, level)
		snapshot.Files[key] = state
	}
	if err := levelRows.Err(); err != nil {
		return Snapshot{}, err
	}

	for key, state := range snapshot.Files {
		sort.Strings(state.ProcessedLevels)
		snapshot.Files[key] = state
	}
	return snapshot, nil
}
