// Package tracker persists which cloaking levels are known complete for each
// original item. It is a local cache of remote reality: the shared store is
// always authoritative, and the tracker exists to avoid repeating remote
// lookups for items this instance has already confirmed.
package tracker

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"shroud/internal/media"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped when the schema changes; a mismatched database must
// be deleted and rebuilt via Sync.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database was created by a different schema
// version.
var ErrSchemaMismatch = errors.New("tracker schema version mismatch")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Tracker manages completion state backed by SQLite.
type Tracker struct {
	db     *sql.DB
	path   string
	policy media.Policy
}

// Open initializes or connects to the tracker database at dbPath. The policy
// determines when an item counts as fully done.
func Open(dbPath string, policy media.Policy) (*Tracker, error) {
	if dbPath == "" {
		return nil, errors.New("tracker database path required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create tracker directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	tracker := &Tracker{db: db, path: dbPath, policy: policy}
	if err := tracker.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return tracker, nil
}

// Close closes the underlying database connection.
func (t *Tracker) Close() error {
	if t == nil || t.db == nil {
		return nil
	}
	return t.db.Close()
}

// Path returns the database file location.
func (t *Tracker) Path() string {
	return t.path
}

func (t *Tracker) initSchema(ctx context.Context) error {
	var tableExists int
	err := t.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return t.createSchema(ctx)
	}

	var version int
	if err := t.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s and re-sync)",
			ErrSchemaMismatch, version, schemaVersion, t.path)
	}
	return nil
}

func (t *Tracker) createSchema(ctx context.Context) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (t *Tracker) execWithRetry(ctx context.Context, query string, args ...any) error {
	return retryOnBusy(ctx, func() error {
		_, err := t.db.ExecContext(ctx, query, args...)
		return err
	})
}

// HasLevel reports whether a level is locally recorded as processed for key.
func (t *Tracker) HasLevel(ctx context.Context, key string, level media.Level) (bool, error) {
	var count int
	err := t.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM processed_levels WHERE key = ? AND level = ?",
		key, string(level),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("query processed level: %w", err)
	}
	return count > 0, nil
}

// Levels returns every level locally recorded as processed for key.
func (t *Tracker) Levels(ctx context.Context, key string) ([]media.Level, error) {
	rows, err := t.db.QueryContext(ctx,
		"SELECT level FROM processed_levels WHERE key = ? ORDER BY level",
		key,
	)
	if err != nil {
		return nil, fmt.Errorf("query levels: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var levels []media.Level
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan level: %w", err)
		}
		levels = append(levels, media.Level(raw))
	}
	return levels, rows.Err()
}

// MarkLevelProcessed records a completed level for key and refreshes the
// item's all_done flag against the policy.
func (t *Tracker) MarkLevelProcessed(ctx context.Context, key string, level media.Level) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := t.execWithRetry(ctx,
		"INSERT OR IGNORE INTO processed_levels (key, level, processed_at) VALUES (?, ?, ?)",
		key, string(level), now,
	); err != nil {
		return fmt.Errorf("record processed level: %w", err)
	}
	return t.refreshAllDone(ctx, key, now)
}

func (t *Tracker) refreshAllDone(ctx context.Context, key, now string) error {
	levels, err := t.Levels(ctx, key)
	if err != nil {
		return err
	}
	have := make(map[media.Level]bool, len(levels))
	for _, level := range levels {
		have[level] = true
	}
	kind, _ := media.KindForKey(key)
	done := t.policy.Satisfied(kind, have)
	if err := t.execWithRetry(ctx,
		`INSERT INTO items (key, all_done, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET all_done = excluded.all_done, updated_at = excluded.updated_at`,
		key, boolToInt(done), now,
	); err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// AllDone reports whether key is recorded as fully processed per the policy.
func (t *Tracker) AllDone(ctx context.Context, key string) (bool, error) {
	var done int
	err := t.db.QueryRowContext(ctx, "SELECT all_done FROM items WHERE key = ?", key).Scan(&done)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query item: %w", err)
	}
	return done != 0, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
