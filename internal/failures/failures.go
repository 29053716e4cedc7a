// Package failures records permanent per-item failures in the shared store
// so that every worker instance skips poisoned items. A failure marker stays
// until an operator clears it.
package failures

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"shroud/internal/logging"
	"shroud/internal/media"
	"shroud/internal/objectstore"
	"shroud/internal/services"
)

// Record is the payload stored at failed/<base>_failed.json.
type Record struct {
	OriginalKey string `json:"original_key"`
	Error       string `json:"error"`
	Timestamp   string `json:"timestamp"`
	OwnerID     string `json:"owner_id"`
}

// Registry reads and writes failure markers.
type Registry struct {
	store   objectstore.Store
	layout  media.Layout
	ownerID string
	clock   func() time.Time
	logger  *slog.Logger
}

// NewRegistry constructs a failure registry for the given owner identity.
func NewRegistry(store objectstore.Store, layout media.Layout, ownerID string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Registry{
		store:   store,
		layout:  layout,
		ownerID: ownerID,
		clock:   time.Now,
		logger:  logger,
	}
}

// IsFailed reports whether a failure marker exists for key.
func (r *Registry) IsFailed(ctx context.Context, key string) (bool, error) {
	_, err := r.store.Head(ctx, r.layout.FailedKey(key))
	if errors.Is(err, objectstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, services.Wrap(services.ErrTransient, "failures", "check", key, err)
	}
	return true, nil
}

// MarkFailed writes a failure marker for key with the given cause. An
// existing marker is overwritten; the newest failure wins.
func (r *Registry) MarkFailed(ctx context.Context, key string, cause error) error {
	message := "unknown failure"
	if cause != nil {
		message = cause.Error()
	}
	payload, err := json.Marshal(Record{
		OriginalKey: key,
		Error:       message,
		Timestamp:   r.clock().UTC().Format(time.RFC3339Nano),
		OwnerID:     r.ownerID,
	})
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "failures", "mark", key, err)
	}
	if err := r.store.Put(ctx, r.layout.FailedKey(key), payload); err != nil {
		return services.Wrap(services.ErrTransient, "failures", "mark", key, err)
	}
	r.logger.Warn("item marked failed",
		logging.String(logging.FieldComponent, "failures"),
		logging.String(logging.FieldItemKey, key),
		logging.String("cause", message))
	return nil
}

// List returns every failure record in the registry. Markers with unreadable
// payloads are returned with only the key populated rather than dropped.
func (r *Registry) List(ctx context.Context) ([]Record, error) {
	objects, err := r.store.List(ctx, r.layout.FailedPrefix)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "failures", "list", "", err)
	}
	records := make([]Record, 0, len(objects))
	for _, obj := range objects {
		payload, err := r.store.Get(ctx, obj.Key)
		if err != nil {
			if errors.Is(err, objectstore.ErrNotFound) {
				continue
			}
			return nil, services.Wrap(services.ErrTransient, "failures", "list", obj.Key, err)
		}
		var record Record
		if err := json.Unmarshal(payload, &record); err != nil {
			records = append(records, Record{OriginalKey: obj.Key})
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// Clear removes the failure marker for key, making the item eligible again.
// Clearing an unmarked item is a no-op.
func (r *Registry) Clear(ctx context.Context, key string) error {
	if err := r.store.Delete(ctx, r.layout.FailedKey(key)); err != nil {
		return services.Wrap(services.ErrTransient, "failures", "clear", key, err)
	}
	return nil
}
