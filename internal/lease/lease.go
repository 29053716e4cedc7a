// Package lease coordinates exclusive item claims between worker instances
// through lock objects in the shared store. A lease is held by whichever
// instance created the lock object; releasing deletes it.
package lease

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"shroud/internal/logging"
	"shroud/internal/media"
	"shroud/internal/objectstore"
	"shroud/internal/services"
)

// Lease records a successfully acquired claim on an item.
type Lease struct {
	ItemKey    string
	LockKey    string
	AcquiredAt time.Time
}

type lockRecord struct {
	Timestamp string `json:"timestamp"`
	OwnerID   string `json:"owner_id"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL enables staleness reclaim: lock objects whose recorded timestamp is
// older than ttl are treated as orphaned and deleted before one retry.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		m.ttl = ttl
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// Manager acquires and releases lock objects and tracks every lease this
// instance currently holds so they can all be released on shutdown.
type Manager struct {
	store   objectstore.Store
	layout  media.Layout
	ownerID string
	ttl     time.Duration
	clock   func() time.Time
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string]*Lease
}

// NewManager constructs a lease manager for the given owner identity.
func NewManager(store objectstore.Store, layout media.Layout, ownerID string, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		layout:  layout,
		ownerID: ownerID,
		clock:   time.Now,
		logger:  logging.NewNop(),
		pending: make(map[string]*Lease),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire attempts to claim itemKey. It returns a nil lease with a nil error
// when another instance already holds the lock; that is contention, not a
// failure. Store errors are reported as transient.
func (m *Manager) Acquire(ctx context.Context, itemKey string) (*Lease, error) {
	lockKey := m.layout.LockKey(itemKey)
	now := m.clock().UTC()
	payload, err := json.Marshal(lockRecord{
		Timestamp: now.Format(time.RFC3339Nano),
		OwnerID:   m.ownerID,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "lease", "acquire", itemKey, err)
	}

	err = m.store.PutIfAbsent(ctx, lockKey, payload)
	if errors.Is(err, objectstore.ErrAlreadyExists) {
		if !m.reclaimIfStale(ctx, lockKey, now) {
			return nil, nil
		}
		err = m.store.PutIfAbsent(ctx, lockKey, payload)
		if errors.Is(err, objectstore.ErrAlreadyExists) {
			return nil, nil
		}
	}
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "lease", "acquire", itemKey, err)
	}

	lease := &Lease{ItemKey: itemKey, LockKey: lockKey, AcquiredAt: now}
	m.mu.Lock()
	m.pending[lockKey] = lease
	m.mu.Unlock()

	m.logger.Debug("lease acquired",
		logging.String(logging.FieldComponent, "lease"),
		logging.String(logging.FieldItemKey, itemKey))
	return lease, nil
}

// Release deletes the lock object for the lease. Releasing a nil or already
// released lease is a no-op.
func (m *Manager) Release(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}
	m.mu.Lock()
	delete(m.pending, lease.LockKey)
	m.mu.Unlock()

	if err := m.store.Delete(ctx, lease.LockKey); err != nil {
		return services.Wrap(services.ErrTransient, "lease", "release", lease.ItemKey, err)
	}
	m.logger.Debug("lease released",
		logging.String(logging.FieldComponent, "lease"),
		logging.String(logging.FieldItemKey, lease.ItemKey))
	return nil
}

// ReleaseAll releases every lease this instance still holds. Errors are
// collected; every lease gets a release attempt regardless.
func (m *Manager) ReleaseAll(ctx context.Context) error {
	m.mu.Lock()
	leases := make([]*Lease, 0, len(m.pending))
	for _, lease := range m.pending {
		leases = append(leases, lease)
	}
	m.mu.Unlock()

	var errs []error
	for _, lease := range leases {
		if err := m.Release(ctx, lease); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Pending returns how many leases this instance currently holds.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// reclaimIfStale reports whether an existing lock was deleted because its
// recorded timestamp is older than the configured TTL.
func (m *Manager) reclaimIfStale(ctx context.Context, lockKey string, now time.Time) bool {
	if m.ttl <= 0 {
		return false
	}
	payload, err := m.store.Get(ctx, lockKey)
	if err != nil {
		// Lock vanished between the conditional put and this read; let
		// the retry race for it.
		return errors.Is(err, objectstore.ErrNotFound)
	}
	var record lockRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return false
	}
	stamped, err := time.Parse(time.RFC3339Nano, record.Timestamp)
	if err != nil {
		return false
	}
	if now.Sub(stamped) < m.ttl {
		return false
	}
	if err := m.store.Delete(ctx, lockKey); err != nil {
		return false
	}
	m.logger.Warn("reclaimed stale lease",
		logging.String(logging.FieldComponent, "lease"),
		logging.String("lock_key", lockKey),
		logging.String("previous_owner", record.OwnerID))
	return true
}
