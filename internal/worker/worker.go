// Package worker runs the orchestration loop: claim work, process it, record
// the outcome, repeat until told to stop. One worker process per machine; a
// file lock on the work directory enforces that.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"shroud/internal/failures"
	"shroud/internal/lease"
	"shroud/internal/logging"
	"shroud/internal/media"
	"shroud/internal/objectstore"
	"shroud/internal/processor"
	"shroud/internal/scanner"
	"shroud/internal/services"
	"shroud/internal/tracker"
)

// Option configures a Worker.
type Option func(*Worker)

// WithQueueSize bounds how many items one scan pass may claim.
func WithQueueSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.queueSize = n
		}
	}
}

// WithPollInterval sets the idle sleep between scans that found no work.
func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

// WithErrorRetryInterval sets the sleep after a failed scan.
func WithErrorRetryInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.errorRetryInterval = interval
		}
	}
}

// WithCurrentLeaseObserver registers a hook told which lease is actively
// being processed; the interrupt monitor uses it to release the in-flight
// claim first on shutdown.
func WithCurrentLeaseObserver(observer func(*lease.Lease)) Option {
	return func(w *Worker) {
		w.onCurrent = observer
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// Worker owns one machine's processing loop.
type Worker struct {
	store     objectstore.Store
	layout    media.Layout
	tracker   *tracker.Tracker
	failures  *failures.Registry
	leases    *lease.Manager
	scanner   *scanner.Scanner
	processor *processor.Processor
	workDir   string

	queueSize          int
	pollInterval       time.Duration
	errorRetryInterval time.Duration
	onCurrent          func(*lease.Lease)
	logger             *slog.Logger

	lockPath string
	lock     *flock.Flock
}

// New constructs a worker. workDir holds staging files and the instance
// lock.
func New(store objectstore.Store, layout media.Layout, trk *tracker.Tracker, reg *failures.Registry, leases *lease.Manager, scn *scanner.Scanner, proc *processor.Processor, workDir string, opts ...Option) *Worker {
	lockPath := filepath.Join(workDir, "shroud.lock")
	w := &Worker{
		store:              store,
		layout:             layout,
		tracker:            trk,
		failures:           reg,
		leases:             leases,
		scanner:            scn,
		processor:          proc,
		workDir:            workDir,
		queueSize:          3,
		pollInterval:       30 * time.Second,
		errorRetryInterval: time.Minute,
		logger:             logging.NewNop(),
		lockPath:           lockPath,
		lock:               flock.New(lockPath),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run executes the loop until the context is cancelled. Leases still held
// when the loop exits are released best-effort with a fresh context.
func (w *Worker) Run(ctx context.Context) error {
	ok, err := w.lock.TryLock()
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "worker", "instance lock", w.lockPath, err)
	}
	if !ok {
		return services.Wrap(services.ErrConfiguration, "worker", "instance lock",
			"another worker already runs against "+w.workDir, nil)
	}
	defer func() { _ = w.lock.Unlock() }()

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := w.leases.ReleaseAll(releaseCtx); err != nil {
			w.logger.Error("failed to release remaining leases",
				logging.String(logging.FieldComponent, "worker"),
				logging.Error(err))
		}
	}()

	w.logger.Info("worker started",
		logging.String(logging.FieldComponent, "worker"),
		logging.Int("queue_size", w.queueSize))

	for {
		if ctx.Err() != nil {
			return nil
		}
		entries, err := w.scanner.Build(ctx, w.queueSize)
		if err != nil {
			w.logger.Warn("scan failed, backing off",
				logging.String(logging.FieldComponent, "worker"),
				logging.Error(err))
			if !w.sleep(ctx, w.errorRetryInterval) {
				return nil
			}
			continue
		}
		if len(entries) == 0 {
			if !w.sleep(ctx, w.pollInterval) {
				return nil
			}
			continue
		}
		if err := w.processEntries(ctx, entries); err != nil {
			// Only cancellation propagates; per-item failures are
			// already recorded.
			return nil
		}
	}
}

// processEntries handles one claimed batch. Images run concurrently; videos
// run one at a time since each is a long frame loop of its own.
func (w *Worker) processEntries(ctx context.Context, entries []scanner.Entry) error {
	var images, videos []scanner.Entry
	for _, entry := range entries {
		if entry.Kind == media.KindVideo {
			videos = append(videos, entry)
		} else {
			images = append(images, entry)
		}
	}

	if len(images) > 0 {
		if err := w.processImageBatch(ctx, images); err != nil {
			return err
		}
	}
	for _, entry := range videos {
		if err := w.processSingle(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) processImageBatch(ctx context.Context, entries []scanner.Entry) error {
	items := make([]processor.Item, 0, len(entries))
	byKey := make(map[string]scanner.Entry, len(entries))
	for _, entry := range entries {
		item, ready := w.prepare(ctx, entry)
		if !ready {
			continue
		}
		items = append(items, item)
		byKey[entry.Key] = entry
	}
	if len(items) == 0 {
		return ctx.Err()
	}

	results := w.processor.ProcessBatch(ctx, items)
	for i, result := range results {
		entry := byKey[result.Key]
		if errors.Is(result.Err, context.Canceled) || errors.Is(result.Err, context.DeadlineExceeded) {
			w.removeStaged(items[i].LocalPath)
			continue
		}
		w.finish(ctx, entry, items[i].LocalPath, result.Err)
	}
	return ctx.Err()
}

func (w *Worker) processSingle(ctx context.Context, entry scanner.Entry) error {
	item, ready := w.prepare(ctx, entry)
	if !ready {
		return ctx.Err()
	}
	w.setCurrent(entry.Lease)
	err := w.processor.Process(ctx, item)
	w.setCurrent(nil)

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// Leave the checkpoint and frames behind; release happens in
		// the shutdown path.
		w.removeStaged(item.LocalPath)
		return err
	}
	w.finish(ctx, entry, item.LocalPath, err)
	return ctx.Err()
}

// prepare re-checks the item's remaining levels under the held lease and
// stages the original locally. A false return means the entry was disposed
// of (released) and should be skipped.
func (w *Worker) prepare(ctx context.Context, entry scanner.Entry) (processor.Item, bool) {
	missing, err := w.tracker.DetermineMissingLevels(ctx, w.store, w.layout, entry.Key)
	if err != nil {
		w.logger.Warn("level check failed, releasing claim",
			logging.String(logging.FieldComponent, "worker"),
			logging.String(logging.FieldItemKey, entry.Key),
			logging.Error(err))
		w.release(ctx, entry)
		return processor.Item{}, false
	}
	if len(missing) == 0 {
		// Someone else finished it between scan and claim.
		w.release(ctx, entry)
		return processor.Item{}, false
	}

	localPath := filepath.Join(w.workDir, "staging", path.Base(entry.Key))
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		w.release(ctx, entry)
		return processor.Item{}, false
	}
	if err := w.store.Download(ctx, entry.Key, localPath); err != nil {
		w.logger.Warn("download failed, releasing claim",
			logging.String(logging.FieldComponent, "worker"),
			logging.String(logging.FieldItemKey, entry.Key),
			logging.Error(err))
		w.release(ctx, entry)
		return processor.Item{}, false
	}

	return processor.Item{
		Key:           entry.Key,
		Kind:          entry.Kind,
		LocalPath:     localPath,
		MissingLevels: missing,
	}, true
}

// finish records the outcome of a processed item and releases its claim.
// Transient errors leave the item eligible for the next pass; anything else
// poisons it in the failure registry.
func (w *Worker) finish(ctx context.Context, entry scanner.Entry, localPath string, err error) {
	w.removeStaged(localPath)
	switch {
	case err == nil:
		w.logger.Info("item complete",
			logging.String(logging.FieldComponent, "worker"),
			logging.String(logging.FieldItemKey, entry.Key))
	case services.IsTransient(err):
		w.logger.Warn("transient failure, will retry on a later pass",
			logging.String(logging.FieldComponent, "worker"),
			logging.String(logging.FieldItemKey, entry.Key),
			logging.Error(err))
	default:
		if markErr := w.failures.MarkFailed(ctx, entry.Key, err); markErr != nil {
			w.logger.Error("failed to record failure",
				logging.String(logging.FieldComponent, "worker"),
				logging.String(logging.FieldItemKey, entry.Key),
				logging.Error(markErr))
		}
	}
	w.release(ctx, entry)
}

func (w *Worker) release(ctx context.Context, entry scanner.Entry) {
	if err := w.leases.Release(ctx, entry.Lease); err != nil {
		w.logger.Error("failed to release lease",
			logging.String(logging.FieldComponent, "worker"),
			logging.String(logging.FieldItemKey, entry.Key),
			logging.Error(err))
	}
}

func (w *Worker) removeStaged(localPath string) {
	if localPath != "" {
		_ = os.Remove(localPath)
	}
}

func (w *Worker) setCurrent(current *lease.Lease) {
	if w.onCurrent != nil {
		w.onCurrent(current)
	}
}

// sleep waits for the interval or the context, reporting false on
// cancellation.
func (w *Worker) sleep(ctx context.Context, interval time.Duration) bool {
	timer := time.NewTimer(interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
