// Package processor turns a claimed original into its cloaked outputs.
// Images are transformed whole, one pass per level. Videos are transformed
// frame by frame against a durable checkpoint so that a killed instance
// resumes where it stopped instead of starting over.
package processor

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"shroud/internal/logging"
	"shroud/internal/media"
	"shroud/internal/objectstore"
	"shroud/internal/services/cloak"
	"shroud/internal/services/ffmpeg"
)

// Item is one unit of processing work: a downloaded original plus the levels
// it still needs.
type Item struct {
	Key           string
	Kind          media.Kind
	LocalPath     string
	MissingLevels []media.Level
}

// Result pairs an item key with its processing outcome.
type Result struct {
	Key string
	Err error
}

// Option configures a Processor.
type Option func(*Processor)

// WithImageParallelism bounds how many images one batch transforms at once.
func WithImageParallelism(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.imageParallelism = n
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(p *Processor) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithLevelObserver registers a hook invoked after each level's output is
// durably stored. The completion tracker hangs off this.
func WithLevelObserver(observer func(key string, level media.Level)) Option {
	return func(p *Processor) {
		p.onLevel = observer
	}
}

// Processor runs cloaking transforms and manages their durable state.
type Processor struct {
	store            objectstore.Store
	layout           media.Layout
	cloak            cloak.Client
	video            ffmpeg.Client
	workDir          string
	imageParallelism int
	clock            func() time.Time
	logger           *slog.Logger
	onLevel          func(key string, level media.Level)
}

// New constructs a processor that stages scratch files under workDir.
func New(store objectstore.Store, layout media.Layout, cloakClient cloak.Client, videoClient ffmpeg.Client, workDir string, opts ...Option) *Processor {
	p := &Processor{
		store:            store,
		layout:           layout,
		cloak:            cloakClient,
		video:            videoClient,
		workDir:          workDir,
		imageParallelism: 1,
		clock:            time.Now,
		logger:           logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs every missing level for one item. Videos stop at the first
// level error; a context cancellation is returned as-is so the caller can
// distinguish interruption from failure.
func (p *Processor) Process(ctx context.Context, item Item) error {
	for _, level := range item.MissingLevels {
		var err error
		switch item.Kind {
		case media.KindVideo:
			err = p.processVideoLevel(ctx, item.Key, item.LocalPath, level)
		default:
			err = p.processImageLevel(ctx, item.Key, item.LocalPath, level)
		}
		if err != nil {
			return err
		}
		if p.onLevel != nil {
			p.onLevel(item.Key, level)
		}
		p.logger.Info("level complete",
			logging.String(logging.FieldComponent, "processor"),
			logging.String(logging.FieldItemKey, item.Key),
			logging.String(logging.FieldLevel, string(level)))
	}
	return nil
}

// ProcessBatch runs independent items concurrently, bounded by the image
// parallelism limit. Videos belong in batches of one; their frame loops are
// already long-running and IO-heavy.
func (p *Processor) ProcessBatch(ctx context.Context, items []Item) []Result {
	results := make([]Result, len(items))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.imageParallelism)
	for i, item := range items {
		group.Go(func() error {
			results[i] = Result{Key: item.Key, Err: p.Process(groupCtx, item)}
			return nil
		})
	}
	_ = group.Wait()
	return results
}

// scratchDir creates and returns a per-item scratch directory.
func (p *Processor) scratchDir(key, purpose string) (string, error) {
	dir := filepath.Join(p.workDir, purpose, media.BaseName(key))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}
