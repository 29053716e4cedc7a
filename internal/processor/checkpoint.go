package processor

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"shroud/internal/media"
	"shroud/internal/objectstore"
	"shroud/internal/services"
)

// checkpoint is the durable per-video progress record. A frame index is only
// recorded here after its output frame is durably stored, so resuming at
// LastProcessedFrame+1 can never skip a frame.
type checkpoint struct {
	FPS                float64 `json:"fps"`
	TotalFrames        int     `json:"total_frames"`
	LastProcessedFrame int     `json:"last_processed_frame"`
	Level              string  `json:"level"`
	StartedAt          string  `json:"started_at"`
}

// loadCheckpoint fetches the checkpoint for key, or nil when none exists.
func (p *Processor) loadCheckpoint(ctx context.Context, key string) (*checkpoint, error) {
	payload, err := p.store.Get(ctx, p.layout.ProgressKey(key))
	if errors.Is(err, objectstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "processor", "load checkpoint", key, err)
	}
	var cp checkpoint
	if err := json.Unmarshal(payload, &cp); err != nil {
		// An unreadable checkpoint is treated as absent; reprocessing
		// frames is idempotent.
		return nil, nil
	}
	return &cp, nil
}

func (p *Processor) saveCheckpoint(ctx context.Context, key string, cp *checkpoint) error {
	payload, err := json.Marshal(cp)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "processor", "save checkpoint", key, err)
	}
	if err := p.store.Put(ctx, p.layout.ProgressKey(key), payload); err != nil {
		return services.Wrap(services.ErrTransient, "processor", "save checkpoint", key, err)
	}
	return nil
}

func (p *Processor) deleteCheckpoint(ctx context.Context, key string) error {
	if err := p.store.Delete(ctx, p.layout.ProgressKey(key)); err != nil {
		return services.Wrap(services.ErrTransient, "processor", "delete checkpoint", key, err)
	}
	return nil
}

func newCheckpoint(fps float64, totalFrames int, level media.Level, now time.Time) *checkpoint {
	return &checkpoint{
		FPS:                fps,
		TotalFrames:        totalFrames,
		LastProcessedFrame: -1,
		Level:              string(level),
		StartedAt:          now.UTC().Format(time.RFC3339Nano),
	}
}
