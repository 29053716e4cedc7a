package processor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"shroud/internal/logging"
	"shroud/internal/media"
	"shroud/internal/services"
)

// processVideoLevel runs the resumable frame loop for one video at one
// level. Frames advance strictly in order; the checkpoint moves only after
// the frame's output is durably stored, and local copies are deleted as soon
// as they are uploaded so disk usage stays constant regardless of video
// length.
func (p *Processor) processVideoLevel(ctx context.Context, key, localPath string, level media.Level) error {
	cp, err := p.loadCheckpoint(ctx, key)
	if err != nil {
		return err
	}
	if cp != nil && cp.Level != string(level) {
		// A checkpoint from a different level cannot be resumed; its
		// frames are for the wrong transform.
		if err := p.discardFrameArea(ctx, key); err != nil {
			return err
		}
		if err := p.deleteCheckpoint(ctx, key); err != nil {
			return err
		}
		cp = nil
	}
	if cp == nil {
		info, err := p.video.Probe(ctx, localPath)
		if err != nil {
			return err
		}
		if info.FrameCount <= 0 {
			return services.Wrap(services.ErrExternalTool, "processor", "cloak video",
				fmt.Sprintf("%s: no frames reported", key), nil)
		}
		cp = newCheckpoint(info.FPS, info.FrameCount, level, p.clock())
		if err := p.saveCheckpoint(ctx, key, cp); err != nil {
			return err
		}
	} else {
		p.logger.Info("resuming video",
			logging.String(logging.FieldComponent, "processor"),
			logging.String(logging.FieldItemKey, key),
			logging.Int(logging.FieldFrame, cp.LastProcessedFrame+1),
			logging.Int("total_frames", cp.TotalFrames))
	}

	scratch, err := p.scratchDir(key, "frames")
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "processor", "cloak video", key, err)
	}
	defer func() { _ = os.RemoveAll(scratch) }()

	for index := cp.LastProcessedFrame + 1; index < cp.TotalFrames; index++ {
		if err := ctx.Err(); err != nil {
			// Interrupted: checkpoint and uploaded frames stay behind
			// for whoever resumes.
			return err
		}
		if err := p.processFrame(ctx, key, localPath, scratch, index, level); err != nil {
			return err
		}
		cp.LastProcessedFrame = index
		if err := p.saveCheckpoint(ctx, key, cp); err != nil {
			return err
		}
	}

	return p.completeVideo(ctx, key, level, cp)
}

// processFrame extracts, transforms, and durably stores a single frame. A
// transform failure degrades to the untouched original frame; the output
// video must keep every frame.
func (p *Processor) processFrame(ctx context.Context, key, localPath, scratch string, index int, level media.Level) error {
	framePath := filepath.Join(scratch, fmt.Sprintf("frame_%06d.png", index))
	if err := p.video.ExtractFrame(ctx, localPath, index, framePath); err != nil {
		return err
	}
	defer func() { _ = os.Remove(framePath) }()

	uploadPath := framePath
	outcomes, err := p.cloak.Apply(ctx, []string{framePath}, level)
	if err == nil && len(outcomes) == 1 && outcomes[0].Cloaked {
		uploadPath = outcomes[0].OutputPath
		defer func() { _ = os.Remove(uploadPath) }()
	} else {
		p.logger.Warn("frame transform failed, keeping original frame",
			logging.String(logging.FieldComponent, "processor"),
			logging.String(logging.FieldItemKey, key),
			logging.Int(logging.FieldFrame, index),
			logging.Error(err))
	}

	target := p.layout.FrameKey(key, index)
	if err := p.store.Upload(ctx, uploadPath, target); err != nil {
		return services.Wrap(services.ErrTransient, "processor", "upload frame", target, err)
	}
	return nil
}

// completeVideo reassembles the stored frames into the cloaked output,
// uploads it, and clears the temporary state.
func (p *Processor) completeVideo(ctx context.Context, key string, level media.Level, cp *checkpoint) error {
	assembleDir, err := p.scratchDir(key, "assemble")
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "processor", "assemble video", key, err)
	}
	defer func() { _ = os.RemoveAll(assembleDir) }()

	for index := 0; index < cp.TotalFrames; index++ {
		localFrame := filepath.Join(assembleDir, fmt.Sprintf("frame_%06d.png", index))
		if _, statErr := os.Stat(localFrame); statErr == nil {
			continue
		}
		remoteFrame := p.layout.FrameKey(key, index)
		if err := p.store.Download(ctx, remoteFrame, localFrame); err != nil {
			return services.Wrap(services.ErrTransient, "processor", "download frame", remoteFrame, err)
		}
	}

	outputPath := filepath.Join(assembleDir, media.BaseName(key)+"_cloaked"+media.OutputExt(media.KindVideo))
	pattern := filepath.Join(assembleDir, "frame_%06d.png")
	if err := p.video.Assemble(ctx, pattern, cp.FPS, outputPath); err != nil {
		return err
	}

	target := p.layout.CloakedKey(key, level)
	if err := p.store.Upload(ctx, outputPath, target); err != nil {
		return services.Wrap(services.ErrTransient, "processor", "upload video", target, err)
	}

	if err := p.deleteCheckpoint(ctx, key); err != nil {
		return err
	}
	return p.discardFrameArea(ctx, key)
}

// discardFrameArea deletes every stored temporary frame for key.
func (p *Processor) discardFrameArea(ctx context.Context, key string) error {
	prefix := p.layout.FramesPrefixFor(key)
	frames, err := p.store.List(ctx, prefix)
	if err != nil {
		return services.Wrap(services.ErrTransient, "processor", "list frames", prefix, err)
	}
	for _, frame := range frames {
		if err := p.store.Delete(ctx, frame.Key); err != nil {
			return services.Wrap(services.ErrTransient, "processor", "delete frame", frame.Key, err)
		}
	}
	return nil
}
