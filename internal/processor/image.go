package processor

import (
	"context"
	"fmt"
	"os"

	"shroud/internal/media"
	"shroud/internal/services"
)

// processImageLevel transforms one image at one level and uploads the
// artifact. A transform that produces no artifact is a permanent failure for
// this item; the caller records it in the failure registry.
func (p *Processor) processImageLevel(ctx context.Context, key, localPath string, level media.Level) error {
	outcomes, err := p.cloak.Apply(ctx, []string{localPath}, level)
	if err != nil {
		return err
	}
	if len(outcomes) != 1 || !outcomes[0].Cloaked {
		return services.Wrap(services.ErrExternalTool, "processor", "cloak image",
			fmt.Sprintf("%s: no %s artifact produced", key, level), nil)
	}

	artifact := outcomes[0].OutputPath
	defer func() { _ = os.Remove(artifact) }()

	target := p.layout.CloakedKey(key, level)
	if err := p.store.Upload(ctx, artifact, target); err != nil {
		return services.Wrap(services.ErrTransient, "processor", "upload image", target, err)
	}
	return nil
}
