package cloak

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"shroud/internal/media"
	"shroud/internal/services"
)

var commandContext = exec.CommandContext

// Outcome reports the per-path result of a transform invocation. The
// transform either leaves a "_cloaked" artifact next to the input or it does
// not; there is no partial result for a single path.
type Outcome struct {
	Input      string
	OutputPath string
	Cloaked    bool
}

// Client defines cloaking transform behaviour. The transform itself is
// opaque; only the artifact convention is contractual.
type Client interface {
	Apply(ctx context.Context, inputs []string, level media.Level) ([]Outcome, error)
}

// Option configures the CLI client.
type Option func(*CLI)

// WithBinary overrides the default binary name.
func WithBinary(binary string) Option {
	return func(c *CLI) {
		if binary != "" {
			c.binary = binary
		}
	}
}

// WithTimeout bounds a single invocation. Zero means no deadline.
func WithTimeout(timeout time.Duration) Option {
	return func(c *CLI) {
		c.timeout = timeout
	}
}

// CLI wraps the external cloaking command-line tool.
type CLI struct {
	binary  string
	timeout time.Duration
}

// NewCLI constructs a CLI client using defaults.
func NewCLI(opts ...Option) *CLI {
	cli := &CLI{binary: "cloak"}
	for _, opt := range opts {
		opt(cli)
	}
	return cli
}

// OutputPath returns where the transform leaves the artifact for an input.
func OutputPath(input string) string {
	ext := filepath.Ext(input)
	stem := strings.TrimSuffix(filepath.Base(input), ext)
	return filepath.Join(filepath.Dir(input), stem+"_cloaked"+ext)
}

// Apply invokes the transform on the given paths at the given level and
// reports which inputs gained an artifact. A process-level failure is
// returned alongside the outcomes so callers can still degrade per path.
func (c *CLI) Apply(ctx context.Context, inputs []string, level media.Level) ([]Outcome, error) {
	if len(inputs) == 0 {
		return nil, errors.New("at least one input path required")
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	args := append([]string{"--level", string(level)}, inputs...)
	cmd := commandContext(ctx, c.binary, args...) //nolint:gosec
	output, runErr := cmd.CombinedOutput()

	outcomes := make([]Outcome, 0, len(inputs))
	for _, input := range inputs {
		artifact := OutputPath(input)
		_, statErr := os.Stat(artifact)
		outcomes = append(outcomes, Outcome{
			Input:      input,
			OutputPath: artifact,
			Cloaked:    statErr == nil,
		})
	}

	if runErr != nil {
		detail := strings.TrimSpace(string(output))
		if len(detail) > 512 {
			detail = detail[:512]
		}
		return outcomes, services.Wrap(services.ErrExternalTool, "cloak", "apply",
			fmt.Sprintf("level %s: %s", level, detail), runErr)
	}
	return outcomes, nil
}

var _ Client = (*CLI)(nil)
