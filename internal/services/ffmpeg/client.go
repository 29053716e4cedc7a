// Package ffmpeg wraps the ffmpeg and ffprobe command-line tools for frame
// extraction, reassembly, and stream inspection.
package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"shroud/internal/services"
)

var commandContext = exec.CommandContext

// Info describes the primary video stream of a file.
type Info struct {
	FPS        float64
	FrameCount int
}

// Client defines the video tooling operations the processor relies on.
type Client interface {
	Probe(ctx context.Context, path string) (Info, error)
	ExtractFrame(ctx context.Context, videoPath string, index int, outputPath string) error
	Assemble(ctx context.Context, framePattern string, fps float64, outputPath string) error
}

// Option configures the CLI client.
type Option func(*CLI)

// WithFFmpegBinary overrides the ffmpeg binary name.
func WithFFmpegBinary(binary string) Option {
	return func(c *CLI) {
		if binary != "" {
			c.ffmpeg = binary
		}
	}
}

// WithFFprobeBinary overrides the ffprobe binary name.
func WithFFprobeBinary(binary string) Option {
	return func(c *CLI) {
		if binary != "" {
			c.ffprobe = binary
		}
	}
}

// CLI shells out to ffmpeg and ffprobe.
type CLI struct {
	ffmpeg  string
	ffprobe string
}

// NewCLI constructs a CLI client using defaults.
func NewCLI(opts ...Option) *CLI {
	cli := &CLI{ffmpeg: "ffmpeg", ffprobe: "ffprobe"}
	for _, opt := range opts {
		opt(cli)
	}
	return cli
}

type probeStream struct {
	NBReadFrames string `json:"nb_read_frames"`
	NBFrames     string `json:"nb_frames"`
	RFrameRate   string `json:"r_frame_rate"`
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
}

// Probe inspects the first video stream and returns its frame rate and total
// frame count. Frames are counted by decoding, which is slow but exact.
func (c *CLI) Probe(ctx context.Context, path string) (Info, error) {
	if path == "" {
		return Info{}, errors.New("video path required")
	}
	args := []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-count_frames",
		"-show_entries", "stream=nb_read_frames,nb_frames,r_frame_rate",
		"-of", "json",
		path,
	}
	cmd := commandContext(ctx, c.ffprobe, args...) //nolint:gosec
	output, err := cmd.Output()
	if err != nil {
		return Info{}, services.Wrap(services.ErrExternalTool, "ffprobe", "probe", path, err)
	}

	var probed probeOutput
	if err := json.Unmarshal(output, &probed); err != nil {
		return Info{}, services.Wrap(services.ErrExternalTool, "ffprobe", "probe", "unparseable output", err)
	}
	if len(probed.Streams) == 0 {
		return Info{}, services.Wrap(services.ErrExternalTool, "ffprobe", "probe", "no video stream in "+path, nil)
	}

	stream := probed.Streams[0]
	fps, err := parseFrameRate(stream.RFrameRate)
	if err != nil {
		return Info{}, services.Wrap(services.ErrExternalTool, "ffprobe", "probe", "frame rate "+stream.RFrameRate, err)
	}
	frameCount, err := parseFrameCount(stream)
	if err != nil {
		return Info{}, services.Wrap(services.ErrExternalTool, "ffprobe", "probe", path, err)
	}
	return Info{FPS: fps, FrameCount: frameCount}, nil
}

// ExtractFrame decodes a single frame by index into outputPath.
func (c *CLI) ExtractFrame(ctx context.Context, videoPath string, index int, outputPath string) error {
	if videoPath == "" || outputPath == "" {
		return errors.New("video and output paths required")
	}
	if index < 0 {
		return fmt.Errorf("frame index %d out of range", index)
	}
	args := []string{
		"-y",
		"-v", "error",
		"-i", videoPath,
		"-vf", fmt.Sprintf("select=eq(n\\,%d)", index),
		"-frames:v", "1",
		outputPath,
	}
	cmd := commandContext(ctx, c.ffmpeg, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return services.Wrap(services.ErrExternalTool, "ffmpeg", "extract frame",
			fmt.Sprintf("index %d: %s", index, strings.TrimSpace(string(output))), err)
	}
	return nil
}

// Assemble encodes a sequence of numbered frames back into a video. The
// pattern is an ffmpeg image sequence pattern such as dir/frame_%06d.png.
func (c *CLI) Assemble(ctx context.Context, framePattern string, fps float64, outputPath string) error {
	if framePattern == "" || outputPath == "" {
		return errors.New("frame pattern and output path required")
	}
	if fps <= 0 {
		fps = 30
	}
	args := []string{
		"-y",
		"-v", "error",
		"-framerate", strconv.FormatFloat(fps, 'f', -1, 64),
		"-i", framePattern,
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		outputPath,
	}
	cmd := commandContext(ctx, c.ffmpeg, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return services.Wrap(services.ErrExternalTool, "ffmpeg", "assemble",
			strings.TrimSpace(string(output)), err)
	}
	return nil
}

func parseFrameRate(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errors.New("missing frame rate")
	}
	if num, den, ok := strings.Cut(raw, "/"); ok {
		n, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0, err
		}
		d, err := strconv.ParseFloat(den, 64)
		if err != nil {
			return 0, err
		}
		if d == 0 {
			return 0, errors.New("zero frame rate denominator")
		}
		return n / d, nil
	}
	return strconv.ParseFloat(raw, 64)
}

func parseFrameCount(stream probeStream) (int, error) {
	for _, raw := range []string{stream.NBReadFrames, stream.NBFrames} {
		raw = strings.TrimSpace(raw)
		if raw == "" || raw == "N/A" {
			continue
		}
		count, err := strconv.Atoi(raw)
		if err != nil {
			return 0, err
		}
		if count > 0 {
			return count, nil
		}
	}
	return 0, errors.New("frame count unavailable")
}

var _ Client = (*CLI)(nil)
