package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"testing"
)

func TestParseFrameRate(t *testing.T) {
	cases := []struct {
		raw  string
		want float64
	}{
		{"30/1", 30},
		{"30000/1001", 29.97002997002997},
		{"24", 24},
	}
	for _, tc := range cases {
		got, err := parseFrameRate(tc.raw)
		if err != nil {
			t.Fatalf("parseFrameRate(%q) returned error: %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("parseFrameRate(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
	if _, err := parseFrameRate("30/0"); err == nil {
		t.Fatal("expected error for zero denominator")
	}
	if _, err := parseFrameRate(""); err == nil {
		t.Fatal("expected error for empty frame rate")
	}
}

func TestParseFrameCountFallsBack(t *testing.T) {
	count, err := parseFrameCount(probeStream{NBReadFrames: "N/A", NBFrames: "240"})
	if err != nil {
		t.Fatalf("parseFrameCount returned error: %v", err)
	}
	if count != 240 {
		t.Fatalf("expected 240 frames, got %d", count)
	}
	if _, err := parseFrameCount(probeStream{}); err == nil {
		t.Fatal("expected error when no count field is populated")
	}
}

func TestProbeParsesStreamInfo(t *testing.T) {
	setHelperCommand(t, "probe")

	info, err := (NewCLI()).Probe(context.Background(), "/media/clip.mp4")
	if err != nil {
		t.Fatalf("Probe returned error: %v", err)
	}
	if info.FrameCount != 120 {
		t.Fatalf("expected 120 frames, got %d", info.FrameCount)
	}
	if info.FPS != 30 {
		t.Fatalf("expected 30 fps, got %v", info.FPS)
	}
}

func TestProbeRejectsMissingStream(t *testing.T) {
	setHelperCommand(t, "nostream")

	if _, err := (NewCLI()).Probe(context.Background(), "/media/audio.mp4"); err == nil {
		t.Fatal("expected error when no video stream is present")
	}
}

func TestExtractFrameRejectsNegativeIndex(t *testing.T) {
	cli := NewCLI()
	if err := cli.ExtractFrame(context.Background(), "/media/clip.mp4", -1, "/tmp/out.png"); err == nil {
		t.Fatal("expected error for negative frame index")
	}
}

func TestExtractFrameSelectsIndex(t *testing.T) {
	var capturedArgs []string
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		capturedArgs = append([]string(nil), args...)
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "FFMPEG_HELPER_MODE=ok")
		return cmd
	}
	t.Cleanup(func() {
		commandContext = original
	})

	if err := (NewCLI()).ExtractFrame(context.Background(), "/media/clip.mp4", 42, "/tmp/frame.png"); err != nil {
		t.Fatalf("ExtractFrame returned error: %v", err)
	}

	found := false
	for _, arg := range capturedArgs {
		if arg == "select=eq(n\\,42)" {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("expected select filter for frame 42, got %v", capturedArgs)
	}
}

func TestAssembleFailureWrapsOutput(t *testing.T) {
	setHelperCommand(t, "failure")

	err := (NewCLI()).Assemble(context.Background(), "/work/frames/frame_%06d.png", 30, "/work/out.mp4")
	if err == nil {
		t.Fatal("expected assemble failure")
	}
}

func setHelperCommand(t *testing.T, mode string) {
	t.Helper()
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", fmt.Sprintf("FFMPEG_HELPER_MODE=%s", mode))
		return cmd
	}
	t.Cleanup(func() {
		commandContext = original
	})
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	switch os.Getenv("FFMPEG_HELPER_MODE") {
	case "probe":
		fmt.Println(`{"streams":[{"nb_read_frames":"120","r_frame_rate":"30/1"}]}`)
		os.Exit(0)
	case "nostream":
		fmt.Println(`{"streams":[]}`)
		os.Exit(0)
	case "ok":
		os.Exit(0)
	case "failure":
		fmt.Fprintln(os.Stderr, "conversion failed")
		os.Exit(1)
	default:
		os.Exit(0)
	}
}
