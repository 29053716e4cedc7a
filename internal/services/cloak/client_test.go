package cloak

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"shroud/internal/media"
	"shroud/internal/services"
)

func TestNewCLIWithBinary(t *testing.T) {
	cli := NewCLI(WithBinary("/opt/cloak"))
	if cli.binary != "/opt/cloak" {
		t.Fatalf("expected binary override to be applied, got %q", cli.binary)
	}
}

func TestCLIApplyRequiresInput(t *testing.T) {
	cli := NewCLI()
	if _, err := cli.Apply(context.Background(), nil, media.LevelMid); err == nil {
		t.Fatal("expected error when no inputs are given")
	}
}

func TestOutputPath(t *testing.T) {
	got := OutputPath("/work/frames/frame_000042.png")
	want := filepath.Join("/work/frames", "frame_000042_cloaked.png")
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestCLIApplyPassesLevel(t *testing.T) {
	var capturedArgs []string
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		capturedArgs = append([]string(nil), args...)
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "CLOAK_HELPER_MODE=skip")
		return cmd
	}
	t.Cleanup(func() {
		commandContext = original
	})

	input := filepath.Join(t.TempDir(), "photo.png")
	if _, err := (NewCLI()).Apply(context.Background(), []string{input}, media.LevelHigh); err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}

	idx := findArg(capturedArgs, "--level")
	if idx == -1 || idx+1 >= len(capturedArgs) {
		t.Fatalf("expected --level flag with value, got %v", capturedArgs)
	}
	if capturedArgs[idx+1] != "high" {
		t.Fatalf("expected level high, got %q", capturedArgs[idx+1])
	}
}

func TestCLIApplySuccessReportsArtifacts(t *testing.T) {
	setHelperCommand(t, "success")

	tempDir := t.TempDir()
	first := filepath.Join(tempDir, "frame_000001.png")
	second := filepath.Join(tempDir, "frame_000002.png")
	for _, p := range []string{first, second} {
		if err := os.WriteFile(p, []byte("pixels"), 0o644); err != nil {
			t.Fatalf("write input: %v", err)
		}
	}

	outcomes, err := (NewCLI()).Apply(context.Background(), []string{first, second}, media.LevelMid)
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	for _, outcome := range outcomes {
		if !outcome.Cloaked {
			t.Fatalf("expected %q to be cloaked", outcome.Input)
		}
		if outcome.OutputPath != OutputPath(outcome.Input) {
			t.Fatalf("unexpected output path %q", outcome.OutputPath)
		}
	}
}

func TestCLIApplySkipReportsUncloaked(t *testing.T) {
	setHelperCommand(t, "skip")

	input := filepath.Join(t.TempDir(), "face.jpg")
	if err := os.WriteFile(input, []byte("pixels"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	outcomes, err := (NewCLI()).Apply(context.Background(), []string{input}, media.LevelLow)
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if outcomes[0].Cloaked {
		t.Fatal("expected input to remain uncloaked when no artifact appears")
	}
}

func TestCLIApplyFailureStillReportsOutcomes(t *testing.T) {
	setHelperCommand(t, "failure")

	input := filepath.Join(t.TempDir(), "face.png")
	if err := os.WriteFile(input, []byte("pixels"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	outcomes, err := (NewCLI()).Apply(context.Background(), []string{input}, media.LevelMid)
	if err == nil {
		t.Fatal("expected process failure error")
	}
	if !services.IsExternalTool(err) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Cloaked {
		t.Fatalf("expected one uncloaked outcome, got %v", outcomes)
	}
}

func setHelperCommand(t *testing.T, mode string) {
	t.Helper()
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		helperArgs := append([]string{"-test.run=TestHelperProcess", "--"}, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], helperArgs...)
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", fmt.Sprintf("CLOAK_HELPER_MODE=%s", mode))
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

	args := os.Args
	for i, arg := range args {
		if arg == "--" {
			args = args[i+1:]
			break
		}
	}

	switch os.Getenv("CLOAK_HELPER_MODE") {
	case "success":
		for i := 0; i < len(args); i++ {
			if args[i] == "--level" {
				i++
				continue
			}
			if err := os.WriteFile(OutputPath(args[i]), []byte("cloaked"), 0o644); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
		}
		os.Exit(0)
	case "skip":
		os.Exit(0)
	case "failure":
		fmt.Fprintln(os.Stderr, "no faces detected")
		os.Exit(1)
	default:
		os.Exit(0)
	}
}

func findArg(args []string, target string) int {
	for i, arg := range args {
		if arg == target {
			return i
		}
	}
	return -1
}
