package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"shroud/internal/config"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, _, exists, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if exists {
		t.Fatal("expected exists=false for missing file")
	}
	if cfg.Workflow.QueueSize != 3 {
		t.Fatalf("queue size default = %d", cfg.Workflow.QueueSize)
	}
	if cfg.Paths.TrackerDB != filepath.Join(cfg.Paths.WorkDir, "tracker.db") {
		t.Fatalf("tracker db default = %q", cfg.Paths.TrackerDB)
	}
	if cfg.Layout.LocksPrefix != "locks/" {
		t.Fatalf("locks prefix default = %q", cfg.Layout.LocksPrefix)
	}
}

func TestLoadParsesAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shroud.toml")
	content := `
[store]
bucket = "cloak-dataset"
prefix = "/team-a/"

[layout]
locks_prefix = "Locks"

[policy]
video_levels = ["mid", "high"]

[workflow]
target_level = "HIGH"
queue_size = 0
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !exists || resolved == "" {
		t.Fatal("expected config file to be found")
	}
	if cfg.Store.Prefix != "team-a" {
		t.Fatalf("store prefix = %q", cfg.Store.Prefix)
	}
	if cfg.Layout.LocksPrefix != "Locks/" {
		t.Fatalf("locks prefix = %q", cfg.Layout.LocksPrefix)
	}
	if len(cfg.Policy.VideoLevels) != 2 {
		t.Fatalf("video levels = %v", cfg.Policy.VideoLevels)
	}
	if cfg.Workflow.TargetLevel != "high" {
		t.Fatalf("target level = %q", cfg.Workflow.TargetLevel)
	}
	if cfg.Workflow.QueueSize != 3 {
		t.Fatalf("queue size should fall back to default, got %d", cfg.Workflow.QueueSize)
	}
}

func TestValidateRejectsUnknownLevel(t *testing.T) {
	cfg := config.Default()
	cfg.Policy.ImageLevels = []string{"extreme"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestValidateForRunRequiresBucket(t *testing.T) {
	cfg := config.Default()
	if err := cfg.ValidateForRun(); err == nil {
		t.Fatal("expected error when bucket missing")
	}
	cfg.Store.Bucket = "cloak-dataset"
	if err := cfg.ValidateForRun(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(payload) == 0 {
		t.Fatal("sample config is empty")
	}
}
