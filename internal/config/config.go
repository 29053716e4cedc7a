package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains local directory configuration.
type Paths struct {
	WorkDir   string `toml:"work_dir"`
	LogDir    string `toml:"log_dir"`
	TrackerDB string `toml:"tracker_db"`
}

// Store contains object store connection settings.
type Store struct {
	Endpoint         string `toml:"endpoint"`
	Region           string `toml:"region"`
	Bucket           string `toml:"bucket"`
	Prefix           string `toml:"prefix"`
	Insecure         bool   `toml:"insecure"`
	ForcePathStyle   bool   `toml:"force_path_style"`
	OpTimeoutSeconds int    `toml:"op_timeout_seconds"`
}

// Layout overrides the key-space prefixes inside the bucket.
type Layout struct {
	OriginalsPrefix string `toml:"originals_prefix"`
	CloakedPrefix   string `toml:"cloaked_prefix"`
	LocksPrefix     string `toml:"locks_prefix"`
	ProgressPrefix  string `toml:"progress_prefix"`
	FramesPrefix    string `toml:"frames_prefix"`
	FailedPrefix    string `toml:"failed_prefix"`
}

// Policy contains the protection level requirements per media kind.
type Policy struct {
	// ImageLevels lists the levels an image needs before it is complete.
	ImageLevels []string `toml:"image_levels"`
	// VideoLevels lists the levels a video needs. Defaults to just "mid";
	// producing all three levels for video is a GPU-cost decision, not a
	// mechanism constraint.
	VideoLevels []string `toml:"video_levels"`
	// LeaseTTLMinutes ages out orphaned locks left by crashed workers.
	// Zero disables reclaim; orphans then require `shroud locks reap`.
	LeaseTTLMinutes int `toml:"lease_ttl_minutes"`
}

// Workflow contains worker loop timing and sizing.
type Workflow struct {
	QueueSize          int    `toml:"queue_size"`
	PollInterval       int    `toml:"poll_interval"`
	ErrorRetryInterval int    `toml:"error_retry_interval"`
	ImageParallelism   int    `toml:"image_parallelism"`
	TargetLevel        string `toml:"target_level"`
	AllLevels          bool   `toml:"all_levels"`
}

// Transform contains settings for the external cloaking tool.
type Transform struct {
	Binary         string `toml:"binary"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Interrupt contains preemption-notice polling settings.
type Interrupt struct {
	Enabled          bool   `toml:"enabled"`
	MetadataEndpoint string `toml:"metadata_endpoint"`
	PollInterval     int    `toml:"poll_interval"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for shroud.
type Config struct {
	Paths     Paths     `toml:"paths"`
	Store     Store     `toml:"store"`
	Layout    Layout    `toml:"layout"`
	Policy    Policy    `toml:"policy"`
	Workflow  Workflow  `toml:"workflow"`
	Transform Transform `toml:"transform"`
	Interrupt Interrupt `toml:"interrupt"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/shroud/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("shroud.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates the local directories the worker needs.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.WorkDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}
