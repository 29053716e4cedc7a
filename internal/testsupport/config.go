// Package testsupport provides shared helpers for package tests.
package testsupport

import (
	"path/filepath"
	"testing"

	"shroud/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Store.Bucket = "shroud-test"
	cfg.Paths.WorkDir = filepath.Join(base, "work")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.TrackerDB = filepath.Join(base, "work", "tracker.db")
	cfg.Workflow.PollInterval = 1
	cfg.Workflow.ErrorRetryInterval = 1
	cfg.Interrupt.Enabled = false

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithBucket overrides the bucket on the test config.
func WithBucket(bucket string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Store.Bucket = bucket
	}
}

// WithEndpoint points the test config at an S3 endpoint.
func WithEndpoint(endpoint string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Store.Endpoint = endpoint
		cfg.Store.Insecure = true
		cfg.Store.ForcePathStyle = true
	}
}
