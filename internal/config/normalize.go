package config

import (
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	var err error
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}
	if strings.TrimSpace(c.Paths.TrackerDB) == "" {
		c.Paths.TrackerDB = filepath.Join(c.Paths.WorkDir, "tracker.db")
	} else if c.Paths.TrackerDB, err = expandPath(c.Paths.TrackerDB); err != nil {
		return err
	}

	c.Store.Endpoint = strings.TrimSpace(c.Store.Endpoint)
	c.Store.Bucket = strings.TrimSpace(c.Store.Bucket)
	c.Store.Prefix = strings.Trim(strings.TrimSpace(c.Store.Prefix), "/")

	normalizePrefix(&c.Layout.OriginalsPrefix, "originals/")
	normalizePrefix(&c.Layout.CloakedPrefix, "cloaked/")
	normalizePrefix(&c.Layout.LocksPrefix, "locks/")
	normalizePrefix(&c.Layout.ProgressPrefix, "tempProgress/")
	normalizePrefix(&c.Layout.FramesPrefix, "tempFrames/")
	normalizePrefix(&c.Layout.FailedPrefix, "failed/")

	if c.Workflow.QueueSize <= 0 {
		c.Workflow.QueueSize = defaultQueueSize
	}
	if c.Workflow.PollInterval <= 0 {
		c.Workflow.PollInterval = defaultPollInterval
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		c.Workflow.ErrorRetryInterval = defaultErrorRetryInterval
	}
	if c.Workflow.ImageParallelism <= 0 {
		c.Workflow.ImageParallelism = defaultImageParallelism
	}
	c.Workflow.TargetLevel = strings.ToLower(strings.TrimSpace(c.Workflow.TargetLevel))
	if c.Workflow.TargetLevel == "" {
		c.Workflow.TargetLevel = defaultTargetLevel
	}

	if strings.TrimSpace(c.Transform.Binary) == "" {
		c.Transform.Binary = defaultTransformBinary
	}
	if c.Interrupt.PollInterval <= 0 {
		c.Interrupt.PollInterval = defaultInterruptInterval
	}
	return nil
}

// normalizePrefix trims the value and guarantees a trailing slash, falling
// back to the default for empty values.
func normalizePrefix(value *string, fallback string) {
	trimmed := strings.Trim(strings.TrimSpace(*value), "/")
	if trimmed == "" {
		*value = fallback
		return
	}
	*value = trimmed + "/"
}
