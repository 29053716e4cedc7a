package config

import (
	"fmt"
	"strings"
)

var knownLevels = map[string]struct{}{"low": {}, "mid": {}, "high": {}}

// Validate checks configuration coherence. Store credentials and bucket
// reachability are checked at startup, not here.
func (c *Config) Validate() error {
	for _, level := range c.Policy.ImageLevels {
		if _, ok := knownLevels[strings.ToLower(level)]; !ok {
			return fmt.Errorf("policy.image_levels: unknown level %q", level)
		}
	}
	for _, level := range c.Policy.VideoLevels {
		if _, ok := knownLevels[strings.ToLower(level)]; !ok {
			return fmt.Errorf("policy.video_levels: unknown level %q", level)
		}
	}
	if len(c.Policy.ImageLevels) == 0 {
		return fmt.Errorf("policy.image_levels: at least one level is required")
	}
	if len(c.Policy.VideoLevels) == 0 {
		return fmt.Errorf("policy.video_levels: at least one level is required")
	}
	if c.Policy.LeaseTTLMinutes < 0 {
		return fmt.Errorf("policy.lease_ttl_minutes: must not be negative")
	}
	if _, ok := knownLevels[c.Workflow.TargetLevel]; !ok {
		return fmt.Errorf("workflow.target_level: unknown level %q", c.Workflow.TargetLevel)
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}

// ValidateForRun adds the checks that only matter when talking to the store.
func (c *Config) ValidateForRun() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Store.Bucket == "" {
		return fmt.Errorf("store.bucket: required")
	}
	return nil
}
