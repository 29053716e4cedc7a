// Package config loads, normalizes, and validates shroud's TOML
// configuration. Path fields are expanded (including "~") and every section
// falls back to documented defaults so a minimal config only needs the
// bucket name.
package config
