package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"shroud/internal/config"
	"shroud/internal/media"
	"shroud/internal/objectstore"
)

// buildStore opens the configured bucket.
func buildStore(cfg *config.Config) (*objectstore.S3Store, error) {
	return objectstore.NewS3(objectstore.S3Config{
		Endpoint:       cfg.Store.Endpoint,
		Region:         cfg.Store.Region,
		Bucket:         cfg.Store.Bucket,
		Prefix:         cfg.Store.Prefix,
		Insecure:       cfg.Store.Insecure,
		ForcePathStyle: cfg.Store.ForcePathStyle,
		OpTimeout:      time.Duration(cfg.Store.OpTimeoutSeconds) * time.Second,
	})
}

// buildLayout maps the config's layout section onto the key-space layout,
// falling back to the standard prefixes.
func buildLayout(cfg *config.Config) media.Layout {
	layout := media.DefaultLayout()
	if cfg.Layout.OriginalsPrefix != "" {
		layout.OriginalsPrefix = cfg.Layout.OriginalsPrefix
	}
	if cfg.Layout.CloakedPrefix != "" {
		layout.CloakedPrefix = cfg.Layout.CloakedPrefix
	}
	if cfg.Layout.LocksPrefix != "" {
		layout.LocksPrefix = cfg.Layout.LocksPrefix
	}
	if cfg.Layout.ProgressPrefix != "" {
		layout.ProgressPrefix = cfg.Layout.ProgressPrefix
	}
	if cfg.Layout.FramesPrefix != "" {
		layout.FramesPrefix = cfg.Layout.FramesPrefix
	}
	if cfg.Layout.FailedPrefix != "" {
		layout.FailedPrefix = cfg.Layout.FailedPrefix
	}
	return layout
}

// buildPolicy derives the level policy. A target_level without all_levels
// narrows both kinds to that single level for focused runs.
func buildPolicy(cfg *config.Config) (media.Policy, error) {
	policy := media.DefaultPolicy()

	if target := cfg.Workflow.TargetLevel; target != "" && !cfg.Workflow.AllLevels {
		level, ok := media.ParseLevel(target)
		if !ok {
			return media.Policy{}, fmt.Errorf("unknown target level %q", target)
		}
		policy.ImageLevels = []media.Level{level}
		policy.VideoLevels = []media.Level{level}
		return policy, nil
	}

	if levels, err := parseLevels(cfg.Policy.ImageLevels); err != nil {
		return media.Policy{}, err
	} else if len(levels) > 0 {
		policy.ImageLevels = levels
	}
	if levels, err := parseLevels(cfg.Policy.VideoLevels); err != nil {
		return media.Policy{}, err
	} else if len(levels) > 0 {
		policy.VideoLevels = levels
	}
	return policy, nil
}

func parseLevels(raw []string) ([]media.Level, error) {
	levels := make([]media.Level, 0, len(raw))
	for _, value := range raw {
		level, ok := media.ParseLevel(value)
		if !ok {
			return nil, fmt.Errorf("unknown protection level %q", value)
		}
		levels = append(levels, level)
	}
	return levels, nil
}

// ownerID identifies this worker instance in lock and failure records.
func ownerID() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "worker"
	}
	return hostname + "-" + uuid.NewString()[:8]
}

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}
