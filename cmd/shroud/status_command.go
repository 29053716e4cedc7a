package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"shroud/internal/stats"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show dataset processing progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.ValidateForRun(); err != nil {
				return err
			}
			store, err := buildStore(cfg)
			if err != nil {
				return err
			}
			policy, err := buildPolicy(cfg)
			if err != nil {
				return err
			}

			summary, err := stats.Collect(cmd.Context(), store, buildLayout(cfg), policy)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range renderSectionHeader("Dataset status", colorize) {
				fmt.Fprintln(out, line)
			}
			rows := [][]string{
				{"Total items", strconv.Itoa(summary.TotalItems)},
				{"Images", strconv.Itoa(summary.Images)},
				{"Videos", strconv.Itoa(summary.Videos)},
				{"Complete", strconv.Itoa(summary.Complete)},
				{"Partially processed", strconv.Itoa(summary.Partial)},
				{"Unprocessed", strconv.Itoa(summary.Unprocessed)},
				{"Failed", colorizeCount(strconv.Itoa(summary.Failed), summary.Failed == 0, colorize)},
				{"Active locks", strconv.Itoa(summary.ActiveLocks)},
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Metric", "Count"},
				rows,
				[]columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}
}

func newInitCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the standard prefix structure in the bucket",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.ValidateForRun(); err != nil {
				return err
			}
			store, err := buildStore(cfg)
			if err != nil {
				return err
			}
			if err := stats.InitLayout(cmd.Context(), store, buildLayout(cfg)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "bucket structure initialized")
			return nil
		},
	}
}
