package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"shroud/internal/failures"
)

func newFailedCommand(ctx *commandContext) *cobra.Command {
	failedCmd := &cobra.Command{
		Use:   "failed",
		Short: "Inspect and clear permanent item failures",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := buildRegistry(ctx)
			if err != nil {
				return err
			}
			records, err := registry.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no failed items")
				return nil
			}

			rows := make([][]string, 0, len(records))
			for _, record := range records {
				rows = append(rows, []string{record.OriginalKey, record.Error, record.Timestamp, record.OwnerID})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Item", "Error", "When", "Owner"},
				rows,
				nil))
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear <original-key>",
		Short: "Clear the failure marker for an item so it becomes eligible again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := buildRegistry(ctx)
			if err != nil {
				return err
			}
			if err := registry.Clear(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared failure marker for %s\n", args[0])
			return nil
		},
	}

	failedCmd.AddCommand(clearCmd)
	return failedCmd
}

func buildRegistry(ctx *commandContext) (*failures.Registry, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateForRun(); err != nil {
		return nil, err
	}
	store, err := buildStore(cfg)
	if err != nil {
		return nil, err
	}
	return failures.NewRegistry(store, buildLayout(cfg), ownerID(), nil), nil
}
