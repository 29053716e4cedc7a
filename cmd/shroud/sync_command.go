package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"shroud/internal/tracker"
)

func newSyncCommand(ctx *commandContext) *cobra.Command {
	var export bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Rebuild the local completion tracker from the bucket",
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

			trk, err := tracker.Open(cfg.Paths.TrackerDB, policy)
			if err != nil {
				return err
			}
			defer func() { _ = trk.Close() }()

			result, err := trk.Sync(cmd.Context(), store, buildLayout(cfg))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if export {
				snapshot, err := trk.Export(cmd.Context())
				if err != nil {
					return err
				}
				encoder := json.NewEncoder(out)
				encoder.SetIndent("", "  ")
				return encoder.Encode(snapshot)
			}

			fmt.Fprintf(out, "synchronized %d items, %d levels, %d complete\n",
				result.Items, result.Levels, result.Complete)
			return nil
		},
	}

	cmd.Flags().BoolVar(&export, "export", false, "Print the tracker state as JSON after syncing")
	return cmd
}
