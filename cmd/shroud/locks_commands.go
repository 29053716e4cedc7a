package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"shroud/internal/lease"
)

func newLocksCommand(ctx *commandContext) *cobra.Command {
	locksCmd := &cobra.Command{
		Use:   "locks",
		Short: "Inspect and reap item locks",
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

			infos, err := lease.ListLocks(cmd.Context(), store, buildLayout(cfg))
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no active locks")
				return nil
			}

			now := time.Now().UTC()
			rows := make([][]string, 0, len(infos))
			for _, info := range infos {
				rows = append(rows, []string{
					info.LockKey,
					info.OwnerID,
					info.Age(now).Round(time.Second).String(),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Lock", "Owner", "Age"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight}))
			return nil
		},
	}

	var ttlMinutes int
	reapCmd := &cobra.Command{
		Use:   "reap",
		Short: "Delete locks older than the TTL, freeing items orphaned by dead workers",
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

			ttl := time.Duration(ttlMinutes) * time.Minute
			if ttlMinutes <= 0 {
				if cfg.Policy.LeaseTTLMinutes <= 0 {
					return fmt.Errorf("no TTL given: set --ttl-minutes or policy.lease_ttl_minutes")
				}
				ttl = time.Duration(cfg.Policy.LeaseTTLMinutes) * time.Minute
			}

			reaped, err := lease.Reap(cmd.Context(), store, buildLayout(cfg), ttl, time.Now().UTC())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reaped %d stale locks\n", reaped)
			return nil
		},
	}
	reapCmd.Flags().IntVar(&ttlMinutes, "ttl-minutes", 0, "Locks older than this are deleted (defaults to policy.lease_ttl_minutes)")

	locksCmd.AddCommand(reapCmd)
	return locksCmd
}
