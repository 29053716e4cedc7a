package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"shroud/internal/failures"
	"shroud/internal/interrupt"
	"shroud/internal/lease"
	"shroud/internal/logging"
	"shroud/internal/processor"
	"shroud/internal/scanner"
	"shroud/internal/services/cloak"
	"shroud/internal/services/ffmpeg"
	"shroud/internal/stats"
	"shroud/internal/tracker"
	"shroud/internal/worker"

	"shroud/internal/media"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var skipSync bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the worker loop until stopped or preempted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.ValidateForRun(); err != nil {
				return err
			}

			logger, err := logging.New(logging.Options{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
				OutputPaths: []string{
					"stderr",
					filepath.Join(cfg.Paths.LogDir, "shroud.log"),
				},
			})
			if err != nil {
				return err
			}

			store, err := buildStore(cfg)
			if err != nil {
				return err
			}
			layout := buildLayout(cfg)
			policy, err := buildPolicy(cfg)
			if err != nil {
				return err
			}

			owner := ownerID()
			logger.Info("worker identity assigned",
				logging.String(logging.FieldComponent, "shroud"),
				logging.String(logging.FieldOwnerID, owner))

			trk, err := tracker.Open(cfg.Paths.TrackerDB, policy)
			if err != nil {
				return err
			}
			defer func() { _ = trk.Close() }()

			background := context.Background()
			if err := stats.InitLayout(background, store, layout); err != nil {
				return err
			}
			if !skipSync {
				result, err := trk.Sync(background, store, layout)
				if err != nil {
					return err
				}
				logger.Info("tracker synchronized",
					logging.String(logging.FieldComponent, "shroud"),
					logging.Int("items", result.Items),
					logging.Int("levels", result.Levels),
					logging.Int("complete", result.Complete))
			}

			leaseOpts := []lease.Option{lease.WithLogger(logger)}
			if ttl := cfg.Policy.LeaseTTLMinutes; ttl > 0 {
				leaseOpts = append(leaseOpts, lease.WithTTL(time.Duration(ttl)*time.Minute))
			}
			leases := lease.NewManager(store, layout, owner, leaseOpts...)
			registry := failures.NewRegistry(store, layout, owner, logger)
			scan := scanner.New(store, layout, trk, registry, leases, logger)

			cloakClient := cloak.NewCLI(
				cloak.WithBinary(cfg.Transform.Binary),
				cloak.WithTimeout(time.Duration(cfg.Transform.TimeoutSeconds)*time.Second))
			videoClient := ffmpeg.NewCLI()

			proc := processor.New(store, layout, cloakClient, videoClient, cfg.Paths.WorkDir,
				processor.WithImageParallelism(cfg.Workflow.ImageParallelism),
				processor.WithLogger(logger),
				processor.WithLevelObserver(func(key string, level media.Level) {
					if err := trk.MarkLevelProcessed(background, key, level); err != nil {
						logger.Warn("failed to record completed level",
							logging.String(logging.FieldComponent, "shroud"),
							logging.String(logging.FieldItemKey, key),
							logging.Error(err))
					}
				}))

			monitorOpts := []interrupt.Option{
				interrupt.WithLogger(logger),
				interrupt.WithCleanup(func(cleanupCtx context.Context) {
					if err := leases.ReleaseAll(cleanupCtx); err != nil {
						logger.Error("failed to release queued leases",
							logging.String(logging.FieldComponent, "shroud"),
							logging.Error(err))
					}
				}),
			}
			if cfg.Interrupt.Enabled {
				monitorOpts = append(monitorOpts,
					interrupt.WithMetadataEndpoint(cfg.Interrupt.MetadataEndpoint),
					interrupt.WithPollInterval(time.Duration(cfg.Interrupt.PollInterval)*time.Second))
			}
			monitor := interrupt.NewMonitor(leases, monitorOpts...)

			w := worker.New(store, layout, trk, registry, leases, scan, proc, cfg.Paths.WorkDir,
				worker.WithQueueSize(cfg.Workflow.QueueSize),
				worker.WithPollInterval(time.Duration(cfg.Workflow.PollInterval)*time.Second),
				worker.WithErrorRetryInterval(time.Duration(cfg.Workflow.ErrorRetryInterval)*time.Second),
				worker.WithCurrentLeaseObserver(monitor.SetCurrentLease),
				worker.WithLogger(logger))

			workCtx := monitor.Start(background)
			runErr := w.Run(workCtx)
			monitor.Stop()
			if runErr != nil {
				return runErr
			}

			fmt.Fprintln(cmd.OutOrStdout(), "worker stopped")
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipSync, "skip-sync", false, "Skip the startup tracker synchronization")
	return cmd
}
