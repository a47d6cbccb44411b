package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/talentsol/screening/internal/resilience"
)

var (
	sweepLimit      int
	sweepRetry      bool
	sweepContinuous bool
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Score applications that have no prediction yet",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		limit := sweepLimit
		if limit <= 0 {
			limit = cfg.Batch.DefaultSweepLimit
		}

		total := 0
		for {
			result, err := env.Orchestrator.ProcessPending(ctx, limit)
			if err != nil {
				return err
			}
			total += result.Processed

			// Transient per-item failures get one bounded retry pass; items
			// that fail again are left for the next sweep.
			if sweepRetry {
				for _, ie := range result.Errors {
					if !ie.Retryable {
						continue
					}
					appID := ie.ApplicationID
					retryErr := resilience.Do(ctx, resilience.DefaultRetryConfig(), func(rctx context.Context) error {
						_, err := env.Orchestrator.ProcessOne(rctx, appID, false)
						return err
					})
					if retryErr != nil {
						zap.L().Warn("retry failed",
							zap.String("application_id", appID),
							zap.Error(retryErr))
						continue
					}
					total++
				}
			}

			zap.L().Info("sweep round complete",
				zap.Int("processed", result.Processed),
				zap.Int("skipped", len(result.Skipped)),
				zap.Int("failed", len(result.Errors)))

			if !sweepContinuous || result.Processed == 0 {
				break
			}
			if ctx.Err() != nil {
				break
			}
		}

		zap.L().Info("sweep complete", zap.Int("total_processed", total))
		return nil
	},
}

func init() {
	sweepCmd.Flags().IntVar(&sweepLimit, "limit", 0, "applications per round (default from config)")
	sweepCmd.Flags().BoolVar(&sweepRetry, "retry", false, "retry transient per-item failures once with backoff")
	sweepCmd.Flags().BoolVar(&sweepContinuous, "continuous", false, "keep sweeping until no pending applications remain")
	rootCmd.AddCommand(sweepCmd)
}
