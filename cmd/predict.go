package main

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/talentsol/screening/internal/pipeline"
)

var predictForce bool

var predictCmd = &cobra.Command{
	Use:   "predict <application-id>",
	Short: "Score a single application and print the prediction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		pred, err := env.Orchestrator.ProcessOne(ctx, args[0], predictForce)
		if errors.Is(err, pipeline.ErrConflict) {
			zap.L().Warn("prediction already exists, rerun with --force to re-score",
				zap.String("application_id", args[0]))
			existing, lookupErr := env.Orchestrator.Latest(ctx, args[0])
			if lookupErr != nil {
				return lookupErr
			}
			pred = existing
		} else if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(pred)
	},
}

func init() {
	predictCmd.Flags().BoolVar(&predictForce, "force", false, "re-score even if a prediction exists")
	rootCmd.AddCommand(predictCmd)
}
