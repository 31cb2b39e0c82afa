package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var monitorOnce bool

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run connection validation and health scoring for all inboxes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx, "monitor")
		if err != nil {
			return err
		}
		defer env.Close()

		if monitorOnce {
			env.Checker.Check(ctx)
			return nil
		}

		zap.L().Info("monitor running", zap.Int("check_interval_hours", cfg.Monitoring.CheckIntervalHours))
		env.Checker.Run(ctx)
		return nil
	},
}

func init() {
	monitorCmd.Flags().BoolVar(&monitorOnce, "once", false, "run a single check cycle and exit")
	rootCmd.AddCommand(monitorCmd)
}
