package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var warmupCmd = &cobra.Command{
	Use:   "warmup",
	Short: "Inbox warmup operations",
}

var warmupRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the warmup scheduler and job workers in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx, "warmup")
		if err != nil {
			return err
		}
		defer env.Close()

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return env.Runner.Run(ctx) })
		g.Go(func() error { return runWarmupLoops(ctx, env) })

		zap.L().Info("warmup engine running",
			zap.Int("dispatch_interval_mins", cfg.Warmup.DispatchIntervalMins),
			zap.Int("reset_interval_secs", cfg.Warmup.ResetIntervalSecs),
		)
		return g.Wait()
	},
}

var warmupTickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run a single dispatch tick and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEngine(cmd.Context(), "warmup")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Scheduler.DailyResetTick(cmd.Context()); err != nil {
			return err
		}
		return env.Scheduler.DispatchTick(cmd.Context())
	},
}

var warmupStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show warmup progress for every enrolled inbox",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEngine(cmd.Context(), "warmup")
		if err != nil {
			return err
		}
		defer env.Close()

		candidates, err := env.Store.ListWarmupCandidates(cmd.Context())
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			fmt.Println("no inboxes enrolled in warmup")
			return nil
		}

		fmt.Printf("%-24s %-10s %-8s %-12s %5s %6s %6s %7s\n",
			"EMAIL", "MODE", "SPEED", "PHASE", "DAY", "SENT", "TODAY", "HEALTH")
		for _, c := range candidates {
			fmt.Printf("%-24s %-10s %-8s %-12s %5d %6d %6d %7d\n",
				c.Email, c.State.Mode, c.State.RampSpeed, c.State.Phase,
				c.State.CurrentDay, c.State.SentTotal, c.State.SentToday, c.HealthScore)
		}
		return nil
	},
}

// runWarmupLoops drives the two scheduler ticks until the context is
// cancelled. The reset tick runs fine-grained so the UTC day rollover is
// caught promptly; dispatch is coarse.
func runWarmupLoops(ctx context.Context, env *engineEnv) error {
	dispatchEvery := time.Duration(cfg.Warmup.DispatchIntervalMins) * time.Minute
	resetEvery := time.Duration(cfg.Warmup.ResetIntervalSecs) * time.Second

	dispatch := time.NewTicker(dispatchEvery)
	defer dispatch.Stop()
	reset := time.NewTicker(resetEvery)
	defer reset.Stop()

	// One immediate pass so a fresh process does not idle a full interval.
	if err := env.Scheduler.DailyResetTick(ctx); err != nil {
		zap.L().Error("daily reset tick failed", zap.Error(err))
	}
	if err := env.Scheduler.DispatchTick(ctx); err != nil {
		zap.L().Error("dispatch tick failed", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-reset.C:
			if err := env.Scheduler.DailyResetTick(ctx); err != nil {
				zap.L().Error("daily reset tick failed", zap.Error(err))
			}
		case <-dispatch.C:
			if err := env.Scheduler.DispatchTick(ctx); err != nil {
				zap.L().Error("dispatch tick failed", zap.Error(err))
			}
		}
	}
}

func init() {
	warmupCmd.AddCommand(warmupRunCmd)
	warmupCmd.AddCommand(warmupTickCmd)
	warmupCmd.AddCommand(warmupStatusCmd)
	rootCmd.AddCommand(warmupCmd)
}
