package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue depth and inbox fleet health",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEngine(cmd.Context(), "warmup")
		if err != nil {
			return err
		}
		defer env.Close()

		snap, err := env.Collector.Collect(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("inboxes:  %d connected (%d active, %d warming up), %d admin partners\n",
			snap.InboxesConnected, snap.InboxesActive, snap.InboxesWarmingUp, snap.AdminsActive)
		fmt.Printf("health:   avg %.1f (%d excellent / %d good / %d fair / %d poor)\n",
			snap.HealthAvg, snap.HealthExcellent, snap.HealthGood, snap.HealthFair, snap.HealthPoor)
		fmt.Printf("warmup:   %d enrolled, today %d sent / %d received / %d replied\n",
			snap.WarmupEnabled, snap.WarmupSentToday, snap.WarmupRecvToday, snap.WarmupRepliedToday)
		fmt.Printf("jobs:     %d waiting, %d active, %d done, %d failed\n",
			snap.JobsWaiting, snap.JobsActive, snap.JobsDone, snap.JobsFailed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
