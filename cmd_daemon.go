package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lawcrawl/scheduler"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the workers and the maintenance scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := newApp(ctx, appOptions{})
		if err != nil {
			return err
		}
		defer a.close()

		sched := scheduler.New(cfg, a.store, a.queue, a.orchestrator, a.jobs, a.lookups, zap.L())
		sched.SetDispatcher(a.dispatcher)
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()

		zap.L().Info("daemon running",
			zap.Int("workers", cfg.Workers.Concurrency),
			zap.String("lookup_mode", cfg.Lookup.Mode))

		// Blocks until SIGINT/SIGTERM cancels ctx.
		err = a.dispatcher.Run(ctx)
		zap.L().Info("shutting down")
		return err
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
