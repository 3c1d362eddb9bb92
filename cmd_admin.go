package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lawcrawl/models"
)

var (
	purgeViaDaemon   bool
	healthcheckLimit int
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Revoke all queued and running tasks and reset in-flight jobs to PENDING",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, appOptions{})
		if err != nil {
			return err
		}
		defer a.close()

		if purgeViaDaemon {
			id, err := a.queue.InsertCommand(ctx, models.CmdPurge, models.CommandParams{})
			if err != nil {
				return err
			}
			zap.L().Info("command queued for daemon", zap.Int64("command_id", id))
			return nil
		}

		res, err := a.jobs.PurgeAll(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%d tasks revoked, %d jobs and %d units reset\n", res.Tasks, res.Jobs, res.Units)
		return nil
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs <task-id>",
	Short: "Show the operator log of a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, appOptions{})
		if err != nil {
			return err
		}
		defer a.close()

		task, err := a.queue.Get(ctx, args[0])
		if err != nil {
			return err
		}
		if task == nil {
			return eris.Errorf("task %s not found", args[0])
		}
		fmt.Fprintf(os.Stdout, "%s %s: %s, attempt %d/%d\n", task.ID, task.Kind, task.Status, task.Attempts, task.MaxAttempts)

		logs, err := a.queue.TaskLogs(ctx, task.ID)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, l := range logs {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", l.Timestamp.Format("2006-01-02 15:04:05"), l.Level, l.Source, l.Message)
		}
		return w.Flush()
	},
}

var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck <job-id>",
	Short: "Re-fetch detail pages and deactivate lawyers whose profile is gone",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return eris.Wrapf(err, "parse job id %q", args[0])
		}
		ctx := cmd.Context()
		a, err := newApp(ctx, appOptions{})
		if err != nil {
			return err
		}
		defer a.close()

		res, err := a.health.CheckJob(ctx, jobID, healthcheckLimit)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%d checked, %d deactivated, %d reactivated, %d errors\n",
			res.Checked, res.Deactivated, res.Reactivated, res.Errors)
		return nil
	},
}

func init() {
	purgeCmd.Flags().BoolVar(&purgeViaDaemon, "via-daemon", false, "queue the purge for the running daemon")
	healthcheckCmd.Flags().IntVar(&healthcheckLimit, "limit", 0, "check at most this many lawyers (0 for all)")
	rootCmd.AddCommand(purgeCmd, logsCmd, healthcheckCmd)
}
