package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lawcrawl/config"
	"lawcrawl/models"
	"lawcrawl/queue"
)

var (
	jobStartNow   bool
	jobViaDaemon  bool
	jobListStatus []string
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Create and control crawl jobs",
}

var jobCreateCmd = &cobra.Command{
	Use:   "create <spec.yaml>",
	Short: "Create a job from a YAML spec",
	Long:  "Creates a job from a spec file (see config/jobs). An invalid spec is stored as FAILED.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		spec, err := config.ReadJobSpec(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(ctx, appOptions{})
		if err != nil {
			return err
		}
		defer a.close()

		job, err := a.jobs.CreateJob(ctx, spec)
		if err != nil {
			if job != nil {
				fmt.Fprintf(os.Stdout, "job %d stored as %s\n", job.ID, job.Status)
			}
			return err
		}
		if job.Spec.HasMatrix() {
			fmt.Fprintf(os.Stdout, "job %d created (%d start urls, %d practice areas across %d states)\n",
				job.ID, len(job.Spec.StartURLs), len(job.Spec.PracticeAreas), len(job.Spec.States))
		} else {
			fmt.Fprintf(os.Stdout, "job %d created (%d start urls)\n", job.ID, len(job.Spec.StartURLs))
		}

		if jobStartNow {
			n, err := a.jobs.StartJob(ctx, job.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "job %d started, %d units queued\n", job.ID, n)
		}
		return nil
	},
}

// jobAction builds a "job <verb> <id>" command. With --via-daemon the
// action is dropped into the commands table for the running daemon.
func jobAction(use, short string, cmdType models.CommandType, run func(ctx context.Context, a *app, id int64) (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <job-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return eris.Wrapf(err, "parse job id %q", args[0])
			}

			a, err := newApp(ctx, appOptions{})
			if err != nil {
				return err
			}
			defer a.close()

			if jobViaDaemon {
				cmdID, err := a.queue.InsertCommand(ctx, cmdType, models.CommandParams{JobID: id})
				if err != nil {
					return err
				}
				zap.L().Info("command queued for daemon", zap.Int64("command_id", cmdID), zap.String("command", string(cmdType)))
				return nil
			}

			msg, err := run(ctx, a, id)
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, msg)
			return nil
		},
	}
}

var jobProgressCmd = &cobra.Command{
	Use:   "progress <job-id>",
	Short: "Recompute and show a job's counters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return eris.Wrapf(err, "parse job id %q", args[0])
		}

		a, err := newApp(ctx, appOptions{})
		if err != nil {
			return err
		}
		defer a.close()

		job, err := a.orchestrator.RecomputeJobProgress(ctx, id)
		if err != nil {
			return err
		}
		tasks, err := a.queue.CountByStatus(ctx, id)
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "job %d %q: %s\n", job.ID, job.Spec.Name, job.Status)
		fmt.Fprintf(os.Stdout, "  units: %d/%d crawled (%.1f%%), %d ok, %d failed\n",
			job.CrawledURLs, job.TotalURLs, job.ProgressPercentage(), job.SuccessCount, job.ErrorCount)
		fmt.Fprintf(os.Stdout, "  tasks: %d queued, %d running, %d succeeded, %d failed\n",
			tasks[queue.StatusQueued], tasks[queue.StatusRunning], tasks[queue.StatusSucceeded], tasks[queue.StatusFailed])
		if job.ErrorMessage != "" {
			fmt.Fprintf(os.Stdout, "  error: %s\n", job.ErrorMessage)
		}
		return nil
	},
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, appOptions{})
		if err != nil {
			return err
		}
		defer a.close()

		statuses := make([]models.JobStatus, len(jobListStatus))
		for i, s := range jobListStatus {
			statuses[i] = models.JobStatus(s)
		}
		jobs, err := a.store.ListJobs(ctx, statuses...)
		if err != nil {
			return err
		}
		formatJobs(os.Stdout, jobs)
		return nil
	},
}

func init() {
	jobCreateCmd.Flags().BoolVar(&jobStartNow, "start", false, "start the job right away")
	jobListCmd.Flags().StringSliceVar(&jobListStatus, "status", nil, "only jobs in these statuses")
	jobCmd.PersistentFlags().BoolVar(&jobViaDaemon, "via-daemon", false, "queue the action for the running daemon instead of applying it here")

	jobCmd.AddCommand(
		jobCreateCmd,
		jobAction("start", "Start a PENDING job", models.CmdStartJob, func(ctx context.Context, a *app, id int64) (string, error) {
			n, err := a.jobs.StartJob(ctx, id)
			return fmt.Sprintf("job %d started, %d units queued", id, n), err
		}),
		jobAction("cancel", "Cancel a job and revoke its queued tasks", models.CmdCancelJob, func(ctx context.Context, a *app, id int64) (string, error) {
			n, err := a.jobs.CancelJob(ctx, id)
			return fmt.Sprintf("job %d cancelled, %d tasks revoked", id, n), err
		}),
		jobAction("pause", "Pause a running job", models.CmdPauseJob, func(ctx context.Context, a *app, id int64) (string, error) {
			return fmt.Sprintf("job %d paused", id), a.jobs.PauseJob(ctx, id)
		}),
		jobAction("resume", "Resume a paused job", models.CmdResumeJob, func(ctx context.Context, a *app, id int64) (string, error) {
			return fmt.Sprintf("job %d resumed", id), a.jobs.ResumeJob(ctx, id)
		}),
		jobAction("reset", "Put a job and all its units back to PENDING", models.CmdResetJob, func(ctx context.Context, a *app, id int64) (string, error) {
			n, err := a.jobs.ResetJob(ctx, id)
			return fmt.Sprintf("job %d reset, %d units pending", id, n), err
		}),
		jobProgressCmd,
		jobListCmd,
	)
	rootCmd.AddCommand(jobCmd)
}

func formatJobs(out io.Writer, jobs []models.Job) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tSTATUS\tUNITS\tOK\tFAILED\tCREATED")
	for _, j := range jobs {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%d/%d\t%d\t%d\t%s\n",
			j.ID,
			truncate(j.Spec.Name, 40),
			j.Status,
			j.CrawledURLs, j.TotalURLs,
			j.SuccessCount,
			j.ErrorCount,
			j.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}
