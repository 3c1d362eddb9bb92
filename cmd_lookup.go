package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	lookupForce       bool
	lookupConcurrency int
	lookupJobID       int64
	lookupLimit       int
	cleanupOlderThan  time.Duration
)

var lookupCmd = &cobra.Command{
	Use:   "lookup <lawyer-id>...",
	Short: "Look up contact emails for lawyers now",
	Long: "Runs the RocketReach lookup for each lawyer in the foreground. An existing " +
		"successful lookup is reused unless --force is given.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		ids := make([]int64, len(args))
		for i, arg := range args {
			id, err := strconv.ParseInt(arg, 10, 64)
			if err != nil {
				return eris.Wrapf(err, "parse lawyer id %q", arg)
			}
			ids[i] = id
		}

		a, err := newApp(ctx, appOptions{})
		if err != nil {
			return err
		}
		defer a.close()

		if len(ids) == 1 {
			rec, err := a.lookups.Lookup(ctx, ids[0], lookupForce)
			if rec != nil {
				fmt.Fprintf(os.Stdout, "lookup %d: %s via %s", rec.ID, rec.Status, rec.Method)
				if rec.Email != "" {
					fmt.Fprintf(os.Stdout, ", %s (%s)", rec.Email, rec.EmailType)
				}
				if rec.ErrorMessage != "" {
					fmt.Fprintf(os.Stdout, ", error: %s", rec.ErrorMessage)
				}
				fmt.Fprintln(os.Stdout)
			}
			return err
		}

		res, err := a.lookups.LookupMany(ctx, ids, lookupForce, lookupConcurrency)
		fmt.Fprintf(os.Stdout, "%d lookups: %d found, %d not found, %d failed\n",
			res.Total, res.Succeeded, res.NotFound, res.Failed)
		return err
	},
}

var lookupMissingCmd = &cobra.Command{
	Use:   "missing",
	Short: "Queue lookups for lawyers without a successful lookup",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, appOptions{})
		if err != nil {
			return err
		}
		defer a.close()

		n, err := a.lookups.LookupMissing(ctx, lookupJobID, lookupLimit)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%d lookups queued\n", n)
		return nil
	},
}

var lookupAccountCmd = &cobra.Command{
	Use:   "account",
	Short: "Show the RocketReach account and remaining credits",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, appOptions{})
		if err != nil {
			return err
		}
		defer a.close()

		acct, err := a.client.Account(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%s (%s): %d credits remaining\n", acct.Email, acct.Plan, acct.CreditsRemaining)
		if acct.RateLimited {
			zap.L().Warn("account is currently rate limited")
		}
		return nil
	},
}

var cleanupLookupsCmd = &cobra.Command{
	Use:   "cleanup-lookups",
	Short: "Delete old failed and not_found lookups",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, appOptions{})
		if err != nil {
			return err
		}
		defer a.close()

		n, err := a.lookups.CleanupLookups(ctx, cleanupOlderThan)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%d lookups deleted\n", n)
		return nil
	},
}

func init() {
	lookupCmd.Flags().BoolVar(&lookupForce, "force", false, "ignore an existing successful lookup")
	lookupCmd.Flags().IntVar(&lookupConcurrency, "concurrency", 2, "lookups in flight at once")
	lookupMissingCmd.Flags().Int64Var(&lookupJobID, "job", 0, "only lawyers of this job")
	lookupMissingCmd.Flags().IntVar(&lookupLimit, "limit", 100, "maximum lookups to queue")
	cleanupLookupsCmd.Flags().DurationVar(&cleanupOlderThan, "older-than", 0, "age cutoff (default: LOOKUP_RETENTION_DAYS)")

	lookupCmd.AddCommand(lookupMissingCmd, lookupAccountCmd)
	rootCmd.AddCommand(lookupCmd, cleanupLookupsCmd)
}
