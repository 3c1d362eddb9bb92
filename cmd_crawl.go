package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lawcrawl/models"
	"lawcrawl/scraper"
)

var (
	crawlDetail bool
	crawlSite   string
)

var crawlCmd = &cobra.Command{
	Use:   "crawl <url>...",
	Short: "Crawl listing pages once in memory and print what was found",
	Long: "Runs Stage 1 (and Stage 2 with --detail) against the given listing URLs using an " +
		"in-memory store. Nothing is written to the database and no lookups run.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg.Crawl.AutoDetail = crawlDetail
		cfg.Crawl.AutoLookup = false

		dir, err := os.MkdirTemp("", "lawcrawl-crawl-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)

		a, err := newApp(ctx, appOptions{memory: true, queueDir: dir})
		if err != nil {
			return err
		}
		defer a.close()

		job, err := a.jobs.CreateJob(ctx, models.JobSpec{Name: "dry run", Site: crawlSite, StartURLs: args})
		if err != nil {
			return err
		}
		if _, err := a.jobs.StartJob(ctx, job.ID); err != nil {
			return err
		}

		n, err := a.dispatcher.Drain(ctx)
		if err != nil {
			return err
		}
		zap.L().Info("dry run finished", zap.Int("tasks", n), zap.Any("stats", a.dispatcher.Stats()))

		units, err := a.store.ListUnits(ctx, job.ID)
		if err != nil {
			return err
		}
		for i := range units {
			fmt.Fprintln(os.Stdout, scraper.Describe(&units[i]))
			if units[i].ErrorMessage != "" {
				fmt.Fprintln(os.Stdout, "  "+units[i].ErrorMessage)
			}
		}

		lawyers, err := a.store.ListLawyers(ctx, job.ID, 0)
		if err != nil {
			return err
		}
		formatLawyers(os.Stdout, lawyers)
		return nil
	},
}

func init() {
	crawlCmd.Flags().BoolVar(&crawlDetail, "detail", false, "also crawl each lawyer's detail page")
	crawlCmd.Flags().StringVar(&crawlSite, "site", "", "selector set to use (default: derived from the host)")
	rootCmd.AddCommand(crawlCmd)
}

// formatLawyers writes one row per lawyer.
func formatLawyers(out io.Writer, lawyers []models.Lawyer) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTYPE\tNAME\tFIRM\tPHONE\tEMAIL\tQUALITY\tSYNTHETIC")
	for _, l := range lawyers {
		email := ""
		if best := l.BestContactEmail(); best != nil {
			email = best.Email
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%.0f\t%t\n",
			l.ID,
			l.EntityType,
			truncate(l.AttorneyName, 30),
			truncate(l.CompanyName, 40),
			l.Phone,
			email,
			l.QualityScore,
			l.IsSynthetic,
		)
	}
	_ = w.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
