package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lawcrawl/config"
	"lawcrawl/logging"
)

var (
	cfg       *config.Config
	logWriter *logging.RotatingWriter
)

var rootCmd = &cobra.Command{
	Use:   "lawcrawl",
	Short: "Law directory crawler with contact enrichment",
	Long: "Crawls lawyer directory listings into discovery units, fills detail pages, " +
		"and enriches lawyers with contact emails from RocketReach.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		logger, rw, err := logging.Setup(cfg.Log.File, cfg.Log.Level)
		if err != nil {
			return eris.Wrap(err, "init logger")
		}
		logWriter = rw
		zap.ReplaceGlobals(logger)

		zap.L().Debug("config loaded", zap.Int("sites", len(cfg.Sites)))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
		if logWriter != nil {
			logWriter.Close()
		}
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// maskConnectionString masks password in connection string for logging
func maskConnectionString(connStr string) string {
	// Simple mask - find :// and mask until @
	start := 0
	for i := 0; i < len(connStr)-3; i++ {
		if connStr[i:i+3] == "://" {
			start = i + 3
			break
		}
	}
	if start == 0 {
		return connStr
	}

	// Find : after user
	colonIdx := -1
	atIdx := -1
	for i := start; i < len(connStr); i++ {
		if connStr[i] == ':' && colonIdx == -1 {
			colonIdx = i
		}
		if connStr[i] == '@' {
			atIdx = i
			break
		}
	}

	if colonIdx > 0 && atIdx > colonIdx {
		return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
	}
	return connStr
}
