// Package cmd defines the CLI commands for the crawler executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dkoval/servicecenter-crawler/internal/config"
	"github.com/dkoval/servicecenter-crawler/internal/logging"
	"github.com/dkoval/servicecenter-crawler/internal/metrics"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "servicecenter-crawler",
		Short: "Crawls a service center catalog into a relational database.",
		Long: `servicecenter-crawler walks a catalog site's category hierarchy,
extracts service centers with their addresses, schedules and price lists,
and persists the deduplicated result into Postgres.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional, defaults apply without one)")
	cmd.AddCommand(newCrawlCmd())

	return cmd
}

// buildEnv loads configuration and constructs the run-scoped logger.
func buildEnv() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger = logger.With(zap.String("run_id", uuid.NewString()))

	metrics.Init()
	return cfg, logger, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
