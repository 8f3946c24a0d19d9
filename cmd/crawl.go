package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dkoval/servicecenter-crawler/internal/assets"
	"github.com/dkoval/servicecenter-crawler/internal/catalog"
	"github.com/dkoval/servicecenter-crawler/internal/config"
	"github.com/dkoval/servicecenter-crawler/internal/engine"
	"github.com/dkoval/servicecenter-crawler/internal/fetch"
	"github.com/dkoval/servicecenter-crawler/internal/store"
)

func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Runs a full catalog crawl and persists the result",
		Long: `Walks the catalog from the configured start page, assembles the
deduplicated entity graph in memory, and flushes it into Postgres in
dependency order. Safe to re-run: all writes are idempotent.`,
		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := buildEnv()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := catalog.NewRegistry()

	eng, err := buildEngine(cfg, registry, logger)
	if err != nil {
		return err
	}

	logger.Info("starting crawl",
		zap.String("base_url", cfg.Crawler.BaseURL),
		zap.String("start_path", cfg.Crawler.StartPath),
	)
	if err := eng.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("crawl interrupted, skipping persistence")
			return nil
		}
		return fmt.Errorf("run crawl: %w", err)
	}
	logger.Info("crawl finished",
		zap.Int("service_centers", len(registry.Centers())),
		zap.Int("devices", len(registry.Categories(catalog.KindDevice))),
		zap.Int("brands", len(registry.Categories(catalog.KindBrand))),
	)

	if cfg.DB.DSN == "" {
		logger.Warn("db.dsn not configured, skipping persistence")
		return nil
	}
	return persist(ctx, cfg, registry, logger)
}

func buildEngine(cfg config.Config, registry *catalog.Registry, logger *zap.Logger) (*engine.Engine, error) {
	fetcher, err := fetch.New(fetch.Config{
		BaseURL:        cfg.Crawler.BaseURL,
		UserAgent:      cfg.Crawler.UserAgent,
		Timeout:        cfg.HTTPTimeout(),
		MaxConnections: cfg.HTTP.MaxConnections,
		MaxAttempts:    cfg.HTTP.MaxRetries,
		RetryBaseDelay: cfg.BackoffInitial(),
		RetryMaxDelay:  cfg.BackoffMax(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init fetcher: %w", err)
	}

	mirror, err := assets.NewStore(cfg.Assets.Dir)
	if err != nil {
		return nil, fmt.Errorf("init asset store: %w", err)
	}

	return engine.New(engine.Config{
		StartPath: cfg.Crawler.StartPath,
		FanOut:    cfg.Crawler.FanOut,
	}, fetcher, registry, mirror, logger), nil
}

func persist(ctx context.Context, cfg config.Config, registry *catalog.Registry, logger *zap.Logger) error {
	writer, err := store.NewWriter(ctx, store.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: int32(cfg.DB.MaxConns),
		MinConns: int32(cfg.DB.MinConns),
	}, logger)
	if err != nil {
		return fmt.Errorf("init writer: %w", err)
	}
	defer writer.Close()

	if err := writer.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	if err := writer.Persist(ctx, registry); err != nil {
		return fmt.Errorf("persist registry: %w", err)
	}
	logger.Info("persistence finished")
	return nil
}
