package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/queryforge/queryforge/internal/config"
	"github.com/queryforge/queryforge/internal/demo/seeder"
	"github.com/queryforge/queryforge/internal/observability"
	s3store "github.com/queryforge/queryforge/internal/storage/s3"
)

func main() {
	var (
		seed       = flag.Int64("seed", 1, "random seed for deterministic data")
		days       = flag.Int("days", 14, "number of daily transaction partitions")
		rowsPerDay = flag.Int("rows-per-day", 250, "transactions generated per day")
		itemCount  = flag.Int("items", 40, "number of distinct items")
	)
	flag.Parse()

	cfg, err := config.LoadFromEnv("queryforge-seed")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	objectStore, err := s3store.New(ctx, s3store.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           cfg.ObjectStore.Bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		Prefix:           cfg.ObjectStore.Prefix,
		AutoCreateBucket: true,
	})
	if err != nil {
		logger.Error("failed to initialize object store", slog.Any("error", err))
		os.Exit(1)
	}

	err = seeder.New(objectStore, logger).Run(ctx, seeder.Config{
		Dataset:    cfg.Executor.Dataset,
		Seed:       *seed,
		Days:       *days,
		RowsPerDay: *rowsPerDay,
		ItemCount:  *itemCount,
		EndDay:     time.Now().UTC(),
	})
	if err != nil {
		logger.Error("seed run failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("seed run complete")
}
