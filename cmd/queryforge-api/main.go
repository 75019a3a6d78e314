package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/queryforge/queryforge/internal/api"
	"github.com/queryforge/queryforge/internal/audit"
	auditpostgres "github.com/queryforge/queryforge/internal/audit/postgres"
	"github.com/queryforge/queryforge/internal/auth"
	"github.com/queryforge/queryforge/internal/bindings"
	"github.com/queryforge/queryforge/internal/config"
	"github.com/queryforge/queryforge/internal/exec"
	duckdbengine "github.com/queryforge/queryforge/internal/exec/duckdb"
	"github.com/queryforge/queryforge/internal/intent"
	"github.com/queryforge/queryforge/internal/observability"
	"github.com/queryforge/queryforge/internal/pipeline"
	"github.com/queryforge/queryforge/internal/resolve"
	s3store "github.com/queryforge/queryforge/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("queryforge-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	registry, err := bindings.OpenRegistry(cfg.Bindings.Path)
	if err != nil {
		logger.Error("failed to load binding registry", slog.Any("error", err))
		os.Exit(1)
	}
	observability.SetBindingsVersion(registry.Active().Version, registry.LoadedAt())

	objectStore, err := s3store.New(context.Background(), s3store.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           cfg.ObjectStore.Bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		Prefix:           cfg.ObjectStore.Prefix,
		AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
	})
	if err != nil {
		logger.Error("failed to initialize object store", slog.Any("error", err))
		os.Exit(1)
	}

	var trail audit.Trail = audit.Nop{}
	if cfg.Audit.Enabled {
		auditDB, err := auditpostgres.Open(context.Background(), auditpostgres.DBConfig{
			DSN:             cfg.Audit.DSN,
			MaxOpenConns:    cfg.Audit.MaxOpenConns,
			MaxIdleConns:    cfg.Audit.MaxIdleConns,
			ConnMaxIdleTime: cfg.Audit.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.Audit.ConnMaxLifetime,
		})
		if err != nil {
			logger.Error("failed to open audit db", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = auditDB.Close() }()
		trail = auditpostgres.NewStore(auditDB)
	}

	executor := exec.New(duckdbengine.NewEngine(objectStore), exec.Config{
		PoolSize:       cfg.Executor.PoolSize,
		AcquireTimeout: cfg.Executor.AcquireTimeout,
		DefaultTimeout: cfg.Executor.QueryTimeout,
	})

	var parser intent.Parser
	if cfg.AI.ParseEnabled {
		parser, err = intent.NewOpenAIParser(intent.OpenAIConfig{
			BaseURL:     cfg.AI.BaseURL,
			APIKey:      cfg.AI.APIKey,
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
			Timeout:     cfg.AI.Timeout,
		})
		if err != nil {
			logger.Error("failed to initialize intent parser", slog.Any("error", err))
			os.Exit(1)
		}
	}

	var authMiddleware func(http.Handler) http.Handler
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static API keys", slog.Any("error", err))
			os.Exit(1)
		}
		authMiddleware = auth.Middleware(logger, validator)
	}

	queryPipeline := &pipeline.Pipeline{
		Registry: registry,
		Resolver: resolve.New(trail),
		Executor: executor,
		Dataset:  cfg.Executor.Dataset,
		Logger:   logger,
	}

	deps := api.Dependencies{
		Logger:   logger,
		Pipeline: queryPipeline,
		Registry: registry,
		Parser:   parser,
		Audit:    trail,
		Readiness: api.CombineReadinessChecks(
			api.CheckBindingsLoaded(registry),
			api.CheckObjectStoreConfig(cfg),
		),
		DependencyTimeout: time.Second,
		AuthMiddleware:    authMiddleware,
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
