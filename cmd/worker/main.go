package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dunamismax/solarprep/internal/batch"
	"github.com/dunamismax/solarprep/internal/config"
	"github.com/dunamismax/solarprep/internal/pipeline"
	"github.com/dunamismax/solarprep/internal/storage"
	"github.com/dunamismax/solarprep/internal/store"
	"github.com/dunamismax/solarprep/internal/telemetry"
	"github.com/dunamismax/solarprep/internal/webhook"
	"github.com/dunamismax/solarprep/internal/worker"
)

func main() {
	logger := log.NewWithOptions(os.Stdout, log.Options{ReportTimestamp: true, Prefix: "worker"})

	cfg, err := config.Resolve("")
	if err != nil {
		logger.Fatal("load config", "err", err)
	}
	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Telemetry.Trace("solarprep-worker"), logger)
	if err != nil {
		logger.Fatal("setup tracing", "err", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("trace flush failed", "err", err)
		}
	}()

	if err := pipeline.Startup(); err != nil {
		logger.Fatal("start image runtime", "err", err)
	}
	defer pipeline.Shutdown()

	deps := batch.Deps{BudgetTTL: cfg.Budget.TTL.Duration}
	if cfg.Storage.Enabled {
		client, err := storage.NewClient(cfg.Storage.Client())
		if err != nil {
			logger.Fatal("storage client", "err", err)
		}
		if err := client.EnsureBucket(ctx); err != nil {
			logger.Fatal("ensure bucket", "bucket", client.Bucket(), "err", err)
		}
		deps.Storage = client
	}

	rdb := cfg.Queue.RedisClient()
	defer rdb.Close()
	deps.Redis = rdb

	runStore, closeStore, err := store.Open(ctx, cfg.Database.DSN)
	if err != nil {
		logger.Fatal("open run store", "err", err)
	}
	defer closeStore()

	hooks := webhook.NewClient(webhook.Config{
		SigningSecret: cfg.Webhook.SigningSecret,
		Timeout:       cfg.Webhook.Timeout.Duration,
		MaxAttempts:   cfg.Webhook.MaxAttempts,
	})

	srv := worker.NewServer(logger, cfg.Queue, cfg.Worker, deps, runStore, hooks)

	if cfg.Worker.MetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:              cfg.Worker.MetricsAddr,
			Handler:           srv.MetricsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "err", err)
			}
		}()
		defer metricsServer.Close()
	}

	logger.Info("starting worker",
		"concurrency", cfg.Worker.Concurrency,
		"queue", cfg.Queue.Name,
		"redis", cfg.Queue.RedisAddr,
		"storage", cfg.Storage.Enabled,
	)
	if err := srv.Run(); err != nil {
		logger.Error("worker failed", "err", err)
		os.Exit(1)
	}
}
