package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dunamismax/solarprep/internal/api"
	"github.com/dunamismax/solarprep/internal/config"
	"github.com/dunamismax/solarprep/internal/queue"
	"github.com/dunamismax/solarprep/internal/ratelimit"
	"github.com/dunamismax/solarprep/internal/store"
	"github.com/dunamismax/solarprep/internal/telemetry"
)

func main() {
	logger := log.NewWithOptions(os.Stdout, log.Options{ReportTimestamp: true, Prefix: "api"})

	cfg, err := config.Resolve("")
	if err != nil {
		logger.Fatal("load config", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Telemetry.Trace("solarprep-api"), logger)
	if err != nil {
		logger.Fatal("setup tracing", "err", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("trace flush failed", "err", err)
		}
	}()

	runStore, closeStore, err := store.Open(ctx, cfg.Database.DSN)
	if err != nil {
		logger.Fatal("open run store", "err", err)
	}
	defer closeStore()

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close error", "err", err)
		}
	}()

	opts := []api.Option{api.WithDefaults(cfg.Turbulence)}
	if cfg.API.RateLimit > 0 {
		limiter, closeLimiter, err := newLimiter(cfg)
		if err != nil {
			logger.Fatal("rate limiter", "err", err)
		}
		defer closeLimiter()
		opts = append(opts, api.WithRateLimiter(limiter, api.DefaultClientHeader))
	}

	app := api.NewServer(logger, queueClient, runStore, opts...)

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", cfg.API.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", "err", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	}
}

// newLimiter shares the submission budget across API replicas through Redis
// unless RateLimitShared is off.
func newLimiter(cfg config.Config) (ratelimit.Limiter, func(), error) {
	if !cfg.API.RateLimitShared {
		l, err := ratelimit.NewLocal(cfg.API.RateLimit, cfg.API.RateWindow.Duration)
		return l, func() {}, err
	}
	rdb := cfg.Queue.RedisClient()
	l, err := ratelimit.NewRedisTokenBucket(rdb, cfg.API.RateLimit, cfg.API.RateWindow.Duration, "")
	if err != nil {
		_ = rdb.Close()
		return nil, func() {}, err
	}
	return l, func() { _ = rdb.Close() }, nil
}
