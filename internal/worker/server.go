// Package worker executes queued turbulence runs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/solarprep/internal/batch"
	"github.com/dunamismax/solarprep/internal/config"
	"github.com/dunamismax/solarprep/internal/domain"
	"github.com/dunamismax/solarprep/internal/queue"
	"github.com/dunamismax/solarprep/internal/store"
	"github.com/dunamismax/solarprep/internal/webhook"
)

type Server struct {
	logger        *log.Logger
	server        *asynq.Server
	build         buildFunc
	runStore      store.RunStore
	webhookClient webhookSender
	metrics       *metrics
	tracer        trace.Tracer
}

type runner interface {
	Run(ctx context.Context) (domain.Summary, error)
}

type buildFunc func(logger *log.Logger, req domain.RunRequest) (runner, error)

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

// NewServer wires an asynq server whose runs share deps. Batch metrics are
// registered on the worker's registry.
func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	deps batch.Deps,
	runStore store.RunStore,
	webhookClient *webhook.Client,
) *Server {
	m := newMetrics()
	deps.Metrics = batch.NewMetrics(m.registry)

	var sender webhookSender
	if webhookClient != nil {
		sender = webhookClient
	}

	s := newServer(logger, func(l *log.Logger, req domain.RunRequest) (runner, error) {
		return batch.Build(l, req, deps)
	}, runStore, sender, m)

	s.server = asynq.NewServer(
		queueCfg.RedisClientOpt(),
		asynq.Config{
			Concurrency: max(1, workerCfg.Concurrency),
			Queues: map[string]int{
				queueCfg.Name: 1,
			},
			LogLevel: asynq.WarnLevel,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				taskID, _ := asynq.GetTaskID(ctx)
				logger.Error("task failed", "type", task.Type(), "task_id", taskID, "err", err)
			}),
		},
	)
	return s
}

func newServer(logger *log.Logger, build buildFunc, runStore store.RunStore, sender webhookSender, m *metrics) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		logger:        logger,
		build:         build,
		runStore:      runStore,
		webhookClient: sender,
		metrics:       m,
		tracer:        otel.Tracer("solarprep/worker"),
	}
}

func (s *Server) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeRunTurbulence, s.handleRun)
	return mux
}

// Run blocks until the process receives SIGTERM or SIGINT.
func (s *Server) Run() error {
	return s.server.Run(s.Mux())
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleRun(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.RunStatusFailed

	payload, err := queue.ParseRunPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.run", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("run.id", payload.RunID),
		attribute.String("run.source", payload.Request.Source),
		attribute.String("run.destination", payload.Request.Destination),
		attribute.Bool("run.tile", payload.Request.Output.Tile),
	)
	defer span.End()

	s.metrics.activeRuns.Inc()
	defer func() {
		s.metrics.activeRuns.Dec()
		s.metrics.runsTotal.WithLabelValues(outcome).Inc()
		s.metrics.runDuration.WithLabelValues(outcome).Observe(time.Since(startedAt).Seconds())
	}()

	logger := s.logger.With("run_id", payload.RunID)
	logger.Info("starting run", "source", payload.Request.Source, "destination", payload.Request.Destination,
		"queued_for", startedAt.Sub(payload.RequestedAt).Round(time.Millisecond))
	s.updateStatus(ctx, logger, payload.RunID, domain.RunStatusProcessing)

	r, err := s.build(logger, payload.Request)
	if err != nil {
		s.fail(ctx, logger, span, payload, nil, err)
		if errors.Is(err, domain.ErrInvalidConfig) {
			return fmt.Errorf("build run: %v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("build run: %w", err)
	}

	summary, err := r.Run(ctx)
	if err != nil {
		s.fail(ctx, logger, span, payload, &summary, err)
		return fmt.Errorf("run: %w", err)
	}

	span.SetAttributes(
		attribute.Int("run.produced", summary.Produced),
		attribute.Int("run.failed", summary.Failed),
	)
	outcome = domain.RunStatusSucceeded
	run := s.finish(ctx, logger, payload.RunID, outcome, &summary, "")
	s.notify(ctx, logger, payload.Request.WebhookURL, run)

	logger.Info("run succeeded", "produced", summary.Produced, "failed", summary.Failed,
		"exhausted", summary.Exhausted, "elapsed", time.Since(startedAt).Round(time.Millisecond))
	span.SetStatus(codes.Ok, "processed")
	return nil
}

func (s *Server) fail(ctx context.Context, logger *log.Logger, span trace.Span, payload queue.RunPayload, summary *domain.Summary, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, "run failed")
	logger.Error("run failed", "err", err)

	run := s.finish(ctx, logger, payload.RunID, domain.RunStatusFailed, summary, err.Error())
	s.notify(ctx, logger, payload.Request.WebhookURL, run)
}

func (s *Server) updateStatus(ctx context.Context, logger *log.Logger, runID, status string) {
	if s.runStore == nil {
		return
	}
	if _, err := s.runStore.UpdateStatus(ctx, runID, status); err != nil {
		logger.Warn("run status update failed", "status", status, "err", err)
	}
}

// finish records the final state. When the store is unavailable the run is
// still reported from what the worker knows.
func (s *Server) finish(ctx context.Context, logger *log.Logger, runID, status string, summary *domain.Summary, errMsg string) domain.Run {
	fallback := domain.Run{ID: runID, Status: status, Summary: summary, Error: errMsg, UpdatedAt: time.Now().UTC()}
	if s.runStore == nil {
		return fallback
	}
	run, err := s.runStore.Finish(ctx, runID, status, summary, errMsg)
	if err != nil {
		logger.Warn("run finish update failed", "status", status, "err", err)
		return fallback
	}
	return run
}

// notify delivers the run event. A failed delivery is logged and counted but
// does not change the run's outcome.
func (s *Server) notify(ctx context.Context, logger *log.Logger, endpoint string, run domain.Run) {
	if endpoint == "" || s.webhookClient == nil {
		return
	}
	event, payload := webhook.NewRunEvent(run)
	if err := s.webhookClient.Send(ctx, endpoint, event, payload); err != nil {
		s.metrics.webhookFailures.Inc()
		logger.Warn("webhook delivery failed", "event", event, "err", err)
	}
}
