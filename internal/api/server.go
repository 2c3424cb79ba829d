// Package api exposes run submission and lookup over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/solarprep/internal/config"
	"github.com/dunamismax/solarprep/internal/domain"
	"github.com/dunamismax/solarprep/internal/id"
	"github.com/dunamismax/solarprep/internal/queue"
	"github.com/dunamismax/solarprep/internal/ratelimit"
	"github.com/dunamismax/solarprep/internal/store"
)

// DefaultClientHeader identifies the caller for rate limiting.
const DefaultClientHeader = "X-Solarprep-Client"

type Server struct {
	logger       *log.Logger
	queueClient  runEnqueuer
	runStore     store.RunStore
	defaults     config.TurbulenceConfig
	rateLimiter  ratelimit.Limiter
	clientHeader string
	metrics      *metrics
	tracer       trace.Tracer
	mux          *http.ServeMux
}

type runEnqueuer interface {
	EnqueueRun(ctx context.Context, payload queue.RunPayload) (*asynq.TaskInfo, error)
}

type Option func(*Server)

// WithDefaults fills the fields a submitted run leaves out.
func WithDefaults(d config.TurbulenceConfig) Option {
	return func(s *Server) { s.defaults = d }
}

// WithRateLimiter throttles run submissions per value of header.
func WithRateLimiter(l ratelimit.Limiter, header string) Option {
	return func(s *Server) {
		s.rateLimiter = l
		if header != "" {
			s.clientHeader = header
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Server) { s.tracer = t }
}

func NewServer(logger *log.Logger, queueClient runEnqueuer, runStore store.RunStore, opts ...Option) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		logger:       logger,
		queueClient:  queueClient,
		runStore:     runStore,
		defaults:     config.TurbulenceConfig{Effects: domain.DefaultEffectConfig()},
		clientHeader: DefaultClientHeader,
		metrics:      newMetrics(),
		tracer:       otel.Tracer("solarprep/api"),
		mux:          http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.withTracing(s.metrics.withLatency(s.withRateLimit(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("POST /v1/runs", s.handleCreateRun)
	s.mux.HandleFunc("GET /v1/runs/{id}", s.handleGetRun)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	req := domain.RunRequest{
		Effects: s.defaults.Effects,
		Output:  s.defaults.Output,
		Workers: s.defaults.Workers,
	}
	// Decoding writes through pointers; keep the shared default intact.
	if p := s.defaults.Output.MaxOutputs; p != nil {
		req.Output.MaxOutputs = domain.Cap(*p)
	}
	if err := decodeJSON(r, &req); err != nil {
		s.metrics.submitted(submitInvalid)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		s.metrics.submitted(submitInvalid)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	now := time.Now().UTC()
	run := domain.Run{
		ID:        id.New(),
		Status:    domain.RunStatusCreated,
		Request:   req,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.runStore.Create(r.Context(), run); err != nil {
		s.logger.Error("create run failed", "run_id", run.ID, "err", err)
		s.metrics.submitted(submitStoreError)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create run"})
		return
	}

	taskInfo, err := s.queueClient.EnqueueRun(r.Context(), queue.RunPayload{
		RunID:       run.ID,
		Request:     req,
		RequestedAt: now,
	})
	if err != nil {
		s.logger.Error("enqueue failed", "run_id", run.ID, "err", err)
		s.metrics.submitted(submitEnqueueError)
		if _, ferr := s.runStore.Finish(r.Context(), run.ID, domain.RunStatusFailed, nil, "enqueue: "+err.Error()); ferr != nil {
			s.logger.Warn("mark run failed", "run_id", run.ID, "err", ferr)
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enqueue run", "run_id": run.ID})
		return
	}
	s.metrics.accepted(req.Output.Limit())

	if _, err := s.runStore.UpdateStatus(r.Context(), run.ID, domain.RunStatusQueued); err != nil {
		s.logger.Warn("update status failed", "run_id", run.ID, "err", err)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id":     run.ID,
		"status":     domain.RunStatusQueued,
		"queue":      taskInfo.Queue,
		"task_id":    taskInfo.ID,
		"status_url": fmt.Sprintf("/v1/runs/%s", run.ID),
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(r.PathValue("id"))
	if runID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "run id is required"})
		return
	}

	run, ok, err := s.runStore.Get(r.Context(), runID)
	if err != nil {
		s.logger.Error("fetch run failed", "run_id", runID, "err", err)
		s.metrics.looked(lookupError)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load run"})
		return
	}
	if !ok {
		s.metrics.looked(lookupNotFound)
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}
	s.metrics.looked(lookupFound)
	writeJSON(w, http.StatusOK, run)
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
