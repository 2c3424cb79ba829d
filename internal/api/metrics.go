package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcomes of a POST /v1/runs.
const (
	submitAccepted     = "accepted"
	submitInvalid      = "invalid"
	submitThrottled    = "throttled"
	submitStoreError   = "store_error"
	submitEnqueueError = "enqueue_error"
)

// Results of a GET /v1/runs/{id}.
const (
	lookupFound    = "found"
	lookupNotFound = "not_found"
	lookupError    = "error"
)

type metrics struct {
	registry    *prometheus.Registry
	submissions *prometheus.CounterVec
	lookups     *prometheus.CounterVec
	tileCaps    prometheus.Histogram
	latency     *prometheus.HistogramVec
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solarprep_api_run_submissions_total",
			Help: "Run submissions by outcome.",
		}, []string{"outcome"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solarprep_api_run_lookups_total",
			Help: "Run status lookups by result.",
		}, []string{"result"}),
		tileCaps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "solarprep_api_accepted_output_cap",
			Help:    "Output caps of accepted runs. Unbounded runs are not observed.",
			Buckets: prometheus.ExponentialBuckets(10, 10, 6),
		}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "solarprep_api_request_duration_seconds",
			Help:    "API latency by route and status class.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "class"}),
	}
	for _, outcome := range []string{submitAccepted, submitInvalid, submitThrottled, submitStoreError, submitEnqueueError} {
		m.submissions.WithLabelValues(outcome)
	}
	registry.MustRegister(m.submissions, m.lookups, m.tileCaps, m.latency)
	return m
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) submitted(outcome string) {
	m.submissions.WithLabelValues(outcome).Inc()
}

// accepted records a queued run and the cap it asked for.
func (m *metrics) accepted(limit int) {
	m.submitted(submitAccepted)
	if limit >= 0 {
		m.tileCaps.Observe(float64(limit))
	}
}

func (m *metrics) looked(result string) {
	m.lookups.WithLabelValues(result).Inc()
}

func (m *metrics) withLatency(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.latency.WithLabelValues(routeLabel(r.URL.Path), statusClass(rec.status)).Observe(time.Since(start).Seconds())
	})
}

// routeLabel collapses run IDs so label cardinality stays bounded.
func routeLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/runs/"):
		return "/v1/runs/{id}"
	case path == "/v1/runs":
		return "/v1/runs"
	case path == "/healthz", path == "/metrics":
		return path
	default:
		return "other"
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
