package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry        *prometheus.Registry
	runsTotal       *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	activeRuns      prometheus.Gauge
	webhookFailures prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solarprep_worker_runs_total",
			Help: "Turbulence runs handled by the worker, by final status.",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "solarprep_worker_run_duration_seconds",
			Help:    "Time from task pickup to final status.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 16),
		}, []string{"status"}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "solarprep_worker_active_runs",
			Help: "Runs currently executing in this worker.",
		}),
		webhookFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "solarprep_worker_webhook_failures_total",
			Help: "Run notifications that could not be delivered.",
		}),
	}

	registry.MustRegister(
		m.runsTotal,
		m.runDuration,
		m.activeRuns,
		m.webhookFailures,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
