package batch

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts what runs produce. Register it on the worker's registry to
// expose it over HTTP, or on a private one and dump it with WriteTextfile.
type Metrics struct {
	registry       *prometheus.Registry
	filesTotal     *prometheus.CounterVec
	outputsTotal   prometheus.Counter
	exhaustedTotal prometheus.Counter
	runDuration    prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		filesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solarprep_files_total",
			Help: "Input files handled, by outcome.",
		}, []string{"status"}),
		outputsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "solarprep_outputs_total",
			Help: "Output units (frames or tiles) written.",
		}),
		exhaustedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "solarprep_budget_exhausted_total",
			Help: "Runs that stopped because the output budget ran out.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "solarprep_run_duration_seconds",
			Help:    "Wall time of a complete run.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
	}
	reg.MustRegister(m.filesTotal, m.outputsTotal, m.exhaustedTotal, m.runDuration)
	return m
}

// NewStandaloneMetrics registers on a private registry, for one-shot CLI runs.
func NewStandaloneMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.registry = registry
	return m
}

// WriteTextfile dumps the private registry in the node_exporter textfile
// format. It is a no-op for metrics registered elsewhere.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || m.registry == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

func (m *Metrics) observeFile(ok bool, outputs int) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "failed"
	}
	m.filesTotal.WithLabelValues(status).Inc()
	m.outputsTotal.Add(float64(outputs))
}

func (m *Metrics) observeRun(seconds float64, exhausted bool) {
	if m == nil {
		return
	}
	m.runDuration.Observe(seconds)
	if exhausted {
		m.exhaustedTotal.Inc()
	}
}
