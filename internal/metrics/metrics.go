// Package metrics records redaction job metrics with Prometheus. The CLI runs
// one job per process, so metrics are exported to a node-exporter textfile
// rather than served over HTTP.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Veraticus/redactor/internal/model"
)

const (
	// Namespace is the namespace for all redactor metrics.
	Namespace = "redactor"
)

// Metrics holds all Prometheus metrics for redaction jobs.
type Metrics struct {
	registry *prometheus.Registry

	// Job metrics
	JobsTotal   *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec

	// Unit metrics
	UnitsTotal *prometheus.CounterVec

	// Redaction metrics
	RedactionsTotal *prometheus.CounterVec

	// Detector metrics
	DetectorErrors *prometheus.CounterVec
}

// New creates metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		JobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "jobs_total",
			Help:      "Redaction jobs by stage, format and final status.",
		}, []string{"stage", "format", "status"}),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "job_duration_seconds",
			Help:      "Time spent processing a document.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"format"}),
		UnitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "units_total",
			Help:      "Content units by outcome.",
		}, []string{"outcome"}),
		RedactionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "redactions_total",
			Help:      "Applied redactions by category and strategy.",
		}, []string{"category", "strategy"}),
		DetectorErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "detector_errors_total",
			Help:      "Detector failures and degradations by detector and error kind.",
		}, []string{"detector", "kind"}),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveResult records one finished job.
func (m *Metrics) ObserveResult(stage string, result model.RedactionResult) {
	m.JobsTotal.WithLabelValues(stage, result.Format, string(result.Status)).Inc()
	m.JobDuration.WithLabelValues(result.Format).Observe(result.Duration.Seconds())

	m.UnitsTotal.WithLabelValues("succeeded").Add(float64(result.Succeeded - result.Degraded))
	m.UnitsTotal.WithLabelValues("degraded").Add(float64(result.Degraded))
	m.UnitsTotal.WithLabelValues("failed").Add(float64(result.Failed))

	for _, e := range result.Audit {
		m.RedactionsTotal.WithLabelValues(e.Category, string(e.Strategy)).Inc()
	}
	for _, e := range result.Errors {
		m.DetectorErrors.WithLabelValues(string(e.Detector), string(e.Kind)).Inc()
	}
	for _, w := range result.Warnings {
		m.DetectorErrors.WithLabelValues(string(w.Detector), string(w.Kind)).Inc()
	}
}

// WriteTextfile writes all metrics to path in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
