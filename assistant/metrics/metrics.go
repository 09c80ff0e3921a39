// Package metrics provides Prometheus metrics export for the assistant.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter exports assistant metrics in Prometheus format.
type Exporter struct {
	registry *prometheus.Registry

	turns        *prometheus.CounterVec
	turnLatency  *prometheus.HistogramVec
	retries      prometheus.Counter
	panels       *prometheus.CounterVec
	genLatency   *prometheus.HistogramVec
	activeTurns  prometheus.Gauge
	contextReset prometheus.Counter
}

// Config configures the exporter.
type Config struct {
	// Registry to use (if nil, creates a new one).
	Registry *prometheus.Registry
	// Buckets for latency histograms, in seconds.
	LatencyBuckets []float64
}

// DefaultConfig returns the default exporter configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}
}

// NewExporter creates a Prometheus metrics exporter.
func NewExporter(cfg Config) *Exporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &Exporter{registry: registry}

	e.turns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "snowgpt",
			Subsystem: "assistant",
			Name:      "turns_total",
			Help:      "Total number of processed conversation turns",
		},
		[]string{"target", "status"},
	)

	e.turnLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "snowgpt",
			Subsystem: "assistant",
			Name:      "turn_latency_seconds",
			Help:      "Conversation turn latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"target"},
	)

	e.retries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "snowgpt",
			Subsystem: "assistant",
			Name:      "validation_retries_total",
			Help:      "Total number of validator invocations in retry loops",
		},
	)

	e.panels = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "snowgpt",
			Subsystem: "assistant",
			Name:      "dashboard_panels_total",
			Help:      "Total number of dashboard panels by outcome",
		},
		[]string{"status"},
	)

	e.genLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "snowgpt",
			Subsystem: "assistant",
			Name:      "generation_latency_seconds",
			Help:      "Generation call latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"kind"},
	)

	e.activeTurns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "snowgpt",
			Subsystem: "assistant",
			Name:      "turns_active",
			Help:      "Number of turns currently in flight",
		},
	)

	e.contextReset = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "snowgpt",
			Subsystem: "assistant",
			Name:      "context_resets_total",
			Help:      "Total number of context-change session resets",
		},
	)

	registry.MustRegister(
		e.turns,
		e.turnLatency,
		e.retries,
		e.panels,
		e.genLatency,
		e.activeTurns,
		e.contextReset,
	)

	return e
}

// RecordTurn records one completed turn.
func (e *Exporter) RecordTurn(target, status string, latency time.Duration) {
	e.turns.WithLabelValues(target, status).Inc()
	e.turnLatency.WithLabelValues(target).Observe(latency.Seconds())
}

// RecordValidationRetry records one validator invocation.
func (e *Exporter) RecordValidationRetry() {
	e.retries.Inc()
}

// RecordPanel records one dashboard panel outcome.
func (e *Exporter) RecordPanel(status string) {
	e.panels.WithLabelValues(status).Inc()
}

// RecordGeneration records one generation call's latency.
func (e *Exporter) RecordGeneration(kind string, latency time.Duration) {
	e.genLatency.WithLabelValues(kind).Observe(latency.Seconds())
}

// TurnStarted marks a turn in flight.
func (e *Exporter) TurnStarted() { e.activeTurns.Inc() }

// TurnFinished marks a turn complete.
func (e *Exporter) TurnFinished() { e.activeTurns.Dec() }

// RecordContextReset records one context-change reset.
func (e *Exporter) RecordContextReset() { e.contextReset.Inc() }

// Handler returns the HTTP handler for the metrics endpoint.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}
