// Package metrics exposes Prometheus instrumentation for forecast batches
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "outbreak"

// Outcomes recorded per pipeline stage
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// Metrics holds the collectors for one registry. A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	PairsTotal     *prometheus.CounterVec
	FitDuration    prometheus.Histogram
	PublishRetries prometheus.Counter
	RunsPublished  prometheus.Counter
	BatchDuration  prometheus.Histogram
	LastBatchPairs prometheus.Gauge
}

// New creates and registers all collectors on a fresh registry
func New() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry registers all collectors with reg
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		PairsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pairs_total",
				Help:      "Number of (disease, region) pairs processed by stage and outcome",
			},
			[]string{"stage", "outcome"},
		),
		FitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fit_duration_seconds",
			Help:      "Time spent fitting smoothing parameters for one series",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
		PublishRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_retries_total",
			Help:      "Number of publish attempts retried after a transient storage failure",
		}),
		RunsPublished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_published_total",
			Help:      "Number of forecast runs written to the store",
		}),
		BatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall time of a complete forecast batch",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		LastBatchPairs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_batch_pairs",
			Help:      "Number of pairs in the most recent batch",
		}),
	}
}

func (m *Metrics) ObservePair(stage, outcome string) {
	if m == nil {
		return
	}
	m.PairsTotal.WithLabelValues(stage, outcome).Inc()
}

func (m *Metrics) ObserveFit(d time.Duration) {
	if m == nil {
		return
	}
	m.FitDuration.Observe(d.Seconds())
}

func (m *Metrics) IncPublishRetry() {
	if m == nil {
		return
	}
	m.PublishRetries.Inc()
}

func (m *Metrics) IncPublished() {
	if m == nil {
		return
	}
	m.RunsPublished.Inc()
}

func (m *Metrics) ObserveBatch(pairs int, d time.Duration) {
	if m == nil {
		return
	}
	m.LastBatchPairs.Set(float64(pairs))
	m.BatchDuration.Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
