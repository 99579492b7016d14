// Package metrics provides Prometheus instrumentation for the estimator.
//
// It exposes operational metrics about the estimation pipeline: sample
// ingestion, training runs and their duration, per-service model quality,
// estimate latency, persistence latency, and error tracking. All metrics are
// served on the /metrics HTTP endpoint for Prometheus scraping.
//
// Metrics exposed:
//   - estima_samples_total: Counter of appended samples by service
//   - estima_retrains_total: Counter of completed retrains by service and trigger
//   - estima_train_seconds: Histogram of model training duration
//   - estima_estimate_seconds: Histogram of estimate computation duration
//   - estima_persist_seconds: Histogram of metrics-document save duration
//   - estima_model_r2: Gauge of each service's current model quality
//   - estima_sample_count: Gauge of each service's stored sample count
//   - estima_errors_total: Counter of errors by component and reason
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the estimator.
type Metrics struct {
	SamplesTotal    *prometheus.CounterVec
	RetrainsTotal   *prometheus.CounterVec
	TrainSeconds    prometheus.Histogram
	EstimateSeconds prometheus.Histogram
	PersistSeconds  prometheus.Histogram
	ModelR2         *prometheus.GaugeVec
	SampleCount     *prometheus.GaugeVec
	ErrorsTotal     *prometheus.CounterVec
}

// New creates all Prometheus metrics on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith creates all Prometheus metrics on the given registerer. Tests use
// this with an isolated registry.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SamplesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "estima_samples_total",
			Help: "Total run samples appended",
		}, []string{"service"}),

		RetrainsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "estima_retrains_total",
			Help: "Total completed model retrains",
		}, []string{"service", "trigger"}),

		TrainSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "estima_train_seconds",
			Help:    "Time spent training models",
			Buckets: prometheus.DefBuckets,
		}),

		EstimateSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "estima_estimate_seconds",
			Help:    "Time spent computing estimates",
			Buckets: prometheus.DefBuckets,
		}),

		PersistSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "estima_persist_seconds",
			Help:    "Time spent saving the metrics document",
			Buckets: prometheus.DefBuckets,
		}),

		ModelR2: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "estima_model_r2",
			Help: "Training-set R-squared of each service's current model",
		}, []string{"service"}),

		SampleCount: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "estima_sample_count",
			Help: "Stored sample count per service",
		}, []string{"service"}),

		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "estima_errors_total",
			Help: "Total errors by component and reason",
		}, []string{"component", "reason"}),
	}
}

// RecordError increments the error counter for a component and reason.
func (m *Metrics) RecordError(component, reason string) {
	m.ErrorsTotal.WithLabelValues(component, reason).Inc()
}

// RecordAppend tracks an appended sample and the service's new sample count.
func (m *Metrics) RecordAppend(service string, sampleCount int) {
	m.SamplesTotal.WithLabelValues(service).Inc()
	m.SampleCount.WithLabelValues(service).Set(float64(sampleCount))
}

// RecordRetrain tracks a completed retrain and the resulting model quality.
func (m *Metrics) RecordRetrain(service, trigger string, rSquared float64) {
	m.RetrainsTotal.WithLabelValues(service, trigger).Inc()
	m.ModelR2.WithLabelValues(service).Set(rSquared)
}
