// Package monitoring exposes Prometheus instrumentation for the scoring
// pipeline.
package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline's instrument set. A single instance is
// created at startup and shared by the pipeline and API layers.
type Metrics struct {
	registry *prometheus.Registry

	PredictionsTotal  *prometheus.CounterVec
	BatchItemsTotal   *prometheus.CounterVec
	EventsDropped     prometheus.Counter
	InferenceDuration *prometheus.HistogramVec
	SubscriberGauge   prometheus.Gauge
}

// New registers the instrument set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		PredictionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "screening_predictions_total",
			Help: "Completed single predictions by model type and outcome.",
		}, []string{"model_type", "outcome"}),
		BatchItemsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "screening_batch_items_total",
			Help: "Batch item dispositions: scored, skipped or failed.",
		}, []string{"result"}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "screening_events_dropped_total",
			Help: "Prediction events dropped by the best-effort publisher.",
		}),
		InferenceDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "screening_inference_duration_seconds",
			Help:    "End-to-end inference latency per prediction.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"model_type"}),
		SubscriberGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "screening_event_subscribers",
			Help: "Currently connected websocket subscribers.",
		}),
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObservePrediction records one completed or failed prediction.
func (m *Metrics) ObservePrediction(modelType string, outcome string, seconds float64) {
	m.PredictionsTotal.WithLabelValues(modelType, outcome).Inc()
	if outcome == "success" {
		m.InferenceDuration.WithLabelValues(modelType).Observe(seconds)
	}
}
