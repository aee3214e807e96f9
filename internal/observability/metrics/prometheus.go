// Package metrics provides Prometheus metrics for the dose engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	MedicationsCreated    prometheus.Counter
	DoseValidations       *prometheus.CounterVec
	DoseLogsRecorded      prometheus.Counter
	DoseRejections        prometheus.Counter
	ProjectionsComputed   prometheus.Counter
	ProjectionDuration    prometheus.Histogram
	ActiveMedications     prometheus.Gauge
	PatternWindowsOpened  prometheus.Counter
	AdherenceRebuilds     prometheus.Counter
	KafkaMessagesProduced prometheus.Counter
	KafkaMessagesConsumed prometheus.Counter
	OutboxPending         prometheus.Gauge
	CircuitBreakerState   *prometheus.GaugeVec
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		MedicationsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medications_created_total",
			Help: "Total medications created",
		}),
		DoseValidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dose_validations_total",
			Help: "Dose safety validations by outcome",
		}, []string{"outcome"}),
		DoseLogsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dose_logs_recorded_total",
			Help: "Total dose logs recorded",
		}),
		DoseRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dose_rejections_total",
			Help: "Total dose intakes rejected by the safety validator",
		}),
		ProjectionsComputed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "projections_total",
			Help: "Total schedule projections computed",
		}),
		ProjectionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "projection_duration_seconds",
			Help:    "Schedule projection duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		ActiveMedications: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "medications_active",
			Help: "Currently active medications",
		}),
		PatternWindowsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pattern_windows_opened_total",
			Help: "Total pattern windows opened",
		}),
		AdherenceRebuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "adherence_reports_rebuilt_total",
			Help: "Total daily adherence report rebuilds",
		}),
		KafkaMessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Total Kafka messages produced",
		}),
		KafkaMessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_consumed_total",
			Help: "Total Kafka messages consumed",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	prometheus.MustRegister(
		m.MedicationsCreated,
		m.DoseValidations,
		m.DoseLogsRecorded,
		m.DoseRejections,
		m.ProjectionsComputed,
		m.ProjectionDuration,
		m.ActiveMedications,
		m.PatternWindowsOpened,
		m.AdherenceRebuilds,
		m.KafkaMessagesProduced,
		m.KafkaMessagesConsumed,
		m.OutboxPending,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
