// Package metrics provides Prometheus metrics for the MAR services.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/carehaven/go-mar/internal/domain/medication"
)

// Metrics holds all application metrics
type Metrics struct {
	MedicationsResolved     *prometheus.CounterVec
	AdministrationsRecorded *prometheus.CounterVec
	AdministrationsEdited   prometheus.Counter
	SupplyDecrements        prometheus.Counter
	NegativeSupplyObserved  prometheus.Counter
	ReportsGenerated        *prometheus.CounterVec
	LowSupplyAlerts         *prometheus.CounterVec
	HTTPRequestDuration     *prometheus.HistogramVec
	KafkaMessagesProduced   prometheus.Counter
	KafkaMessagesConsumed   prometheus.Counter
	OutboxPending           prometheus.Gauge
	CircuitBreakerState     *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

var _ medication.Observer = (*Metrics)(nil)

// New creates all metrics and registers them with reg. A nil reg uses a
// fresh registry, so tests can build as many instances as they need.
func New(reg prometheus.Registerer) *Metrics {
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg == nil {
		r := prometheus.NewRegistry()
		reg, gatherer = r, r
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	m := &Metrics{
		MedicationsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mar_medications_resolved_total",
			Help: "Medications added to clients, by whether a canonical record was reused",
		}, []string{"outcome"}),
		AdministrationsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mar_administrations_recorded_total",
			Help: "Administrations recorded, by status",
		}, []string{"status"}),
		AdministrationsEdited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mar_administrations_edited_total",
			Help: "Administration history corrections",
		}),
		SupplyDecrements: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mar_supply_decrements_total",
			Help: "Doses deducted from client supply",
		}),
		NegativeSupplyObserved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mar_negative_supply_total",
			Help: "Administrations that left a client supply below zero",
		}),
		ReportsGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mar_reports_generated_total",
			Help: "MAR reports generated, by format",
		}, []string{"format"}),
		LowSupplyAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mar_low_supply_alerts_total",
			Help: "Low supply alerts, by result",
		}, []string{"result"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"method", "route", "status"}),
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
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		}, []string{"name"}),
		gatherer: gatherer,
	}

	reg.MustRegister(
		m.MedicationsResolved,
		m.AdministrationsRecorded,
		m.AdministrationsEdited,
		m.SupplyDecrements,
		m.NegativeSupplyObserved,
		m.ReportsGenerated,
		m.LowSupplyAlerts,
		m.HTTPRequestDuration,
		m.KafkaMessagesProduced,
		m.KafkaMessagesConsumed,
		m.OutboxPending,
		m.CircuitBreakerState,
	)

	return m
}

// MedicationResolved counts a canonical record reuse or creation
func (m *Metrics) MedicationResolved(reused bool) {
	outcome := "created"
	if reused {
		outcome = "reused"
	}
	m.MedicationsResolved.WithLabelValues(outcome).Inc()
}

// AdministrationRecorded counts a recorded administration
func (m *Metrics) AdministrationRecorded(status medication.AdministrationStatus, decremented bool, supplyAfter *int) {
	m.AdministrationsRecorded.WithLabelValues(string(status)).Inc()
	if decremented {
		m.SupplyDecrements.Inc()
	}
	if supplyAfter != nil && *supplyAfter < 0 {
		m.NegativeSupplyObserved.Inc()
	}
}

// AdministrationEdited counts a history correction
func (m *Metrics) AdministrationEdited() {
	m.AdministrationsEdited.Inc()
}

// BreakerState records a circuit breaker state change
func (m *Metrics) BreakerState(name string, state float64) {
	m.CircuitBreakerState.WithLabelValues(name).Set(state)
}

// Handler returns the Prometheus HTTP handler for the registry the metrics
// were registered with
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveRequest records one HTTP request
func (m *Metrics) ObserveRequest(method, route, status string, seconds float64) {
	m.HTTPRequestDuration.WithLabelValues(method, route, status).Observe(seconds)
}

// ReportGenerated counts a generated MAR report
func (m *Metrics) ReportGenerated(format string) {
	m.ReportsGenerated.WithLabelValues(format).Inc()
}

// AlertResult counts a low supply alert outcome
func (m *Metrics) AlertResult(result string) {
	m.LowSupplyAlerts.WithLabelValues(result).Inc()
}

// SetOutboxPending records the number of unpublished outbox entries
func (m *Metrics) SetOutboxPending(n int64) {
	m.OutboxPending.Set(float64(n))
}
