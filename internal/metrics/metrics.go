// Package metrics содержит Prometheus-метрики движка задач и учёта прав.
// Все методы безопасны для nil-получателя: сервисы можно собирать без метрик.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics объединяет коллекторы сервиса.
type Metrics struct {
	reservations  *prometheus.CounterVec
	denials       *prometheus.CounterVec
	settlements   *prometheus.CounterVec
	paymentEvents *prometheus.CounterVec
	jobsFinished  *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	jobsInFlight  prometheus.Gauge
}

// New создаёт метрики и регистрирует их в reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mixmaster",
			Name:      "reservations_total",
			Help:      "Entitlement reservations granted, by kind.",
		}, []string{"kind"}),
		denials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mixmaster",
			Name:      "entitlement_denials_total",
			Help:      "Entitlement checks denied, by reason.",
		}, []string{"reason"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mixmaster",
			Name:      "reservation_settlements_total",
			Help:      "Reservations committed or released, by outcome and kind.",
		}, []string{"outcome", "kind"}),
		paymentEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mixmaster",
			Name:      "payment_events_total",
			Help:      "Payment provider events, by type and result.",
		}, []string{"type", "result"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mixmaster",
			Name:      "jobs_finished_total",
			Help:      "Jobs reaching a terminal state.",
		}, []string{"state"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mixmaster",
			Name:      "stage_duration_seconds",
			Help:      "Duration of processing stages.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"stage", "result"}),
		jobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mixmaster",
			Name:      "jobs_in_flight",
			Help:      "Jobs currently being orchestrated by this process.",
		}),
	}
	reg.MustRegister(m.reservations, m.denials, m.settlements, m.paymentEvents,
		m.jobsFinished, m.stageDuration, m.jobsInFlight)
	return m
}

func (m *Metrics) ReservationGranted(kind string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(kind).Inc()
}

func (m *Metrics) EntitlementDenied(reason string) {
	if m == nil {
		return
	}
	m.denials.WithLabelValues(reason).Inc()
}

func (m *Metrics) ReservationSettled(outcome, kind string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(outcome, kind).Inc()
}

func (m *Metrics) PaymentEvent(eventType, result string) {
	if m == nil {
		return
	}
	m.paymentEvents.WithLabelValues(eventType, result).Inc()
}

func (m *Metrics) JobFinished(state string) {
	if m == nil {
		return
	}
	m.jobsFinished.WithLabelValues(state).Inc()
}

func (m *Metrics) StageObserved(stage, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage, result).Observe(d.Seconds())
}

// JobStarted увеличивает число задач в работе и возвращает функцию для уменьшения.
func (m *Metrics) JobStarted() func() {
	if m == nil {
		return func() {}
	}
	m.jobsInFlight.Inc()
	return m.jobsInFlight.Dec
}
