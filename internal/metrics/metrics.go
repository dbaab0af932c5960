package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the engine's collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	BookingsCreated   *prometheus.CounterVec
	IdempotentReplays prometheus.Counter
	OverlapConflicts  prometheus.Counter
	Transitions       *prometheus.CounterVec
	FeeTransactions   *prometheus.CounterVec
	ProviderFailures  *prometheus.CounterVec
	OutboxPublished   *prometheus.CounterVec
	OutboxFailed      *prometheus.CounterVec
	AuditPurged       prometheus.Counter
	HTTPDuration      *prometheus.HistogramVec
}

func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		BookingsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "bookings_created_total",
			Help: "Bookings persisted, by initial status.",
		}, []string{"status"}),
		IdempotentReplays: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "idempotent_replays_total",
			Help: "Create requests answered with an already persisted booking.",
		}),
		OverlapConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "overlap_conflicts_total",
			Help: "Writes rejected because the slot was taken.",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "status_transitions_total",
			Help: "Booking status changes.",
		}, []string{"from", "to"}),
		FeeTransactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "payment_transactions_total",
			Help: "Payment transactions settled, by fee type and status.",
		}, []string{"fee_type", "status"}),
		ProviderFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "provider_failures_total",
			Help: "Payment provider calls that failed.",
		}, []string{"operation"}),
		OutboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "outbox_published_total",
			Help: "Outbound events delivered to the sink.",
		}, []string{"event_code"}),
		OutboxFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "outbox_failed_total",
			Help: "Outbound event delivery attempts that failed.",
		}, []string{"event_code"}),
		AuditPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "audit_records_purged_total",
			Help: "Audit records removed by the retention sweep.",
		}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP handler latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(
		m.BookingsCreated, m.IdempotentReplays, m.OverlapConflicts, m.Transitions,
		m.FeeTransactions, m.ProviderFailures, m.OutboxPublished, m.OutboxFailed,
		m.AuditPurged, m.HTTPDuration,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) BookingCreated(status string) {
	if m != nil {
		m.BookingsCreated.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) IdempotentReplay() {
	if m != nil {
		m.IdempotentReplays.Inc()
	}
}

func (m *Metrics) OverlapConflict() {
	if m != nil {
		m.OverlapConflicts.Inc()
	}
}

func (m *Metrics) Transition(from, to string) {
	if m != nil {
		m.Transitions.WithLabelValues(from, to).Inc()
	}
}

func (m *Metrics) FeeTransaction(feeType, status string) {
	if m != nil {
		m.FeeTransactions.WithLabelValues(feeType, status).Inc()
	}
}

func (m *Metrics) ProviderFailure(op string) {
	if m != nil {
		m.ProviderFailures.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) Published(code string) {
	if m != nil {
		m.OutboxPublished.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) PublishFailed(code string) {
	if m != nil {
		m.OutboxFailed.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) Purged(n int64) {
	if m != nil && n > 0 {
		m.AuditPurged.Add(float64(n))
	}
}

func (m *Metrics) ObserveHTTP(method, route, status string, seconds float64) {
	if m != nil {
		m.HTTPDuration.WithLabelValues(method, route, status).Observe(seconds)
	}
}
