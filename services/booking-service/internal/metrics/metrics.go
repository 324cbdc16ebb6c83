package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "booking"

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	HoldsCreated        prometheus.Counter
	SlotConflicts       *prometheus.CounterVec
	BookingsConfirmed   *prometheus.CounterVec
	HoldsExpired        prometheus.Counter
	HoldsReaped         *prometheus.CounterVec
	ReapFailures        prometheus.Counter
	StatusTransitions   *prometheus.CounterVec
	SlotComputeDuration *prometheus.HistogramVec
	OutboxPublished     *prometheus.CounterVec
	OutboxLag           prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		HoldsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "holds_created_total",
			Help:      "Holds placed on a staff calendar",
		}),
		SlotConflicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_conflicts_total",
			Help:      "Reservations rejected by the exclusion constraint",
		}, []string{"operation"}),
		BookingsConfirmed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_confirmed_total",
			Help:      "Bookings that reached confirmed",
		}, []string{"source"}),
		HoldsExpired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "holds_expired_on_confirm_total",
			Help:      "Confirm attempts that found the hold expired",
		}),
		HoldsReaped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "holds_reaped_total",
			Help:      "Expired holds removed by the reaper",
		}, []string{"trigger"}),
		ReapFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reap_failures_total",
			Help:      "Reaper sweeps that failed",
		}),
		StatusTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Booking status changes",
		}, []string{"from", "to"}),
		SlotComputeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "slot_compute_duration_seconds",
			Help:      "Time to answer a slot or availability query, store reads included",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"kind"}),
		OutboxPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_published_total",
			Help:      "Outbox events published to Kafka",
		}, []string{"event_type"}),
		OutboxLag: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_unpublished_batch",
			Help:      "Size of the last unpublished outbox batch",
		}),
		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) HoldCreated() {
	if m == nil {
		return
	}
	m.HoldsCreated.Inc()
}

func (m *Metrics) SlotConflict(op string) {
	if m == nil {
		return
	}
	m.SlotConflicts.WithLabelValues(op).Inc()
}

func (m *Metrics) BookingConfirmed(source string) {
	if m == nil {
		return
	}
	m.BookingsConfirmed.WithLabelValues(source).Inc()
}

func (m *Metrics) HoldExpired() {
	if m == nil {
		return
	}
	m.HoldsExpired.Inc()
}

func (m *Metrics) Reaped(trigger string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.HoldsReaped.WithLabelValues(trigger).Add(float64(n))
}

func (m *Metrics) ReapFailed() {
	if m == nil {
		return
	}
	m.ReapFailures.Inc()
}

func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.StatusTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ObserveSlotCompute(kind string, since time.Time) {
	if m == nil {
		return
	}
	m.SlotComputeDuration.WithLabelValues(kind).Observe(time.Since(since).Seconds())
}

func (m *Metrics) Published(eventType string) {
	if m == nil {
		return
	}
	m.OutboxPublished.WithLabelValues(eventType).Inc()
}

func (m *Metrics) Backlog(n int) {
	if m == nil {
		return
	}
	m.OutboxLag.Set(float64(n))
}
