package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agenda"

// Handler serves the collectors registered on g.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// BookingMetrics counts booking attempts by outcome and slot queries.
type BookingMetrics struct {
	bookings    *prometheus.CounterVec
	slotQueries prometheus.Counter
	lifecycle   *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "attempts_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome", "source"}),
		slotQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "slot_queries_total",
			Help:      "Slot grid computations served",
		}),
		lifecycle: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "lifecycle_transitions_total",
			Help:      "Appointment status transitions",
		}, []string{"status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookings, m.slotQueries, m.lifecycle)
	return m
}

func (m *BookingMetrics) ObserveBooking(outcome, source string) {
	if m == nil {
		return
	}
	m.bookings.WithLabelValues(outcome, source).Inc()
}

func (m *BookingMetrics) ObserveSlotQuery() {
	if m == nil {
		return
	}
	m.slotQueries.Inc()
}

func (m *BookingMetrics) ObserveTransition(status string) {
	if m == nil {
		return
	}
	m.lifecycle.WithLabelValues(status).Inc()
}

// NotificationMetrics tracks dispatch outcomes per channel.
type NotificationMetrics struct {
	sends      *prometheus.CounterVec
	duplicates *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

func NewNotificationMetrics(reg prometheus.Registerer) *NotificationMetrics {
	m := &NotificationMetrics{
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notification",
			Name:      "channel_sends_total",
			Help:      "Notification channel attempts by status",
		}, []string{"channel", "event_type", "status"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notification",
			Name:      "duplicate_dispatches_total",
			Help:      "Dispatches suppressed by the idempotency guard",
		}, []string{"event_type"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notification",
			Name:      "dispatch_duration_seconds",
			Help:      "End to end dispatch latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.sends, m.duplicates, m.latency)
	return m
}

func (m *NotificationMetrics) ObserveSend(channel, eventType string, sent bool) {
	if m == nil {
		return
	}
	status := "failed"
	if sent {
		status = "sent"
	}
	m.sends.WithLabelValues(channel, eventType, status).Inc()
}

func (m *NotificationMetrics) ObserveDuplicate(eventType string) {
	if m == nil {
		return
	}
	m.duplicates.WithLabelValues(eventType).Inc()
}

func (m *NotificationMetrics) ObserveDispatch(eventType string, d time.Duration) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(eventType).Observe(d.Seconds())
}

// SchedulerMetrics counts scheduled message processing.
type SchedulerMetrics struct {
	processed *prometheus.CounterVec
}

func NewSchedulerMetrics(reg prometheus.Registerer) *SchedulerMetrics {
	m := &SchedulerMetrics{
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "messages_total",
			Help:      "Scheduled messages by result",
		}, []string{"result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.processed)
	return m
}

func (m *SchedulerMetrics) Observe(result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.processed.WithLabelValues(result).Add(float64(n))
}
