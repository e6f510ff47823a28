package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	bookingAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gabs",
			Name:      "booking_attempts_total",
			Help:      "Auto-booking attempts by outcome.",
		},
		[]string{"outcome"},
	)

	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "gabs",
			Name:      "processor_cycle_seconds",
			Help:      "Duration of one auto-booking processor cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	logins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gabs",
			Name:      "portal_logins_total",
			Help:      "Portal login attempts by result.",
		},
		[]string{"result"},
	)

	remindersSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gabs",
			Name:      "reminders_sent_total",
			Help:      "Cancellation reminders delivered.",
		},
	)

	staleReclaims = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gabs",
			Name:      "stale_lock_reclaims_total",
			Help:      "in_progress bookings forced back to pending.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(bookingAttempts, cycleDuration, logins, remindersSent, staleReclaims)
	})
}

func IncBookingAttempt(outcome string) {
	bookingAttempts.WithLabelValues(outcome).Inc()
}

func ObserveCycle(d time.Duration) {
	cycleDuration.Observe(d.Seconds())
}

func IncLogin(result string) {
	logins.WithLabelValues(result).Inc()
}

func IncReminderSent() {
	remindersSent.Inc()
}

func IncStaleReclaim() {
	staleReclaims.Inc()
}
