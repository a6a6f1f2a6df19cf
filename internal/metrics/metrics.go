package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	apiRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tileworks",
			Name:      "api_requests_total",
			Help:      "Count of backend API calls by endpoint and HTTP status.",
		},
		[]string{"endpoint", "status"},
	)

	forcedLogouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tileworks",
			Name:      "forced_logouts_total",
			Help:      "Count of sessions invalidated by a 401/403 from the backend.",
		},
	)

	bookingsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tileworks",
			Name:      "bookings_submitted_total",
			Help:      "Count of booking wizard submissions by outcome.",
		},
		[]string{"outcome"},
	)

	statusChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tileworks",
			Name:      "booking_status_changes_total",
			Help:      "Count of admin status changes by target status and outcome.",
		},
		[]string{"status", "outcome"},
	)

	attachmentDeletes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tileworks",
			Name:      "attachment_deletes_total",
			Help:      "Count of persisted attachment deletions by outcome.",
		},
		[]string{"outcome"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(apiRequests, forcedLogouts, bookingsSubmitted, statusChanges, attachmentDeletes)
	})
}

func IncAPIRequest(endpoint string, status int) {
	apiRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
}

func IncForcedLogout() {
	forcedLogouts.Inc()
}

func IncBookingSubmitted(outcome string) {
	bookingsSubmitted.WithLabelValues(outcome).Inc()
}

func IncStatusChange(status, outcome string) {
	statusChanges.WithLabelValues(status, outcome).Inc()
}

func IncAttachmentDelete(outcome string, n int) {
	attachmentDeletes.WithLabelValues(outcome).Add(float64(n))
}
