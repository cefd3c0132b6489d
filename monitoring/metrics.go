package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	apiRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helpdesk_api_requests_total",
			Help: "Backend calls by operation and outcome",
		},
		[]string{"operation", "code"},
	)

	apiDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "helpdesk_api_request_duration_seconds",
			Help:    "Latency of backend calls",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"operation"},
	)

	sessionEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helpdesk_session_events_total",
			Help: "Session lifecycle events",
		},
		[]string{"event"},
	)

	ticketsLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "helpdesk_tickets_loaded",
			Help: "Tickets held by the ticket store",
		},
	)

	staleResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helpdesk_stale_responses_total",
			Help: "Responses discarded because a newer request superseded them",
		},
		[]string{"resource"},
	)
)

// TrackRequest records one backend call. code is 0 when no response arrived.
func TrackRequest(operation string, code int, duration time.Duration) {
	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	apiRequests.WithLabelValues(operation, label).Inc()
	apiDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// TrackSession counts login, logout, restore and invalidate events.
func TrackSession(event string) {
	sessionEvents.WithLabelValues(event).Inc()
}

func SetTicketsLoaded(n int) {
	ticketsLoaded.Set(float64(n))
}

func TrackStale(resource string) {
	staleResponses.WithLabelValues(resource).Inc()
}
