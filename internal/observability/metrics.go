package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Domain metrics. Label sets are small closed vocabularies; ids never become
// labels.
var (
	// SearchPolls counts poll attempts by outcome
	// (batch, complete, network_error, upstream_error, timeout).
	SearchPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stay_search_polls_total",
			Help: "Search result polls by outcome.",
		},
		[]string{"outcome"},
	)

	// MergedResults counts merged hotel entries by kind (added, refreshed, rate).
	MergedResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stay_search_merged_results_total",
			Help: "Hotel results merged into result sets.",
		},
		[]string{"kind"},
	)

	// BookingSubmissions counts itinerary submissions by resulting draft state.
	BookingSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stay_booking_submissions_total",
			Help: "Itinerary submissions by outcome state.",
		},
		[]string{"state"},
	)

	// PaymentInitiations counts payment initiations by resulting payment state.
	PaymentInitiations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stay_payment_initiations_total",
			Help: "Payment initiations by outcome state.",
		},
		[]string{"state"},
	)

	// BookingSessionsEnded counts booking sessions torn down by reason
	// (expired, abandoned, revised).
	BookingSessionsEnded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stay_booking_sessions_ended_total",
			Help: "Booking sessions ended by reason.",
		},
		[]string{"reason"},
	)

	// ActiveBookingSessions is the number of booking sessions held in memory.
	ActiveBookingSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stay_booking_sessions_active",
			Help: "Booking sessions currently held in memory.",
		},
	)

	// UpstreamLatency records upstream call duration by operation and outcome
	// (ok, upstream_error, network_error).
	UpstreamLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stay_upstream_request_duration_seconds",
			Help:    "Duration of upstream aggregator calls in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		SearchPolls, MergedResults, BookingSubmissions, PaymentInitiations,
		BookingSessionsEnded, ActiveBookingSessions, UpstreamLatency,
	)
}

// ObserveUpstream records one upstream call.
func ObserveUpstream(op, outcome string, started time.Time) {
	UpstreamLatency.WithLabelValues(op, outcome).Observe(time.Since(started).Seconds())
}
