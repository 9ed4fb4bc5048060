package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BackendRequestsTotal counts ScanPer API calls by endpoint and outcome.
	BackendRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scanper",
		Subsystem: "liff",
		Name:      "backend_requests_total",
		Help:      "Total ScanPer API requests by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	// BackendRequestDuration tracks ScanPer API latency.
	BackendRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "scanper",
		Subsystem: "liff",
		Name:      "backend_request_duration_seconds",
		Help:      "ScanPer API request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"endpoint"})

	// PaymentTransitionsTotal counts payment modal state entries.
	PaymentTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scanper",
		Subsystem: "liff",
		Name:      "payment_transitions_total",
		Help:      "Payment flow state transitions by target state.",
	}, []string{"state"})

	// FreeClaimsTotal counts free-page claim attempts by outcome.
	FreeClaimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scanper",
		Subsystem: "liff",
		Name:      "free_claims_total",
		Help:      "Free page claim attempts by outcome.",
	}, []string{"outcome"})

	// LoginsTotal counts completed logins by method (oauth, liff).
	LoginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scanper",
		Subsystem: "liff",
		Name:      "logins_total",
		Help:      "Completed LINE logins by method and outcome.",
	}, []string{"method", "outcome"})

	// ActiveDashboards is the number of mounted dashboard sessions.
	ActiveDashboards = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "scanper",
		Subsystem: "liff",
		Name:      "active_dashboards",
		Help:      "Number of mounted dashboard sessions.",
	})
)
