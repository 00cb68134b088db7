package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	// RefreshCallers counts every Refresh call, joined or not.
	RefreshCallers = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "console_refresh_callers_total",
		Help: "Callers that asked for an access credential renewal.",
	})

	// RefreshRenewals counts renewal requests actually sent to the API.
	RefreshRenewals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "console_refresh_renewals_total",
			Help: "Access credential renewals issued, by outcome.",
		},
		[]string{"outcome"},
	)

	GuardDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "console_guard_decisions_total",
			Help: "Route guard decisions, by kind.",
		},
		[]string{"decision"},
	)

	Restrictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "console_session_restrictions_total",
		Help: "Forced logouts received on the restriction channel.",
	})

	// UpstreamRequests times calls to the remote API, by route group and
	// status class.
	UpstreamRequests = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "console_upstream_request_duration_seconds",
			Help:    "Remote API request latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "status"},
	)

	SessionAuthenticated = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "console_session_authenticated",
		Help: "1 while the console holds an authenticated session.",
	})
)

// RegisterMetrics adds the console collectors to the default registry.
// Safe to call more than once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(RefreshCallers, RefreshRenewals, GuardDecisions, Restrictions, UpstreamRequests, SessionAuthenticated)
	})
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
