package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests received.",
		},
		[]string{"method", "path", "code"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "code"},
	)

	// TrialStarts counts Start calls by result (started, resumed, or an error code).
	TrialStarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trial_starts_total",
			Help: "Trial start attempts by result.",
		},
		[]string{"result"},
	)

	// TrialIncrements counts Increment calls by result (applied, frozen, or an error code).
	TrialIncrements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trial_increments_total",
			Help: "Trial increment attempts by result.",
		},
		[]string{"result"},
	)

	TrialExhaustions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trial_exhaustions_total",
		Help: "Trials that reached the usage limit.",
	})

	TrialSecondsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trial_seconds_applied_total",
		Help: "Trial seconds committed to profiles.",
	})

	AccessChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_checks_total",
			Help: "Access status resolutions by status.",
		},
		[]string{"status"},
	)
)

// unmatchedRoute labels requests no route matched, keeping label values bounded.
const unmatchedRoute = "unmatched"

// Middleware records request counts and latency by route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := unmatchedRoute
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		code := strconv.Itoa(ww.Status())

		httpRequestsTotal.WithLabelValues(r.Method, route, code).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route, code).Observe(time.Since(start).Seconds())
	})
}
