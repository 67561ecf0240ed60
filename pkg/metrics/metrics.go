package metrics

import (
	"net/http"
	"strconv"
	"time"

	"snare/pkg/engine"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	scriptExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snare_script_executions_total",
			Help: "Script entry-point calls by outcome",
		},
		[]string{"script", "entry_point", "outcome"},
	)

	scriptExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "snare_script_execution_duration_seconds",
			Help:    "Time spent inside a script entry point",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"script", "entry_point"},
	)

	scriptLockWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "snare_script_lock_wait_seconds",
			Help:    "Time spent waiting for a script's interpreter lock",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"script"},
	)
)

// Middleware records HTTP metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(ww.Status())

		// Use the route pattern if available (to avoid high cardinality with names)
		routePattern := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			routePattern = rctx.RoutePattern()
		}
		if routePattern == "" {
			routePattern = r.URL.Path
		}

		httpRequestsTotal.WithLabelValues(r.Method, routePattern, status).Inc()
		httpRequestDuration.WithLabelValues(r.Method, routePattern, status).Observe(duration)
	})
}

// ObserveExecution records one script call. It has the engine observer signature.
func ObserveExecution(e engine.Execution) {
	scriptExecutionsTotal.WithLabelValues(e.Script, e.EntryPoint, e.Outcome()).Inc()
	scriptLockWait.WithLabelValues(e.Script).Observe(e.LockWait.Seconds())
	if engine.KindOf(e.Err) != engine.KindMalformedArguments && engine.KindOf(e.Err) != engine.KindLock {
		scriptExecutionDuration.WithLabelValues(e.Script, e.EntryPoint).Observe(e.Duration.Seconds())
	}
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
