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
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "txlens_build_info",
			Help: "Build information of txlens",
		},
		[]string{"version", "commit", "date"},
	)

	TranslationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txlens_translations_total",
			Help: "Total number of question translations by outcome",
		},
		[]string{"source", "outcome"},
	)

	TranslationConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "txlens_translation_confidence",
			Help:    "Confidence score of produced translations",
			Buckets: []float64{0.1, 0.25, 0.5, 0.75, 0.9, 1},
		},
	)

	QueryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txlens_query_attempts_total",
			Help: "Total number of backend query attempts by outcome",
		},
		[]string{"outcome"},
	)

	QueryRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "txlens_query_retries_total",
			Help: "Total number of corrective query retries",
		},
	)

	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "txlens_query_duration_seconds",
			Help:    "Duration of executed queries including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txlens_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "txlens_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "txlens_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// RecordQuery records a finished execution, success or not.
func RecordQuery(duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	QueryDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
