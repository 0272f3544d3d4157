// Package metrics provides Prometheus metrics for the femtoserve server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "femtoserve_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "femtoserve_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Delivery metrics
	contentBytesServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "femtoserve_content_bytes_served_total",
			Help: "Total bytes streamed to clients",
		},
		[]string{"mode"},
	)

	servesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "femtoserve_serves_total",
			Help: "Serve requests by variant and outcome",
		},
		[]string{"variant", "outcome"},
	)

	gateHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "femtoserve_gate_hits_total",
			Help: "Requests short-circuited by the liveness/virus gate",
		},
		[]string{"reason"},
	)

	viewsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "femtoserve_views_total",
			Help: "View counter increments",
		},
	)

	// Thumbnail metrics
	thumbGenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "femtoserve_thumb_generations_total",
			Help: "Thumbnail generations by variant and result",
		},
		[]string{"variant", "result"},
	)

	thumbGenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "femtoserve_thumb_generation_duration_seconds",
			Help:    "Thumbnail generation duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"variant"},
	)

	thumbCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "femtoserve_thumb_cache_total",
			Help: "Thumbnail cache lookups by outcome (hit, miss, shared)",
		},
		[]string{"outcome"},
	)

	// Storage metrics
	storageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "femtoserve_storage_operation_duration_seconds",
			Help:    "Storage backend operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	storageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "femtoserve_storage_operations_total",
			Help: "Total storage backend operations",
		},
		[]string{"backend", "operation", "status"},
	)

	// Item store metrics
	repoQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "femtoserve_repository_query_duration_seconds",
			Help:    "Item repository query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"store", "query"},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "femtoserve_auth_attempts_total",
			Help: "Bearer token validations by result",
		},
		[]string{"result"},
	)

	rateLimitHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "femtoserve_rate_limit_hits_total",
			Help: "Write requests rejected by the rate limiter",
		},
	)

	// SSE metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "femtoserve_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "femtoserve_sse_events_total",
			Help: "Total SSE events published",
		},
		[]string{"type"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordBytesServed records streamed bytes; mode is "full" or "range".
func RecordBytesServed(mode string, n int64) {
	contentBytesServed.WithLabelValues(mode).Add(float64(n))
}

// RecordServe records the outcome of a serve request.
func RecordServe(variant, outcome string) {
	servesTotal.WithLabelValues(variant, outcome).Inc()
}

// RecordGateHit records a gate short-circuit.
func RecordGateHit(reason string) {
	gateHitsTotal.WithLabelValues(reason).Inc()
}

// RecordView records a view counter increment.
func RecordView() {
	viewsTotal.Inc()
}

// RecordThumbGeneration records a thumbnail generation run.
func RecordThumbGeneration(variant, result string, duration time.Duration) {
	thumbGenerationsTotal.WithLabelValues(variant, result).Inc()
	thumbGenerationDuration.WithLabelValues(variant).Observe(duration.Seconds())
}

// RecordThumbCache records a thumbnail cache lookup.
func RecordThumbCache(outcome string) {
	thumbCacheTotal.WithLabelValues(outcome).Inc()
}

// RecordStorageOperation records a storage backend operation.
func RecordStorageOperation(backend, operation string, duration time.Duration, success bool) {
	storageOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	storageOperationsTotal.WithLabelValues(backend, operation, status(success)).Inc()
}

// RecordRepositoryQuery records an item repository query duration.
func RecordRepositoryQuery(store, query string, duration time.Duration) {
	repoQueryDuration.WithLabelValues(store, query).Observe(duration.Seconds())
}

// RecordAuthAttempt records a bearer token validation.
func RecordAuthAttempt(success bool) {
	authAttemptsTotal.WithLabelValues(status(success)).Inc()
}

// RecordRateLimitHit records a rate-limited request.
func RecordRateLimitHit() {
	rateLimitHitsTotal.Inc()
}

// SetSSEConnectionsActive sets the number of active SSE connections.
func SetSSEConnectionsActive(count int64) {
	sseConnectionsActive.Set(float64(count))
}

// RecordSSEEvent records an SSE event publication.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
// routeOf maps a request to a low-cardinality route label.
func Middleware(routeOf func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)
			RecordHTTPRequest(r.Method, routeOf(r), rw.statusCode, time.Since(start))
		})
	}
}
