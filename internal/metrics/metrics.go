// Package metrics provides Prometheus metrics for pathstore.
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
	// Storage operation metrics
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pathstore_operations_total",
			Help: "Total storage operations by outcome",
		},
		[]string{"op", "status"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pathstore_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// Remote graph client metrics
	remoteCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pathstore_remote_calls_total",
			Help: "Total calls against the remote graph store",
		},
		[]string{"call", "status"},
	)

	remoteCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pathstore_remote_call_duration_seconds",
			Help:    "Remote graph call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"call"},
	)

	foldersCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pathstore_folders_created_total",
			Help: "Folders materialized during path resolution",
		},
	)

	nodesReconciledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pathstore_nodes_reconciled_total",
			Help: "Same-named sibling nodes deleted by reconciliation",
		},
	)

	// Staging metrics
	stagedBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pathstore_staged_bytes_total",
			Help: "Total bytes written into the local staging directory",
		},
	)

	uploadedBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pathstore_uploaded_bytes_total",
			Help: "Total bytes uploaded to the remote store",
		},
	)

	// Auth metrics
	tokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pathstore_token_refreshes_total",
			Help: "OAuth token refresh attempts",
		},
		[]string{"result"},
	)

	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pathstore_auth_attempts_total",
			Help: "Total API authentication attempts",
		},
		[]string{"result"},
	)

	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pathstore_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pathstore_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pathstore_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pathstore_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	// S3 metrics
	s3OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pathstore_s3_operation_duration_seconds",
			Help:    "S3 operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	s3OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pathstore_s3_operations_total",
			Help: "Total S3 operations",
		},
		[]string{"operation", "status"},
	)

	// Event metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pathstore_sse_connections_active",
			Help: "Number of active event stream subscribers",
		},
	)

	eventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pathstore_events_published_total",
			Help: "Storage events published to subscribers",
		},
		[]string{"type"},
	)

	eventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pathstore_events_dropped_total",
			Help: "Events dropped because a subscriber's buffer was full",
		},
	)
)

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordOperation records a completed storage operation.
func RecordOperation(op string, duration time.Duration, success bool) {
	operationsTotal.WithLabelValues(op, status(success)).Inc()
	operationDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordRemoteCall records a call against the remote graph store.
func RecordRemoteCall(call string, duration time.Duration, success bool) {
	remoteCallsTotal.WithLabelValues(call, status(success)).Inc()
	remoteCallDuration.WithLabelValues(call).Observe(duration.Seconds())
}

// RecordFolderCreated counts a folder created while resolving a path.
func RecordFolderCreated() {
	foldersCreatedTotal.Inc()
}

// RecordReconciled counts deleted same-named siblings.
func RecordReconciled(n int) {
	nodesReconciledTotal.Add(float64(n))
}

// RecordStaged records bytes written to the staging directory.
func RecordStaged(bytes int64) {
	stagedBytesTotal.Add(float64(bytes))
}

// RecordUploaded records bytes sent to the remote store.
func RecordUploaded(bytes int64) {
	uploadedBytesTotal.Add(float64(bytes))
}

// RecordTokenRefresh records an OAuth token refresh.
func RecordTokenRefresh(success bool) {
	tokenRefreshesTotal.WithLabelValues(status(success)).Inc()
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// SetDBConnectionsOpen sets the number of open database connections.
func SetDBConnectionsOpen(count int) {
	dbConnectionsOpen.Set(float64(count))
}

// RecordS3Operation records an S3 operation.
func RecordS3Operation(operation string, duration time.Duration, success bool) {
	s3OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	s3OperationsTotal.WithLabelValues(operation, status(success)).Inc()
}

// SetSSEConnectionsActive sets the number of event stream subscribers.
func SetSSEConnectionsActive(count int64) {
	sseConnectionsActive.Set(float64(count))
}

// RecordSSEEvent counts a published event.
func RecordSSEEvent(eventType string) {
	eventsPublishedTotal.WithLabelValues(eventType).Inc()
}

// RecordSSEDropped counts an event a slow subscriber missed.
func RecordSSEDropped() {
	eventsDroppedTotal.Inc()
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

// Middleware returns HTTP middleware that records request metrics.
// label maps a request to its path label; nil uses the raw URL path.
func Middleware(label func(*http.Request) string, next http.Handler) http.Handler {
	if label == nil {
		label = func(r *http.Request) string { return r.URL.Path }
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, label(r), rw.statusCode, time.Since(start))
	})
}
