// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// LLMStreamDuration tracks LLM streaming response duration.
	LLMStreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_stream_duration_seconds",
			Help:    "LLM streaming response duration",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"model", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// ChatRequestsTotal counts chat requests by classified shape.
	ChatRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_requests_total",
			Help: "Chat requests by shape and outcome",
		},
		[]string{"shape", "outcome"},
	)

	// UploadsTotal counts file ingestions by outcome.
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "file_uploads_total",
			Help: "File uploads by outcome",
		},
		[]string{"outcome"},
	)

	// UploadBytes tracks the size of accepted uploads.
	UploadBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "file_upload_bytes",
			Help:    "Size of stored uploads in bytes",
			Buckets: prometheus.ExponentialBuckets(16*1024, 4, 8),
		},
	)

	// CompensationsTotal counts blob deletions issued after a failed persist.
	CompensationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "file_upload_compensations_total",
			Help: "Compensating blob deletions by outcome",
		},
		[]string{"outcome"},
	)

	// ExtractionsTotal counts structured extraction attempts by outcome.
	ExtractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bill_extractions_total",
			Help: "Structured bill extractions by outcome",
		},
		[]string{"outcome"},
	)

	// CategoryMatchesTotal counts category resolutions by the tier that matched.
	CategoryMatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "category_matches_total",
			Help: "Category matches by resolving tier",
		},
		[]string{"tier"},
	)

	// WorkerQueueDepth tracks tasks waiting for a background worker.
	WorkerQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_queue_depth",
			Help: "Background tasks waiting in the queue",
		},
	)

	// WorkerTasksTotal counts finished background tasks.
	WorkerTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_tasks_total",
			Help: "Background tasks by name and outcome",
		},
		[]string{"task", "outcome"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordLLMStream records metrics for an LLM streaming response.
func RecordLLMStream(model, status string, duration float64, tokensIn, tokensOut int) {
	LLMStreamDuration.WithLabelValues(model, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// RecordChat records one classified chat request.
func RecordChat(shape, outcome string) {
	ChatRequestsTotal.WithLabelValues(shape, outcome).Inc()
}

// RecordUpload records one ingestion outcome.
func RecordUpload(outcome string, size int64) {
	UploadsTotal.WithLabelValues(outcome).Inc()
	if outcome == "stored" {
		UploadBytes.Observe(float64(size))
	}
}

// RecordCompensation records a compensating delete.
func RecordCompensation(outcome string) {
	CompensationsTotal.WithLabelValues(outcome).Inc()
}

// RecordExtraction records an extraction outcome.
func RecordExtraction(outcome string) {
	ExtractionsTotal.WithLabelValues(outcome).Inc()
}

// RecordCategoryMatch records which tier resolved a label.
func RecordCategoryMatch(tier string) {
	CategoryMatchesTotal.WithLabelValues(tier).Inc()
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
