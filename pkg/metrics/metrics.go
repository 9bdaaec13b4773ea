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

	// LLMRequestDuration tracks completion call duration.
	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "Completion gateway call duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"provider", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// DedupOutcomesTotal counts guard decisions for inbound chat messages.
	DedupOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_outcomes_total",
			Help: "Deduplication guard outcomes",
		},
		[]string{"outcome"},
	)

	// DedupEntries tracks the number of live guard entries.
	DedupEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dedup_entries",
			Help: "Idempotency records currently held by the guard",
		},
	)

	// ConversationWritesTotal counts conversation store writes.
	ConversationWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_writes_total",
			Help: "Conversation store writes",
		},
		[]string{"result"},
	)

	// CleanupEntriesRemoved counts legacy entries dropped by cleanup runs.
	CleanupEntriesRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cleanup_entries_removed_total",
			Help: "Legacy conversation entries removed by cleanup",
		},
	)

	// TextBlobBytes tracks the size of the knowledge base and system prompt.
	TextBlobBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "text_blob_bytes",
			Help: "Size of the mutable prompt blobs",
		},
		[]string{"blob"},
	)

	// MessagesTotal tracks total messages persisted.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total messages persisted",
		},
		[]string{"role"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordLLMCall records metrics for one completion call.
func RecordLLMCall(provider, model, status string, duration float64, tokensIn, tokensOut int) {
	LLMRequestDuration.WithLabelValues(provider, status).Observe(duration)
	if model == "" {
		return
	}
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// RecordDedupOutcome increments the guard outcome counter.
func RecordDedupOutcome(outcome string) {
	DedupOutcomesTotal.WithLabelValues(outcome).Inc()
}

// RecordConversationWrite records a conversation store write result.
func RecordConversationWrite(err error) {
	if err != nil {
		ConversationWritesTotal.WithLabelValues("error").Inc()
		return
	}
	ConversationWritesTotal.WithLabelValues("ok").Inc()
}

// SetTextBlobSize records the current size of a named text blob.
func SetTextBlobSize(name string, size int) {
	TextBlobBytes.WithLabelValues(name).Set(float64(size))
}
