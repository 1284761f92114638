package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Request metrics
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryassist_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queryassist_request_duration_seconds",
			Help:    "End-to-end request duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 1.5, 3},
		},
		[]string{"endpoint"},
	)

	SuggestionsServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryassist_suggestions_served_total",
			Help: "Total number of suggestions returned, by source",
		},
		[]string{"source"},
	)

	// Retrieval leg metrics
	SearchLegDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queryassist_search_leg_duration_seconds",
			Help:    "Duration of individual retrieval legs",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.2, 0.5},
		},
		[]string{"leg", "status"},
	)

	DegradedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryassist_degraded_requests_total",
			Help: "Requests served with one retrieval leg missing",
		},
		[]string{"leg"},
	)

	SwallowedErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryassist_swallowed_errors_total",
			Help: "Errors absorbed without failing the request",
		},
		[]string{"component"},
	)

	// Embedding metrics
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryassist_embedding_requests_total",
			Help: "Embedding encode calls by outcome",
		},
		[]string{"status"},
	)

	EmbeddingCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queryassist_embedding_cache_hits_total",
			Help: "Embedding LRU cache hits",
		},
	)

	EmbeddingCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queryassist_embedding_cache_misses_total",
			Help: "Embedding LRU cache misses",
		},
	)

	// Document store metrics
	DocumentsIndexed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryassist_documents_indexed_total",
			Help: "Documents written, by indexing outcome",
		},
		[]string{"outcome"},
	)

	ReconciliationEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "queryassist_reconciliation_entries",
			Help: "Half-indexed documents currently pending reconciliation",
		},
	)

	// Behavior store metrics
	BehaviorWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queryassist_behavior_write_failures_total",
			Help: "Behavior store writes that were logged and swallowed",
		},
	)

	BehaviorSelections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queryassist_behavior_selections_total",
			Help: "User selections recorded",
		},
	)

	// Oracle metrics
	OracleCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryassist_oracle_calls_total",
			Help: "Oracle calls by operation and outcome",
		},
		[]string{"operation", "status"},
	)

	// Rate limiting
	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queryassist_rate_limit_exceeded_total",
			Help: "Requests rejected by the rate limiter",
		},
	)
)
