package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Request-level metrics
	RequestsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_requests_started_total",
			Help: "Total number of orchestrated requests started",
		},
		[]string{"intent", "tier"},
	)

	RequestsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_requests_completed_total",
			Help: "Total number of orchestrated requests completed",
		},
		[]string{"intent", "tier", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "oracle_request_duration_seconds",
			Help:    "End-to-end request duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 15, 20, 30},
		},
		[]string{"intent", "tier"},
	)

	// Stage metrics
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "oracle_stage_duration_seconds",
			Help:    "Per-stage duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"stage", "status"},
	)

	StagesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_stages_skipped_total",
			Help: "Stages skipped because their minimum budget slice was unavailable",
		},
		[]string{"stage"},
	)

	// Generation cascade metrics
	GenerationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_generation_attempts_total",
			Help: "Generation attempts by model and outcome",
		},
		[]string{"model", "outcome"},
	)

	AttemptsPerRequest = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "oracle_attempts_per_request",
			Help:    "Number of generation attempts per request",
			Buckets: []float64{1, 2, 3},
		},
	)

	Continuations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "oracle_continuations_total",
			Help: "Truncation continuation calls issued",
		},
	)

	// Retrieval metrics
	RetrievalConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "oracle_retrieval_confidence",
			Help:    "Confidence score produced by the retrieval ranker",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13},
		},
	)

	CatalogLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_catalog_lookups_total",
			Help: "Keyword catalog lookups by catalog and status",
		},
		[]string{"catalog", "status"},
	)

	ExcerptTruncations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "oracle_excerpt_truncations_total",
			Help: "Excerpts truncated with keyword-centered windows",
		},
	)

	// Research metrics
	ResearchRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_research_runs_total",
			Help: "Web research passes by activation reason",
		},
		[]string{"reason"},
	)

	ResearchSubqueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_research_subqueries_total",
			Help: "Research sub-queries by terminal status",
		},
		[]string{"status"},
	)

	SearchProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_search_provider_calls_total",
			Help: "Web search provider calls by provider and status",
		},
		[]string{"provider", "status"},
	)

	// Collaborator metrics
	embeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_embedding_requests_total",
			Help: "Embedding requests by model and status",
		},
		[]string{"model", "status"},
	)

	embeddingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "oracle_embedding_latency_seconds",
			Help:    "Embedding call latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"model"},
	)

	vectorSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_vector_searches_total",
			Help: "Vector index searches by collection and status",
		},
		[]string{"collection", "status"},
	)

	vectorSearchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "oracle_vector_search_latency_seconds",
			Help:    "Vector search latency in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"collection"},
	)

	PersistQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "oracle_persist_queue_depth",
			Help: "Pending async persistence writes",
		},
	)

	PersistWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_persist_writes_total",
			Help: "Async persistence writes by status",
		},
		[]string{"status"},
	)
)

// RecordEmbeddingMetrics records one embedding call outcome.
func RecordEmbeddingMetrics(model, status string, seconds float64) {
	embeddingRequests.WithLabelValues(model, status).Inc()
	if seconds > 0 {
		embeddingLatency.WithLabelValues(model).Observe(seconds)
	}
}

// RecordVectorSearchMetrics records one vector search outcome.
func RecordVectorSearchMetrics(collection, status string, seconds float64) {
	vectorSearches.WithLabelValues(collection, status).Inc()
	if seconds > 0 {
		vectorSearchLatency.WithLabelValues(collection).Observe(seconds)
	}
}
