package metrics

import (
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ModelCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "civictriage_model_call_duration_seconds",
			Help:    "Latency of embedding and generation calls",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "operation"},
	)

	ModelCallTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civictriage_model_calls_total",
			Help: "Embedding and generation calls by outcome",
		},
		[]string{"provider", "operation", "status"},
	)

	WorkflowRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civictriage_workflow_runs_total",
			Help: "Workflow invocations by outcome",
		},
		[]string{"workflow", "outcome"},
	)

	BatchItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civictriage_batch_items_total",
			Help: "Per-item results of batch workflows",
		},
		[]string{"workflow", "result"},
	)

	RetrievalResults = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "civictriage_retrieval_results",
			Help:    "Similar issues returned per search",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
		},
		[]string{"workflow"},
	)

	EmbeddingJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civictriage_embedding_jobs_total",
			Help: "Embedding queue job transitions",
		},
		[]string{"status"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civictriage_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "civictriage_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	SSEClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "civictriage_sse_active_clients",
			Help: "Connected issue event subscribers",
		},
	)
)

var registerOnce sync.Once

// Init registers every collector with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ModelCallDuration,
			ModelCallTotal,
			WorkflowRuns,
			BatchItems,
			RetrievalResults,
			EmbeddingJobs,
			CacheHits,
			CacheMisses,
			SSEClients,
		)
	})
}

// Handler exposes the default registry.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
