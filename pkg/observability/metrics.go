package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus collectors shared across the platform. Label cardinality is
// kept low on purpose: operation/collection/status only.
var (
	MemoryOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentflow",
		Subsystem: "memory",
		Name:      "operations_total",
		Help:      "Memory layer operations by operation, collection and status",
	}, []string{"operation", "collection", "status"})

	MemoryOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "agentflow",
		Subsystem: "memory",
		Name:      "operation_duration_seconds",
		Help:      "Memory layer operation latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentflow",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Cache hits by namespace",
	}, []string{"namespace"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentflow",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Cache misses by namespace",
	}, []string{"namespace"})

	EmbeddingRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentflow",
		Subsystem: "embedding",
		Name:      "requests_total",
		Help:      "Embedding provider requests by status",
	}, []string{"status"})

	EmbeddingTokens = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agentflow",
		Subsystem: "embedding",
		Name:      "tokens_total",
		Help:      "Estimated tokens sent to the embedding provider",
	})

	GraphRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentflow",
		Subsystem: "graph",
		Name:      "runs_total",
		Help:      "Graph executions by graph name and status",
	}, []string{"graph", "status"})

	GraphRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "agentflow",
		Subsystem: "graph",
		Name:      "run_duration_seconds",
		Help:      "Graph execution latency",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"graph"})

	WorkflowsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentflow",
		Subsystem: "workflow",
		Name:      "started_total",
		Help:      "Workflow executions started by type",
	}, []string{"type"})

	WorkflowsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentflow",
		Subsystem: "workflow",
		Name:      "closed_total",
		Help:      "Workflow executions closed by type and status",
	}, []string{"type", "status"})

	ActivityExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentflow",
		Subsystem: "activity",
		Name:      "executions_total",
		Help:      "Activity attempts by activity name and status",
	}, []string{"activity", "status"})

	ActivityDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "agentflow",
		Subsystem: "activity",
		Name:      "duration_seconds",
		Help:      "Activity execution latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"activity"})

	ScheduleFirings = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentflow",
		Subsystem: "scheduler",
		Name:      "firings_total",
		Help:      "Schedule firings by schedule id and outcome (started, skipped, buffered)",
	}, []string{"schedule", "outcome"})
)
