// Package metrics exposes Prometheus instrumentation for research runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prosearch_runs_started_total",
			Help: "Total number of research runs started",
		},
	)

	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prosearch_runs_completed_total",
			Help: "Total number of research runs completed",
		},
		[]string{"status"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "prosearch_run_duration_seconds",
			Help:    "Research run duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		},
	)

	ResearchIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "prosearch_research_iterations",
			Help:    "Number of research iterations per run",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		},
	)

	QueriesExecuted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prosearch_queries_executed_total",
			Help: "Total number of search queries dispatched",
		},
	)

	QueryFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prosearch_query_failures_total",
			Help: "Total number of queries that failed after retries",
		},
	)

	EvidenceSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "prosearch_evidence_sources",
			Help:    "Number of unique sources at synthesis time",
			Buckets: []float64{0, 1, 3, 5, 10, 20, 50},
		},
	)

	StageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prosearch_stage_latency_seconds",
			Help:    "Latency of pipeline stages in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)
)
