// Package metrics provides Prometheus metrics for the pipeline graph engine
// and its reference API server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CommandsTotal counts graph commands by command and result.
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mentatlab",
			Subsystem: "pipelinegraph",
			Name:      "commands_total",
			Help:      "Total number of graph commands by outcome",
		},
		[]string{"command", "result"}, // result: success, error, noop
	)

	// CommandDuration tracks the API round trip of graph commands.
	CommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mentatlab",
			Subsystem: "pipelinegraph",
			Name:      "command_duration_seconds",
			Help:      "Graph command duration in seconds, including the API call",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	// RollbacksTotal counts optimistic mutations reverted after an API failure.
	RollbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mentatlab",
			Subsystem: "pipelinegraph",
			Name:      "rollbacks_total",
			Help:      "Total number of optimistic mutations rolled back",
		},
		[]string{"command"},
	)

	// HistoryOperations counts undo/redo requests.
	HistoryOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mentatlab",
			Subsystem: "pipelinegraph",
			Name:      "history_operations_total",
			Help:      "Total number of history operations",
		},
		[]string{"operation", "result"}, // operation: save, undo, redo; result: applied, noop
	)

	// LayoutDuration tracks layout computation time.
	LayoutDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mentatlab",
			Subsystem: "pipelinegraph",
			Name:      "layout_duration_seconds",
			Help:      "Layout computation duration in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
		[]string{"mode"}, // full, incremental
	)

	// PositionStoreOperations counts durable position reads and writes.
	PositionStoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mentatlab",
			Subsystem: "pipelinegraph",
			Name:      "positionstore_operations_total",
			Help:      "Total number of position store operations",
		},
		[]string{"operation", "result"}, // operation: load, save; result: success, error
	)

	// PipelineStoreOperations counts backend pipeline store operations.
	PipelineStoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mentatlab",
			Subsystem: "pipelinegraph",
			Name:      "pipelinestore_operations_total",
			Help:      "Total number of pipeline store operations",
		},
		[]string{"operation", "result"},
	)

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mentatlab",
			Subsystem: "pipelinegraph",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mentatlab",
			Subsystem: "pipelinegraph",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)
