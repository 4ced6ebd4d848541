// Package metrics provides Prometheus metrics for the ava engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts completed runs by final status.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ava",
			Subsystem: "engine",
			Name:      "runs_total",
			Help:      "Total number of runs by final status",
		},
		[]string{"status"}, // "succeeded", "failed"
	)

	// TasksTotal counts planned tasks by outcome.
	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ava",
			Subsystem: "engine",
			Name:      "tasks_total",
			Help:      "Total number of frame tasks by outcome",
		},
		[]string{"outcome"}, // "cached", "succeeded", "failed"
	)

	// TaskDuration tracks per-frame transform duration by node.
	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ava",
			Subsystem: "engine",
			Name:      "task_duration_seconds",
			Help:      "Frame transform duration in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"node"},
	)

	// WorkersBusy tracks workers currently executing a transform.
	WorkersBusy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ava",
			Subsystem: "engine",
			Name:      "workers_busy",
			Help:      "Number of workers currently executing a transform",
		},
	)

	// QueueDepth tracks tasks ready but not yet dispatched.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ava",
			Subsystem: "engine",
			Name:      "queue_depth",
			Help:      "Number of tasks ready but not yet dispatched",
		},
	)

	// EventsTotal counts journal events by type.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ava",
			Subsystem: "engine",
			Name:      "events_total",
			Help:      "Total number of journal events emitted",
		},
		[]string{"type"},
	)

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ava",
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ava",
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// SSEActiveConnections tracks open event-stream connections.
	SSEActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ava",
			Subsystem: "api",
			Name:      "sse_active_connections",
			Help:      "Number of active SSE connections",
		},
	)

	// SSEConnectionDuration tracks how long event-stream connections stay open.
	SSEConnectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ava",
			Subsystem: "api",
			Name:      "sse_connection_duration_seconds",
			Help:      "Duration of SSE connections",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
		},
	)
)
