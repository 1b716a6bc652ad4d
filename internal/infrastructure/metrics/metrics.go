package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Media index metrics
var (
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vid",
			Subsystem: "media",
			Name:      "uploads_total",
			Help:      "Total file uploads",
		},
		[]string{"file_type", "status"},
	)

	UploadBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vid",
			Subsystem: "media",
			Name:      "upload_bytes_total",
			Help:      "Total bytes uploaded",
		},
		[]string{"file_type"},
	)

	EnqueueFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vid",
			Subsystem: "media",
			Name:      "enqueue_failures_total",
			Help:      "Processing tasks that could not be enqueued after a successful row insert",
		},
	)

	ProcessingTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vid",
			Subsystem: "processing",
			Name:      "tasks_total",
			Help:      "Processing task outcomes",
		},
		[]string{"outcome"}, // committed | retried | exhausted | permanent | duplicate
	)

	ProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vid",
			Subsystem: "processing",
			Name:      "task_duration_seconds",
			Help:      "Wall time of one processing attempt",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"file_type"},
	)

	SearchQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vid",
			Subsystem: "search",
			Name:      "queries_total",
			Help:      "Search queries served",
		},
		[]string{"mode", "status"}, // mode: keyword | semantic | tags
	)

	QueueOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vid",
			Subsystem: "queue",
			Name:      "operations_total",
			Help:      "Task queue operations",
		},
		[]string{"op"}, // enqueue | dequeue | ack | nack | redeliver
	)
)
