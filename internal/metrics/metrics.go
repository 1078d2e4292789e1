// Package metrics holds the Prometheus instrumentation shared by the
// coordinators and sinks, mirroring the promauto package-level var block
// the worker pool used for its own counters and histograms.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamproc_events_consumed_total",
		Help: "Total number of raw events read off the log.",
	})

	EventsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamproc_events_processed_total",
		Help: "Total number of events successfully enriched and dispatched to all sinks.",
	})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamproc_events_dropped_total",
		Help: "Total number of events dropped before dispatch, labeled by reason.",
	}, []string{"reason"})

	SinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamproc_sink_errors_total",
		Help: "Total number of sink dispatch failures, labeled by sink.",
	}, []string{"sink"})

	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "streamproc_batch_size",
		Help:    "Number of events committed per batch.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	BatchProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "streamproc_batch_processing_duration_seconds",
		Help:    "Wall-clock time to enrich, dispatch, and commit one batch.",
		Buckets: prometheus.DefBuckets,
	})

	WarehouseFlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "streamproc_warehouse_flush_duration_seconds",
		Help:    "Duration of warehouse batch inserts.",
		Buckets: prometheus.DefBuckets,
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamproc_queue_depth",
		Help: "Current number of events buffered awaiting warehouse flush.",
	})

	BackfillProgress = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamproc_backfill_rows_processed",
		Help: "Rows processed so far by the active backfill run.",
	})
)
