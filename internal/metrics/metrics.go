// Package metrics exposes Prometheus counters/histograms for every
// pipeline stage, grounded verbatim in idiom on the teacher's
// internal/metrics/metrics.go (Namespace/Subsystem/Name convention,
// per-stage label sets).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var labels = []string{"chain", "network"}

var (
	// Fetch Scheduler
	SchedulerTicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "near_indexer",
		Subsystem: "scheduler",
		Name:      "ticks_total",
		Help:      "Total scheduler loop iterations",
	}, labels)

	SchedulerHeightsEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "near_indexer",
		Subsystem: "scheduler",
		Name:      "heights_enqueued_total",
		Help:      "Total heights enqueued to the dispatcher",
	}, labels)

	SchedulerDictionaryUsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "near_indexer",
		Subsystem: "scheduler",
		Name:      "dictionary_queries_total",
		Help:      "Total dictionary queries issued",
	}, labels)

	SchedulerDictionaryDisabled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "near_indexer",
		Subsystem: "scheduler",
		Name:      "dictionary_disabled_total",
		Help:      "Total times the dictionary was disabled for the session",
	}, labels)

	SchedulerTickLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "near_indexer",
		Subsystem: "scheduler",
		Name:      "tick_duration_seconds",
		Help:      "Scheduler tick processing duration",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, labels)

	// Block Dispatcher
	DispatcherBlocksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "near_indexer",
		Subsystem: "dispatcher",
		Name:      "blocks_processed_total",
		Help:      "Total blocks processed by the dispatcher",
	}, labels)

	DispatcherBlocksUnavailable = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "near_indexer",
		Subsystem: "dispatcher",
		Name:      "blocks_unavailable_total",
		Help:      "Total blocks reported unavailable (permanent 404)",
	}, labels)

	DispatcherFreeSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "near_indexer",
		Subsystem: "dispatcher",
		Name:      "free_size",
		Help:      "Current dispatcher queue free capacity",
	}, labels)

	// Indexer
	IndexerHandlersInvoked = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "near_indexer",
		Subsystem: "indexer",
		Name:      "handlers_invoked_total",
		Help:      "Total user handler invocations",
	}, labels)

	IndexerHandlerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "near_indexer",
		Subsystem: "indexer",
		Name:      "handler_errors_total",
		Help:      "Total user handler errors",
	}, labels)

	// API Pool
	ApiPoolEndpointsHealthy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "near_indexer",
		Subsystem: "apipool",
		Name:      "endpoints_healthy",
		Help:      "Number of currently healthy RPC endpoints",
	}, labels)

	ApiPoolReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "near_indexer",
		Subsystem: "apipool",
		Name:      "reconnects_total",
		Help:      "Total successful endpoint reconnects",
	}, labels)

	// Unfinalized tracker
	ReorgsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "near_indexer",
		Subsystem: "reorg",
		Name:      "detected_total",
		Help:      "Total detected chain reorganizations",
	}, labels)

	// Block Assembler
	AssemblerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "near_indexer",
		Subsystem: "assembler",
		Name:      "assemble_duration_seconds",
		Help:      "Time to materialize one unified block",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, labels)

	AssemblerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "near_indexer",
		Subsystem: "assembler",
		Name:      "errors_total",
		Help:      "Total block assembly failures",
	}, labels)

	// Dictionary Client
	DictionaryQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "near_indexer",
		Subsystem: "dictionary",
		Name:      "queries_total",
		Help:      "Total dictionary queries executed",
	}, labels)

	DictionaryValidationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "near_indexer",
		Subsystem: "dictionary",
		Name:      "validation_failures_total",
		Help:      "Total dictionary responses rejected by metadata validation",
	}, labels)

	// Replay (operator-triggered backfill)
	ReplayRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "near_indexer",
		Subsystem: "replay",
		Name:      "requests_total",
		Help:      "Total replay requests accepted",
	}, labels)

	ReplayDryRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "near_indexer",
		Subsystem: "replay",
		Name:      "dry_runs_total",
		Help:      "Total replay dry runs executed",
	}, labels)

	ReplayBlocksDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "near_indexer",
		Subsystem: "replay",
		Name:      "blocks_discarded_total",
		Help:      "Total buffered/dynamic-ds records discarded by replay rewinds",
	}, labels)

	ReplayDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "near_indexer",
		Subsystem: "replay",
		Name:      "duration_seconds",
		Help:      "Time to execute a replay request",
		Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5},
	}, labels)
)
