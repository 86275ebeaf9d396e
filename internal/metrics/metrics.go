package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Database metrics
	dbQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starkindexor_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"db", "operation"},
	)

	dbQueryTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "starkindexor_db_query_duration_seconds",
			Help:    "Duration of database queries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"db", "operation"},
	)

	dbErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starkindexor_db_errors_total",
			Help: "Total number of database errors",
		},
		[]string{"db", "error_type"},
	)

	// Indexing metrics
	LastCommittedBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "starkindexor_last_committed_block",
			Help: "The block number of the last committed batch",
		},
		[]string{"indexer"},
	)

	BatchesApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starkindexor_batches_applied_total",
			Help: "Total number of batches committed",
		},
		[]string{"indexer"},
	)

	Mutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starkindexor_mutations_total",
			Help: "Total number of entity versions and history records written",
		},
		[]string{"indexer"},
	)

	EventsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starkindexor_events_applied_total",
			Help: "Total number of decoded events applied to the projection",
		},
		[]string{"indexer"},
	)

	EventsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starkindexor_events_skipped_total",
			Help: "Total number of events skipped, by reason",
		},
		[]string{"indexer", "reason"},
	)

	BatchApplyTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "starkindexor_batch_apply_duration_seconds",
			Help:    "Time taken to apply and commit one batch",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"indexer"},
	)

	Rollbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starkindexor_rollbacks_total",
			Help: "Total number of projection rollbacks",
		},
		[]string{"indexer"},
	)

	StorageRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starkindexor_storage_retries_total",
			Help: "Total number of batch retries after storage errors",
		},
		[]string{"indexer"},
	)

	IndexerUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "starkindexor_indexer_up",
			Help: "Whether the indexer is running (1) or stopped or failed (0)",
		},
		[]string{"indexer"},
	)

	// System metrics
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "starkindexor_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)

	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starkindexor_errors_total",
			Help: "Total number of errors by component and severity",
		},
		[]string{"component", "severity"},
	)

	ComponentHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "starkindexor_component_health",
			Help: "Component health status (1=healthy, 0=unhealthy)",
		},
		[]string{"component"},
	)

	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "starkindexor_goroutines",
			Help: "Number of active goroutines",
		},
	)

	MemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "starkindexor_memory_usage_bytes",
			Help: "Memory usage statistics",
		},
		[]string{"type"},
	)

	startTime = time.Now()
)

func DBQueryInc(db string, operation string) {
	dbQueries.WithLabelValues(db, operation).Inc()
}

func DBQueryDuration(db string, operation string, duration time.Duration) {
	dbQueryTime.WithLabelValues(db, operation).Observe(duration.Seconds())
}

func DBErrorsInc(db string, errorType string) {
	dbErrors.WithLabelValues(db, errorType).Inc()
}

func BatchApplyTimeLog(indexer string, duration time.Duration) {
	BatchApplyTime.WithLabelValues(indexer).Observe(duration.Seconds())
}

func LastCommittedBlockSet(indexer string, blockNum uint64) {
	LastCommittedBlock.WithLabelValues(indexer).Set(float64(blockNum))
}

func BatchAppliedInc(indexer string, events, mutations int) {
	BatchesApplied.WithLabelValues(indexer).Inc()
	EventsApplied.WithLabelValues(indexer).Add(float64(events))
	Mutations.WithLabelValues(indexer).Add(float64(mutations))
}

func EventsSkippedInc(indexer, reason string, count int) {
	if count == 0 {
		return
	}
	EventsSkipped.WithLabelValues(indexer, reason).Add(float64(count))
}

func RollbacksInc(indexer string) {
	Rollbacks.WithLabelValues(indexer).Inc()
}

func StorageRetriesInc(indexer string) {
	StorageRetries.WithLabelValues(indexer).Inc()
}

func IndexerUpSet(indexer string, up bool) {
	if up {
		IndexerUp.WithLabelValues(indexer).Set(1)
		return
	}
	IndexerUp.WithLabelValues(indexer).Set(0)
}

func ErrorsInc(component, severity string) {
	Errors.WithLabelValues(component, severity).Inc()
}

func ComponentHealthSet(component string, healthy bool) {
	boolAsFloat := float64(1)
	if !healthy {
		boolAsFloat = 0
	}

	ComponentHealth.WithLabelValues(component).Set(boolAsFloat)
}

// UpdateSystemMetrics updates runtime system metrics.
// This should be called periodically (e.g., every 15 seconds).
func UpdateSystemMetrics() {
	// Update uptime
	Uptime.Set(time.Since(startTime).Seconds())

	// Update goroutine count
	Goroutines.Set(float64(runtime.NumGoroutine()))

	// Update memory statistics
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	MemoryUsage.WithLabelValues("alloc").Set(float64(m.Alloc))
	MemoryUsage.WithLabelValues("total_alloc").Set(float64(m.TotalAlloc))
	MemoryUsage.WithLabelValues("sys").Set(float64(m.Sys))
	MemoryUsage.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))
}
