package db

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// WAL checkpoint triggers.
const (
	TriggerSchedule = "schedule"
	TriggerCommits  = "commits"
)

var (
	maintenanceRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starkindexor_maintenance_runs_total",
			Help: "Maintenance runs per indexer database by outcome",
		},
		[]string{"indexer", "status"},
	)

	maintenanceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "starkindexor_maintenance_duration_seconds",
			Help:    "Duration of maintenance runs, including the wait for in-flight batches",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"indexer"},
	)

	maintenanceLastRun = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "starkindexor_maintenance_last_run_timestamp",
			Help: "Unix timestamp of the last maintenance run",
		},
		[]string{"indexer"},
	)

	maintenanceSpaceReclaimed = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "starkindexor_maintenance_space_reclaimed_bytes",
			Help: "Bytes reclaimed by the last maintenance run",
		},
		[]string{"indexer"},
	)

	walCheckpoints = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starkindexor_wal_checkpoint_total",
			Help: "WAL checkpoints per indexer database by mode and trigger",
		},
		[]string{"indexer", "mode", "trigger"},
	)

	vacuumRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starkindexor_vacuum_total",
			Help: "VACUUM runs per indexer database",
		},
		[]string{"indexer"},
	)

	committedBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starkindexor_db_committed_batches_total",
			Help: "Batch transactions committed to an indexer database",
		},
		[]string{"indexer"},
	)

	dbSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "starkindexor_db_size_bytes",
			Help: "Indexer database size including the WAL",
		},
		[]string{"indexer"},
	)
)

func maintenanceRunLog(indexer string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	maintenanceRuns.WithLabelValues(indexer, status).Inc()
	maintenanceDuration.WithLabelValues(indexer).Observe(duration.Seconds())
	maintenanceLastRun.WithLabelValues(indexer).Set(float64(time.Now().UTC().Unix()))
}

func spaceReclaimedLog(indexer string, bytes uint64) {
	maintenanceSpaceReclaimed.WithLabelValues(indexer).Set(float64(bytes))
}

func walCheckpointInc(indexer, mode, trigger string) {
	walCheckpoints.WithLabelValues(indexer, mode, trigger).Inc()
}

func vacuumInc(indexer string) {
	vacuumRuns.WithLabelValues(indexer).Inc()
}

func committedBatchInc(indexer string) {
	committedBatches.WithLabelValues(indexer).Inc()
}

func dbSizeLog(indexer string, size int64) {
	dbSize.WithLabelValues(indexer).Set(float64(size))
}
