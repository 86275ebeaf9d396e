package cursor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reorgsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starkindexor_reorgs_detected_total",
			Help: "Total number of chain reorganizations detected",
		},
		[]string{"indexer"},
	)

	reorgDepth = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "starkindexor_reorg_depth_blocks",
			Help:    "Depth of chain reorganizations in blocks",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
		},
		[]string{"indexer"},
	)

	reorgLastDetected = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "starkindexor_reorg_last_detected_timestamp",
			Help: "Unix timestamp of last reorg detection",
		},
		[]string{"indexer"},
	)

	replacements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starkindexor_block_replacements_total",
			Help: "Total number of blocks delivered again at or below the committed height",
		},
		[]string{"indexer"},
	)
)

func reorgDetectedLog(indexer string, depth uint64) {
	reorgsDetected.WithLabelValues(indexer).Inc()
	reorgDepth.WithLabelValues(indexer).Observe(float64(depth))
	reorgLastDetected.WithLabelValues(indexer).Set(float64(time.Now().UTC().Unix()))
}

func replacementLog(indexer string) {
	replacements.WithLabelValues(indexer).Inc()
}
