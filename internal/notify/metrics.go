package notify

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starkindexor_notifications_total",
			Help: "Total number of committed changes by indexer and type",
		},
		[]string{"indexer", "type"},
	)

	publishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starkindexor_notification_errors_total",
			Help: "Total number of notifications that could not be published",
		},
		[]string{"indexer"},
	)
)

// MetricsSink counts messages by indexer and type.
type MetricsSink struct{}

func (MetricsSink) Notify(_ context.Context, msg Message) error {
	notifications.WithLabelValues(msg.Indexer, msg.Type).Inc()
	return nil
}

func (MetricsSink) Close() error {
	return nil
}
