package starknetrpc

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rpcRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starkindexor_rpc_requests_total",
			Help: "Total number of RPC requests by method",
		},
		[]string{"method"},
	)

	rpcErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starkindexor_rpc_errors_total",
			Help: "Total number of RPC errors by method and type",
		},
		[]string{"method", "error_type"},
	)

	rpcRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "starkindexor_rpc_retries_total",
			Help: "Total number of retried RPC requests by method",
		},
		[]string{"method"},
	)

	rpcDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "starkindexor_rpc_request_duration_seconds",
			Help:    "Duration of RPC requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	headBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "starkindexor_rpc_head_block",
			Help: "Latest block number reported by the node",
		},
	)
)

func rpcMethodInc(method string) {
	rpcRequests.WithLabelValues(method).Inc()
}

func rpcMethodDuration(method string, duration time.Duration) {
	rpcDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func rpcMethodError(method, errorType string) {
	rpcErrors.WithLabelValues(method, errorType).Inc()
}

func rpcRetryInc(method string) {
	rpcRetries.WithLabelValues(method).Inc()
}
