package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LatencyBucket = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "txpipeline_latency_bucket",
		Help:    "Request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	NoncesAcquired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "txpipeline_nonces_acquired_total",
		Help: "Total nonces handed out by the nonce manager",
	}, []string{"address"})

	NoncesReleased = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "txpipeline_nonces_released_total",
		Help: "Total nonces returned to the pool",
	}, []string{"address", "reason"})

	LockWatchdogExpiries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "txpipeline_lock_watchdog_expiries_total",
		Help: "Total store locks auto-released by the watchdog timer",
	}, []string{"backend"})

	SendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "txpipeline_sends_total",
		Help: "Total send/sendChain/sendTransfer outcomes",
	}, []string{"kind", "outcome"})

	ChainFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "txpipeline_chain_failures_total",
		Help: "Total sendChain failures by classified error kind",
	}, []string{"kind"})
)
