package state

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsSubsystem = "state"

var (
	blocksApplied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "starktrie",
		Subsystem: metricsSubsystem,
		Name:      "blocks_applied",
		Help:      "Blocks applied to the state",
	})

	chainHead = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "starktrie",
		Subsystem: metricsSubsystem,
		Name:      "head",
		Help:      "Height of the last applied block",
	})

	retentionFloor = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "starktrie",
		Subsystem: metricsSubsystem,
		Name:      "retention_floor",
		Help:      "Lowest height whose state is still retained",
	})

	blockApplyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "starktrie",
		Subsystem: metricsSubsystem,
		Name:      "block_apply_duration_seconds",
		Help:      "Time spent applying a block update, commit included",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	proofRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "starktrie",
		Subsystem: metricsSubsystem,
		Name:      "proof_requests",
		Help:      "Proof requests by outcome",
	}, []string{"outcome"})
)
