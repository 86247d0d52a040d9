package trie

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsSubsystem = "trie"

var (
	nodeReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "starktrie",
		Subsystem: metricsSubsystem,
		Name:      "node_reads",
		Help:      "Node store reads by source",
	}, []string{"source"})

	nodePuts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "starktrie",
		Subsystem: metricsSubsystem,
		Name:      "node_puts",
		Help:      "Node store puts by outcome",
	}, []string{"outcome"})

	nodesPruned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "starktrie",
		Subsystem: metricsSubsystem,
		Name:      "nodes_pruned",
		Help:      "Nodes deleted by pruning",
	})

	applyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "starktrie",
		Subsystem: metricsSubsystem,
		Name:      "apply_duration_seconds",
		Help:      "Time spent applying a mutation batch",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
	})

	proofsGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "starktrie",
		Subsystem: metricsSubsystem,
		Name:      "proofs_generated",
		Help:      "Single-key proofs generated",
	})
)
