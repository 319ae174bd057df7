package multiverse

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// cacheLookups counts universe cache lookups by result (hit, miss).
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "multiverse_cache_lookups_total",
		Help: "Universe cache lookups by result",
	}, []string{"result"})

	// cacheInvalidations counts cached universes deleted by invalidation.
	cacheInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "multiverse_cache_invalidations_total",
		Help: "Cached universes deleted because an ancestor changed",
	})

	// resolveDuration tracks end-to-end resolution latency.
	resolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "multiverse_resolve_duration_seconds",
		Help:    "Universe resolution duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
	})

	// nodeCount tracks the number of nodes in the loaded graph.
	nodeCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "multiverse_nodes",
		Help: "Number of nodes in the multiverse graph",
	})
)
