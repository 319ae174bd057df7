package manager

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// commandsTotal counts executed commands by kind and outcome.
	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "multiverse_commands_total",
		Help: "Commands executed by the multiverse owner, by kind and outcome",
	}, []string{"command", "outcome"})

	// commandDuration tracks execution time on the owner goroutine.
	commandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "multiverse_command_duration_seconds",
		Help:    "Command execution duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
	}, []string{"command"})

	// commandWait tracks time spent queued before execution.
	commandWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "multiverse_command_wait_seconds",
		Help:    "Time commands spend queued before execution",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
	})

	// queueDepth tracks the number of queued commands.
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "multiverse_queue_depth",
		Help: "Commands waiting for the multiverse owner",
	})
)
