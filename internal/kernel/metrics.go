package kernel

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const MetricPrefix = "torquekernel_"

var executionsCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: MetricPrefix + "executions_total",
		Help: "Executions finished, by mode and final state",
	},
	[]string{"mode", "state"})

var executionDurationHistogram = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    MetricPrefix + "execution_duration_seconds",
		Help:    "Wall time of executions from request to result",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 14),
	},
	[]string{"mode"})

var statusQueriesCounter = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: MetricPrefix + "status_queries_total",
		Help: "Successful job status queries",
	})

var workspacesRemovedCounter = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: MetricPrefix + "workspaces_removed_total",
		Help: "Scratch workspaces removed, at the end of an execution or by the janitor",
	})

var inflightExecutionsGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: MetricPrefix + "inflight_executions",
		Help: "Executions currently in progress",
	})
