package executor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// stepsTotal counts executed steps.
	// Labels: tool, outcome (ok|failed|skipped)
	stepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dmcp",
		Subsystem: "executor",
		Name:      "steps_total",
		Help:      "Total chain steps by tool and outcome",
	}, []string{"tool", "outcome"})

	// stepLatency tracks tool invocation latency.
	// Labels: tool
	stepLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dmcp",
		Subsystem: "executor",
		Name:      "step_latency_seconds",
		Help:      "Tool invocation latency in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"tool"})

	// degradedResolutionsTotal counts placeholders served from the fallback table.
	degradedResolutionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dmcp",
		Subsystem: "executor",
		Name:      "degraded_resolutions_total",
		Help:      "Placeholders resolved from the static fallback table",
	})
)
