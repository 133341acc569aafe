package orchestration

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// requestsTotal counts handled requests.
	// Labels: outcome (ok|degraded|clarification|failed)
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dmcp",
		Subsystem: "engine",
		Name:      "requests_total",
		Help:      "Total handled requests by outcome",
	}, []string{"outcome"})

	requestLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "dmcp",
		Subsystem: "engine",
		Name:      "request_latency_seconds",
		Help:      "End-to-end request latency in seconds",
		Buckets:   prometheus.DefBuckets,
	})
)
