package planner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// planRequestsTotal counts planning requests by outcome.
	// Labels: outcome (remote|timeout|invalid|transport|error|fallback_failed)
	planRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dmcp",
		Subsystem: "planner",
		Name:      "requests_total",
		Help:      "Total planning requests by outcome",
	}, []string{"outcome"})

	// planLatency tracks planning latency per backend.
	// Labels: backend (remote|deterministic)
	planLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dmcp",
		Subsystem: "planner",
		Name:      "latency_seconds",
		Help:      "Planning latency in seconds",
		Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"backend"})

	// planCacheTotal counts remote plan cache lookups.
	// Labels: result (hit|miss)
	planCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dmcp",
		Subsystem: "planner",
		Name:      "cache_lookups_total",
		Help:      "Remote plan cache lookups by result",
	}, []string{"result"})

	// ruleReloadsTotal counts rule file reloads.
	// Labels: result (ok|error)
	ruleReloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dmcp",
		Subsystem: "planner",
		Name:      "rule_reloads_total",
		Help:      "Deterministic rule reloads by result",
	}, []string{"result"})
)
