//
//  Copyright © CWMS Data Project. All rights reserved.
//

// Package metrics exposes the authorizer's Prometheus collectors. All
// series carry the authorizer_proxy_ prefix so dashboards line up across
// deployments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds all authorizer collectors, plus the standard Go runtime
// and process collectors.
var Registry = prometheus.NewRegistry()

var (
	// EngineEvaluations counts policy-engine evaluations by outcome.
	EngineEvaluations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authorizer_proxy_opa_evaluations_total",
		Help: "Total number of policy engine evaluations",
	}, []string{"resource", "action", "decision"})

	// EngineEvaluationDuration observes policy-engine evaluation latency.
	EngineEvaluationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "authorizer_proxy_opa_evaluation_duration_seconds",
		Help:    "Duration of policy engine evaluation in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"resource", "action", "decision"})

	// Decisions counts authorization decisions surfaced to callers,
	// including cached ones and fail-open bypasses.
	Decisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authorizer_proxy_authorization_decisions_total",
		Help: "Total number of authorization decisions",
	}, []string{"decision", "resource"})

	// CacheHits counts cache hits by cache type (decision, identity).
	CacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authorizer_proxy_cache_hits_total",
		Help: "Total number of cache hits",
	}, []string{"cache_type"})

	// CacheMisses counts cache misses by cache type (decision, identity).
	CacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authorizer_proxy_cache_misses_total",
		Help: "Total number of cache misses",
	}, []string{"cache_type"})

	// UpstreamCalls observes identity-service call latency by status.
	UpstreamCalls = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "authorizer_proxy_api_call_duration_seconds",
		Help:    "Duration of identity service calls in seconds",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"endpoint", "status"})

	// Bypasses counts fail-open decisions taken during engine outages.
	// A non-zero rate here is an operational alarm, not business as usual.
	Bypasses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authorizer_proxy_bypass_total",
		Help: "Total number of fail-open bypass decisions",
	})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		EngineEvaluations,
		EngineEvaluationDuration,
		Decisions,
		CacheHits,
		CacheMisses,
		UpstreamCalls,
		Bypasses,
	)
}
