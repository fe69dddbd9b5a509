// SPDX-License-Identifier: MIT

// Package metrics defines the prometheus instrumentation shared across the
// daemon. Vectors are package-level and registered via promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scrapecast_circuit_breaker_state",
		Help: "Circuit breaker state by plugin (the active state is 1, others 0)",
	}, []string{"plugin", "state"})

	circuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scrapecast_circuit_breaker_trips_total",
		Help: "Total circuit breaker transitions to open",
	}, []string{"plugin", "reason"})

	poolSlotsInUse = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scrapecast_pool_slots_in_use",
		Help: "Concurrency pool slots currently held",
	}, []string{"kind"})

	poolActiveRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scrapecast_pool_active_requests",
		Help: "Top-level requests currently registered with the pool",
	})

	rateLimitThrottles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scrapecast_ratelimit_events_total",
		Help: "AIMD feedback events per domain",
	}, []string{"domain", "event"})

	probeResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scrapecast_probe_results_total",
		Help: "Background probe outcomes",
	}, []string{"type", "plugin", "outcome"})

	cacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scrapecast_cache_requests_total",
		Help: "Cache lookups by cache name and outcome",
	}, []string{"cache", "outcome"})

	pluginSearchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scrapecast_plugin_search_duration_seconds",
		Help:    "Wall time of plugin search invocations",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"plugin", "outcome"})
)

var circuitStates = []string{"closed", "open", "half-open"}

// SetCircuitBreakerState records the active breaker state for a plugin.
func SetCircuitBreakerState(plugin, state string) {
	for _, s := range circuitStates {
		value := 0.0
		if s == state {
			value = 1.0
		}
		circuitBreakerState.WithLabelValues(plugin, s).Set(value)
	}
}

// RecordCircuitBreakerTrip increments the trip counter when a breaker opens.
func RecordCircuitBreakerTrip(plugin, reason string) {
	circuitBreakerTrips.WithLabelValues(plugin, reason).Inc()
}

// SetPoolSlotsInUse records held slots for the "fast" or "headless" pool.
func SetPoolSlotsInUse(kind string, n int) {
	poolSlotsInUse.WithLabelValues(kind).Set(float64(n))
}

// SetActiveRequests records the live top-level request count.
func SetActiveRequests(n int) {
	poolActiveRequests.Set(float64(n))
}

// RecordRateLimitEvent counts an AIMD feedback event ("success", "throttle",
// "timeout", "wait_timeout") for a domain.
func RecordRateLimitEvent(domain, event string) {
	rateLimitThrottles.WithLabelValues(domain, event).Inc()
}

// RecordProbeResult counts a health or search probe outcome.
func RecordProbeResult(probeType, plugin, outcome string) {
	probeResults.WithLabelValues(probeType, plugin, outcome).Inc()
}

// RecordCacheHit counts a cache hit for the named cache.
func RecordCacheHit(cache string) { cacheRequests.WithLabelValues(cache, "hit").Inc() }

// RecordCacheMiss counts a cache miss for the named cache.
func RecordCacheMiss(cache string) { cacheRequests.WithLabelValues(cache, "miss").Inc() }

// ObservePluginSearch records the duration of one plugin search invocation.
func ObservePluginSearch(plugin, outcome string, seconds float64) {
	pluginSearchDuration.WithLabelValues(plugin, outcome).Observe(seconds)
}
