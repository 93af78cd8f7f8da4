// Package metrics provides Prometheus metrics for the upstream-fetch pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the namespace for all castflow metrics.
	Namespace = "castflow"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Upstream dispatch metrics
	UpstreamRequestsTotal  *prometheus.CounterVec
	UpstreamRetriesTotal   *prometheus.CounterVec
	DispatchLatencySeconds *prometheus.HistogramVec

	// Circuit breaker metrics
	CircuitState *prometheus.GaugeVec
	CircuitTrips *prometheus.CounterVec

	// Cache metrics
	CacheHits      *prometheus.CounterVec
	CacheMisses    prometheus.Counter
	CacheEvictions prometheus.Counter

	// Batcher metrics
	BatchesExecuted   prometheus.Counter
	CoalescedRequests prometheus.Counter

	// Streaming metrics
	StreamsStarted prometheus.Counter
	StreamsAborted prometheus.Counter
}

// New creates and registers all service metrics on reg. A nil registerer
// falls back to the default one.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &Metrics{
		UpstreamRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "upstream",
				Name:      "requests_total",
				Help:      "Total upstream hub requests by endpoint and outcome",
			},
			[]string{"endpoint", "outcome"},
		),
		UpstreamRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "upstream",
				Name:      "retries_total",
				Help:      "Total retry attempts by endpoint",
			},
			[]string{"endpoint"},
		),
		DispatchLatencySeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "upstream",
				Name:      "dispatch_latency_seconds",
				Help:      "Latency of completed upstream dispatches",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		CircuitState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "circuit",
				Name:      "state",
				Help:      "Circuit state per endpoint (0=closed, 1=open, 2=half-open)",
			},
			[]string{"endpoint"},
		),
		CircuitTrips: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "circuit",
				Name:      "trips_total",
				Help:      "Total circuit open transitions per endpoint",
			},
			[]string{"endpoint"},
		),
		CacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "cache",
				Name:      "hits_total",
				Help:      "Cache hits by freshness (fresh or stale)",
			},
			[]string{"freshness"},
		),
		CacheMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "cache",
				Name:      "misses_total",
				Help:      "Cache misses",
			},
		),
		CacheEvictions: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "cache",
				Name:      "evictions_total",
				Help:      "Entries evicted to satisfy cache ceilings or expiry",
			},
		),
		BatchesExecuted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "batch",
				Name:      "batches_total",
				Help:      "Batches flushed by the request coalescer",
			},
		),
		CoalescedRequests: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "batch",
				Name:      "coalesced_total",
				Help:      "Requests that attached to an already in-flight call",
			},
		),
		StreamsStarted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "stream",
				Name:      "started_total",
				Help:      "Streaming exports started",
			},
		),
		StreamsAborted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "stream",
				Name:      "aborted_total",
				Help:      "Streaming exports aborted by client disconnect",
			},
		),
	}
}

// NewNop returns metrics registered on a throwaway registry, for tests.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
