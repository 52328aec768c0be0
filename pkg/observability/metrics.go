package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalCollector *Collector
	collectorMutex  sync.Mutex
)

// Collector holds the Prometheus metrics of the sync engine.
type Collector struct {
	registry *prometheus.Registry

	// Mutation lifecycle
	MutationsStarted    *prometheus.CounterVec
	MutationsCommitted  *prometheus.CounterVec
	MutationsRolledBack *prometheus.CounterVec
	MutationDuration    *prometheus.HistogramVec

	// Retry engine
	RetryAttempts  *prometheus.CounterVec
	RetryExhausted *prometheus.CounterVec

	// Remote calls
	RemoteRequests *prometheus.CounterVec
	RemoteDuration *prometheus.HistogramVec

	// Cache
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheEntries   prometheus.Gauge
	Invalidations  *prometheus.CounterVec
	RefetchesFired prometheus.Counter

	// Realtime change feed
	RealtimeEvents *prometheus.CounterVec
}

// NewCollector creates the metrics collector for the given namespace. A
// process holds a single collector; repeated calls return the first one so
// tests never trip duplicate registration.
func NewCollector(namespace string) *Collector {
	collectorMutex.Lock()
	defer collectorMutex.Unlock()

	if globalCollector != nil {
		return globalCollector
	}

	registry := prometheus.NewRegistry()

	mutationsStarted := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_started_total",
			Help:      "Optimistic mutations started, by entity and operation",
		},
		[]string{"entity", "operation"},
	)

	mutationsCommitted := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_committed_total",
			Help:      "Mutations whose remote call succeeded",
		},
		[]string{"entity", "operation"},
	)

	mutationsRolledBack := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_rolled_back_total",
			Help:      "Mutations reverted to their snapshot after a remote failure",
		},
		[]string{"entity", "operation"},
	)

	mutationDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mutation_duration_seconds",
			Help:      "Wall time from optimistic apply to settle",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"entity", "operation"},
	)

	retryAttempts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Individual remote attempts, by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	retryExhausted := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_exhausted_total",
			Help:      "Operations that failed after their final attempt",
		},
		[]string{"operation"},
	)

	remoteRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_requests_total",
			Help:      "Requests sent to the backend, by operation and status",
		},
		[]string{"operation", "status"},
	)

	remoteDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_request_duration_seconds",
			Help:      "Backend request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	cacheHits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Reads answered from the cache",
		},
	)

	cacheMisses := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Reads that had to go to the backend",
		},
	)

	cacheEntries := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Entries currently resident in the cache",
		},
	)

	invalidations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalidations_total",
			Help:      "Cache invalidations, by trigger",
		},
		[]string{"trigger"},
	)

	refetchesFired := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refetches_fired_total",
			Help:      "Background refetches started after invalidation",
		},
	)

	realtimeEvents := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_events_total",
			Help:      "Change feed events received, by entity",
		},
		[]string{"entity"},
	)

	registry.MustRegister(
		mutationsStarted,
		mutationsCommitted,
		mutationsRolledBack,
		mutationDuration,
		retryAttempts,
		retryExhausted,
		remoteRequests,
		remoteDuration,
		cacheHits,
		cacheMisses,
		cacheEntries,
		invalidations,
		refetchesFired,
		realtimeEvents,
	)

	globalCollector = &Collector{
		registry:            registry,
		MutationsStarted:    mutationsStarted,
		MutationsCommitted:  mutationsCommitted,
		MutationsRolledBack: mutationsRolledBack,
		MutationDuration:    mutationDuration,
		RetryAttempts:       retryAttempts,
		RetryExhausted:      retryExhausted,
		RemoteRequests:      remoteRequests,
		RemoteDuration:      remoteDuration,
		CacheHits:           cacheHits,
		CacheMisses:         cacheMisses,
		CacheEntries:        cacheEntries,
		Invalidations:       invalidations,
		RefetchesFired:      refetchesFired,
		RealtimeEvents:      realtimeEvents,
	}

	return globalCollector
}

// ResetForTesting drops the process-wide collector so the next NewCollector
// builds a fresh registry.
func ResetForTesting() {
	collectorMutex.Lock()
	defer collectorMutex.Unlock()
	globalCollector = nil
}

// ObserveMutation records one finished mutation lifecycle.
func (c *Collector) ObserveMutation(entity, operation string, committed bool, elapsed time.Duration) {
	if committed {
		c.MutationsCommitted.WithLabelValues(entity, operation).Inc()
	} else {
		c.MutationsRolledBack.WithLabelValues(entity, operation).Inc()
	}
	c.MutationDuration.WithLabelValues(entity, operation).Observe(elapsed.Seconds())
}

// ObserveRemote records one backend round trip.
func (c *Collector) ObserveRemote(operation string, status int, elapsed time.Duration) {
	c.RemoteRequests.WithLabelValues(operation, strconv.Itoa(status)).Inc()
	c.RemoteDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// GetRegistry returns the Prometheus registry backing this collector.
func (c *Collector) GetRegistry() *prometheus.Registry {
	return c.registry
}
