// Package cache holds the in-memory query cache of the sync engine. The
// manager owns every resident collection, record, and aggregate; all
// mutation goes through its primitives, which is what keeps snapshots and
// rollback sound. Operations are synchronous, mutex-guarded, and never
// fail for "record not found".
package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zapidan/newsletter-hub-sub004/internal/invalidation"
	"github.com/zapidan/newsletter-hub-sub004/internal/querykey"
	"github.com/zapidan/newsletter-hub-sub004/pkg/observability"
)

// Fetcher loads fresh data for a key and stores it back via Set. The
// engine facade registers one per namespace; the manager calls them on
// background refetches. A fetcher must honor ctx cancellation.
type Fetcher func(ctx context.Context, key querykey.Key) error

// Options configures a Manager.
type Options struct {
	// StaleTime is how long a fetched entry serves before a read reports
	// it stale. Zero means entries stay fresh until invalidated.
	StaleTime time.Duration
	// DebounceWindow is the aggregate invalidation window.
	DebounceWindow time.Duration
}

// Manager is the cache. One instance per process in production, a fresh
// one per test.
type Manager struct {
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time

	staleTime time.Duration
	logger    *zap.Logger
	metrics   *observability.Collector

	fetchMu  sync.Mutex
	fetchers []registeredFetcher
	inflight map[string]*refetch
	fetchSeq uint64
	baseCtx  context.Context
	cancel   context.CancelFunc

	debouncer *invalidation.Debouncer
}

type entry struct {
	key       querykey.Key
	value     any
	fetchedAt time.Time
	stale     bool
}

type registeredFetcher struct {
	prefix querykey.Key
	fetch  Fetcher
}

// refetch is one in-flight background fetch. gen distinguishes it from
// any successor registered under the same key after a cancellation.
type refetch struct {
	cancel context.CancelFunc
	gen    uint64
}

// NewManager creates a cache manager. metrics may be nil in tests.
func NewManager(opts Options, metrics *observability.Collector, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		entries:   make(map[string]*entry),
		now:       time.Now,
		staleTime: opts.StaleTime,
		logger:    logger.Named("cache"),
		metrics:   metrics,
		inflight:  make(map[string]*refetch),
		baseCtx:   ctx,
		cancel:    cancel,
	}
	m.debouncer = invalidation.NewDebouncer(opts.DebounceWindow, m.fireAggregate, logger)
	return m
}

// SetClock overrides the time source. Tests use it to pin UpdatedAt
// stamps.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Set stores value under key, replacing any previous entry and clearing
// its staleness. The manager keeps its own copy; the caller's value stays
// untouched afterwards.
func (m *Manager) Set(key querykey.Key, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key.String()] = &entry{
		key:       key,
		value:     cloneValue(value),
		fetchedAt: m.now(),
	}
	m.updateEntryGauge()
}

// Get returns a copy of the cached value for key. The second result is
// false on a miss, the third reports staleness (explicit invalidation or
// age past StaleTime).
func (m *Manager) Get(key querykey.Key) (any, bool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key.String()]
	if !ok {
		if m.metrics != nil {
			m.metrics.CacheMisses.Inc()
		}
		return nil, false, false
	}
	if m.metrics != nil {
		m.metrics.CacheHits.Inc()
	}
	stale := e.stale
	if !stale && m.staleTime > 0 && m.now().Sub(e.fetchedAt) > m.staleTime {
		stale = true
	}
	return cloneValue(e.value), true, stale
}

// Remove drops the entry for key if resident.
func (m *Manager) Remove(key querykey.Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key.String())
	m.updateEntryGauge()
}

// Keys returns the resident keys, for the debug surface.
func (m *Manager) Keys() []querykey.Key {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]querykey.Key, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.key)
	}
	return out
}

// Len returns the number of resident entries.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close cancels all in-flight refetches and pending debounce timers. The
// manager stays readable afterwards but schedules nothing new.
func (m *Manager) Close() {
	m.cancel()
	m.debouncer.Close()
}

// updateEntryGauge is called with mu held.
func (m *Manager) updateEntryGauge() {
	if m.metrics != nil {
		m.metrics.CacheEntries.Set(float64(len(m.entries)))
	}
}

// Snapshot captures a deep copy of every resident entry matching pred,
// together with the predicate itself. Restore puts the captured state
// back verbatim: captured entries reappear exactly as they were, and
// matching entries created after the snapshot are dropped.
type Snapshot struct {
	pred    querykey.Predicate
	entries map[string]snapEntry
	takenAt time.Time
}

type snapEntry struct {
	key       querykey.Key
	value     any
	fetchedAt time.Time
	stale     bool
}

// Snapshot captures the pre-mutation state of every entry matching pred.
func (m *Manager) Snapshot(pred querykey.Predicate) *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := &Snapshot{
		pred:    pred,
		entries: make(map[string]snapEntry),
		takenAt: m.now(),
	}
	for canonical, e := range m.entries {
		if !pred(e.key) {
			continue
		}
		snap.entries[canonical] = snapEntry{
			key:       e.key,
			value:     cloneValue(e.value),
			fetchedAt: e.fetchedAt,
			stale:     e.stale,
		}
	}
	return snap
}

// Restore rewinds every entry in the snapshot's scope to its captured
// state. Rollback of a failed optimistic mutation is exactly this call.
func (m *Manager) Restore(snap *Snapshot) {
	if snap == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for canonical, e := range m.entries {
		if snap.pred(e.key) {
			if _, captured := snap.entries[canonical]; !captured {
				delete(m.entries, canonical)
			}
		}
	}
	for canonical, se := range snap.entries {
		m.entries[canonical] = &entry{
			key:       se.key,
			value:     cloneValue(se.value),
			fetchedAt: se.fetchedAt,
			stale:     se.stale,
		}
	}
	m.updateEntryGauge()
	if m.metrics != nil {
		m.metrics.Invalidations.WithLabelValues("rollback").Inc()
	}
}
