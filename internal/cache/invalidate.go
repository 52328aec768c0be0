package cache

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/zapidan/newsletter-hub-sub004/internal/domain"
	"github.com/zapidan/newsletter-hub-sub004/internal/querykey"
)

// Entity names the record family a change belongs to, for invalidation
// scoping.
type Entity string

const (
	EntityNewsletter Entity = "newsletter"
	EntityTag        Entity = "tag"
	EntitySource     Entity = "source"
	EntityGroup      Entity = "group"
	EntityQueue      Entity = "queue"
)

// RegisterFetcher installs the loader for every key under prefix. On a
// refetch the manager picks the longest matching prefix. Fetchers are
// registered once at assembly time, before any invalidation runs.
func (m *Manager) RegisterFetcher(prefix querykey.Key, fetch Fetcher) {
	m.fetchMu.Lock()
	defer m.fetchMu.Unlock()
	m.fetchers = append(m.fetchers, registeredFetcher{prefix: prefix, fetch: fetch})
}

// InvalidateRelated marks every list and aggregate view touched by a
// change to the given records as stale and schedules their refetch. List
// views refetch immediately; aggregate views go through the debouncer so
// a burst of mutations produces one refetch. Safe to call redundantly.
func (m *Manager) InvalidateRelated(entity Entity, ids []string, reason string) {
	lists, aggregates := m.affectedKeys(entity, ids)

	if m.metrics != nil {
		m.metrics.Invalidations.WithLabelValues(reason).Inc()
	}
	m.logger.Debug("invalidating related queries",
		zap.String("entity", string(entity)),
		zap.Int("ids", len(ids)),
		zap.String("reason", reason),
	)

	m.MarkStale(querykey.AnyOf(lists...), reason)
	for _, key := range aggregates {
		m.debouncer.RequestInvalidate(key)
	}
}

// affectedKeys maps a record change onto the list predicates to refetch
// now and the aggregate keys to refetch after the debounce window.
func (m *Manager) affectedKeys(entity Entity, ids []string) ([]querykey.Predicate, []querykey.Key) {
	var lists []querykey.Predicate
	var aggregates []querykey.Key

	prefix := func(k querykey.Key) { lists = append(lists, querykey.PrefixPredicate(k)) }

	switch entity {
	case EntityNewsletter:
		prefix(querykey.NewsletterLists())
		for _, id := range ids {
			prefix(querykey.NewsletterDetail(domain.NewsletterID(id)))
		}
		prefix(querykey.Queue())
		// Read-state changes move unread badges and per-source counts.
		aggregates = append(aggregates, querykey.UnreadCounts(), querykey.SourceList())
	case EntityTag:
		prefix(querykey.Tags())
		// Tag edits show up on the newsletters that carry the tag.
		prefix(querykey.Newsletters())
	case EntitySource:
		prefix(querykey.Sources())
		aggregates = append(aggregates, querykey.UnreadCounts())
	case EntityGroup:
		prefix(querykey.Groups())
	case EntityQueue:
		prefix(querykey.Queue())
	}
	return lists, aggregates
}

// MarkStale flags every resident entry matching pred and schedules its
// refetch. Entries already stale with a refetch in flight coalesce.
func (m *Manager) MarkStale(pred querykey.Predicate, reason string) {
	m.mu.Lock()
	var toRefetch []querykey.Key
	for _, e := range m.entries {
		if pred(e.key) {
			e.stale = true
			toRefetch = append(toRefetch, e.key)
		}
	}
	m.mu.Unlock()

	for _, key := range toRefetch {
		m.scheduleRefetch(key)
	}
}

// CancelRefetches aborts every in-flight refetch whose key matches pred.
// A starting mutation calls this so a stale response cannot land on top
// of the optimistic write.
func (m *Manager) CancelRefetches(pred querykey.Predicate) {
	m.fetchMu.Lock()
	defer m.fetchMu.Unlock()
	for canonical, rf := range m.inflight {
		if pred(querykey.Parse(canonical)) {
			rf.cancel()
			delete(m.inflight, canonical)
		}
	}
}

// fireAggregate is the debouncer callback: refetch the aggregate and
// clear its staleness on success.
func (m *Manager) fireAggregate(key querykey.Key) {
	m.mu.Lock()
	if e, ok := m.entries[key.String()]; ok {
		e.stale = true
	}
	m.mu.Unlock()
	m.scheduleRefetch(key)
}

// scheduleRefetch starts a background fetch for key unless one is
// already in flight. Fetch failures only log: a stale entry keeps
// serving until a later refetch succeeds.
func (m *Manager) scheduleRefetch(key querykey.Key) {
	fetch := m.fetcherFor(key)
	if fetch == nil {
		return
	}

	canonical := key.String()
	m.fetchMu.Lock()
	if _, running := m.inflight[canonical]; running {
		m.fetchMu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(m.baseCtx)
	m.fetchSeq++
	gen := m.fetchSeq
	m.inflight[canonical] = &refetch{cancel: cancel, gen: gen}
	m.fetchMu.Unlock()

	if m.metrics != nil {
		m.metrics.RefetchesFired.Inc()
	}

	go func() {
		defer func() {
			cancel()
			m.fetchMu.Lock()
			// Only unregister our own entry. A cancelled fetch may
			// finish after a successor registered under the same key.
			if rf, ok := m.inflight[canonical]; ok && rf.gen == gen {
				delete(m.inflight, canonical)
			}
			m.fetchMu.Unlock()
		}()

		if err := fetch(ctx, key); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			m.logger.Warn("background refetch failed",
				zap.String("key", canonical),
				zap.Error(err),
			)
			return
		}

		m.mu.Lock()
		if e, ok := m.entries[canonical]; ok {
			e.stale = false
		}
		m.mu.Unlock()
	}()
}

func (m *Manager) fetcherFor(key querykey.Key) Fetcher {
	m.fetchMu.Lock()
	defer m.fetchMu.Unlock()

	var best Fetcher
	bestLen := -1
	for _, rf := range m.fetchers {
		if key.HasPrefix(rf.prefix) && rf.prefix.Len() > bestLen {
			best = rf.fetch
			bestLen = rf.prefix.Len()
		}
	}
	return best
}

// Stats is a point-in-time view of the cache, for the debug endpoint.
type Stats struct {
	Entries       int      `json:"entries"`
	Stale         int      `json:"stale"`
	InFlight      int      `json:"in_flight_refetches"`
	PendingBursts int      `json:"pending_debounces"`
	Keys          []string `json:"keys"`
}

// Stats reports the current cache contents.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	s := Stats{Entries: len(m.entries)}
	for canonical, e := range m.entries {
		if e.stale {
			s.Stale++
		}
		s.Keys = append(s.Keys, canonical)
	}
	m.mu.RUnlock()

	m.fetchMu.Lock()
	s.InFlight = len(m.inflight)
	m.fetchMu.Unlock()

	s.PendingBursts = m.debouncer.Pending()
	return s
}
