package cache

import (
	"go.uber.org/zap"

	"github.com/zapidan/newsletter-hub-sub004/internal/domain"
	"github.com/zapidan/newsletter-hub-sub004/internal/querykey"
)

// NewsletterUpdate pairs a record id with the patch to apply to it.
type NewsletterUpdate struct {
	ID    domain.NewsletterID
	Patch domain.NewsletterPatch
}

// UpdateNewsletter applies patch to the newsletter everywhere it is
// resident: list pages, its detail entry, and queue items that embed it.
// Unrelated fields stay untouched, UpdatedAt is stamped, and applying the
// same patch twice lands on the same state. Absent records are a no-op.
func (m *Manager) UpdateNewsletter(id domain.NewsletterID, patch domain.NewsletterPatch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyNewsletterPatch(id, patch)
}

// BatchUpdate applies every update under one lock acquisition, so readers
// observe either none of the batch or all of it.
func (m *Manager) BatchUpdate(updates []NewsletterUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range updates {
		m.applyNewsletterPatch(u.ID, u.Patch)
	}
}

// applyNewsletterPatch is called with mu held.
func (m *Manager) applyNewsletterPatch(id domain.NewsletterID, patch domain.NewsletterPatch) {
	if patch.IsZero() {
		return
	}
	now := m.now()
	touched := 0
	m.forEachNewsletterLocked(func(n *domain.Newsletter) {
		if n.ID == id {
			n.Apply(patch, now)
			touched++
		}
	})
	if touched > 0 {
		m.logger.Debug("newsletter patched in cache",
			zap.String("id", string(id)),
			zap.Int("entries", touched),
		)
	}
}

// RemoveNewsletter deletes one newsletter from every resident view.
func (m *Manager) RemoveNewsletter(id domain.NewsletterID) {
	m.RemoveNewsletters([]domain.NewsletterID{id})
}

// RemoveNewsletters deletes the given newsletters from every resident
// list page, drops their detail entries, and removes queue items that
// reference them. Page totals shrink by the number of items removed from
// that page.
func (m *Manager) RemoveNewsletters(ids []domain.NewsletterID) {
	if len(ids) == 0 {
		return
	}
	drop := make(map[domain.NewsletterID]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for canonical, e := range m.entries {
		switch val := e.value.(type) {
		case *domain.NewsletterPage:
			kept := val.Items[:0]
			for _, n := range val.Items {
				if _, gone := drop[n.ID]; !gone {
					kept = append(kept, n)
				}
			}
			val.Total -= len(val.Items) - len(kept)
			if val.Total < 0 {
				val.Total = 0
			}
			val.Items = kept
		case *domain.Newsletter:
			if _, gone := drop[val.ID]; gone {
				delete(m.entries, canonical)
			}
		case []*domain.QueueItem:
			kept := val[:0]
			for _, q := range val {
				if _, gone := drop[q.NewsletterID]; !gone {
					kept = append(kept, q)
				}
			}
			e.value = kept
		}
	}
	m.updateEntryGauge()
}

// forEachNewsletterLocked visits every resident newsletter record,
// wherever it lives. Called with mu held.
func (m *Manager) forEachNewsletterLocked(fn func(*domain.Newsletter)) {
	for _, e := range m.entries {
		switch val := e.value.(type) {
		case *domain.NewsletterPage:
			for _, n := range val.Items {
				fn(n)
			}
		case *domain.Newsletter:
			fn(val)
		case []*domain.QueueItem:
			for _, q := range val {
				if q.Newsletter != nil {
					fn(q.Newsletter)
				}
			}
		}
	}
}

// Newsletter returns a copy of the newsletter if it is resident anywhere,
// detail entries first. Mutations use it to read pre-state for deltas.
func (m *Manager) Newsletter(id domain.NewsletterID) (*domain.Newsletter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if e, ok := m.entries[querykey.NewsletterDetail(id).String()]; ok {
		if n, ok := e.value.(*domain.Newsletter); ok {
			return n.Clone(), true
		}
	}
	var found *domain.Newsletter
	m.forEachNewsletterLocked(func(n *domain.Newsletter) {
		if found == nil && n.ID == id {
			found = n.Clone()
		}
	})
	return found, found != nil
}

// UpdateTag applies patch to the tag in the tag list and everywhere it is
// embedded on a newsletter.
func (m *Manager) UpdateTag(id domain.TagID, patch domain.TagPatch) {
	if patch.IsZero() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for _, e := range m.entries {
		if tags, ok := e.value.([]*domain.Tag); ok {
			for _, t := range tags {
				if t.ID == id {
					t.Apply(patch, now)
				}
			}
		}
	}
	m.forEachNewsletterLocked(func(n *domain.Newsletter) {
		for i := range n.Tags {
			if n.Tags[i].ID == id {
				n.Tags[i].Apply(patch, now)
			}
		}
	})
}

// RemoveTag deletes the tag from the tag list and strips it off every
// resident newsletter.
func (m *Manager) RemoveTag(id domain.TagID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.entries {
		if tags, ok := e.value.([]*domain.Tag); ok {
			kept := tags[:0]
			for _, t := range tags {
				if t.ID != id {
					kept = append(kept, t)
				}
			}
			e.value = kept
		}
	}
	m.forEachNewsletterLocked(func(n *domain.Newsletter) {
		kept := n.Tags[:0]
		for _, t := range n.Tags {
			if t.ID != id {
				kept = append(kept, t)
			}
		}
		n.Tags = kept
	})
}

// UpdateSource applies patch to the source in source lists, its detail
// entry, expanded group members, and the Source embedded on newsletters.
func (m *Manager) UpdateSource(id domain.SourceID, patch domain.SourcePatch) {
	if patch.IsZero() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	apply := func(s *domain.Source) {
		if s != nil && s.ID == id {
			s.Apply(patch, now)
		}
	}
	for _, e := range m.entries {
		switch val := e.value.(type) {
		case []*domain.Source:
			for _, s := range val {
				apply(s)
			}
		case *domain.Source:
			apply(val)
		case []*domain.SourceGroup:
			for _, g := range val {
				for _, s := range g.Sources {
					apply(s)
				}
			}
		case *domain.SourceGroup:
			for _, s := range val.Sources {
				apply(s)
			}
		}
	}
	m.forEachNewsletterLocked(func(n *domain.Newsletter) {
		apply(n.Source)
	})
}

// UpdateGroup applies patch to the group in group lists and its detail
// entry.
func (m *Manager) UpdateGroup(id domain.GroupID, patch domain.GroupPatch) {
	if patch.IsZero() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for _, e := range m.entries {
		switch val := e.value.(type) {
		case []*domain.SourceGroup:
			for _, g := range val {
				if g.ID == id {
					g.Apply(patch, now)
				}
			}
		case *domain.SourceGroup:
			if val.ID == id {
				val.Apply(patch, now)
			}
		}
	}
}

// RemoveGroup deletes the group from group lists and drops its detail
// entry.
func (m *Manager) RemoveGroup(id domain.GroupID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for canonical, e := range m.entries {
		switch val := e.value.(type) {
		case []*domain.SourceGroup:
			kept := val[:0]
			for _, g := range val {
				if g.ID != id {
					kept = append(kept, g)
				}
			}
			e.value = kept
		case *domain.SourceGroup:
			if val.ID == id {
				delete(m.entries, canonical)
			}
		}
	}
	m.updateEntryGauge()
}

// UnreadCounts returns a copy of the unread aggregate if resident.
func (m *Manager) UnreadCounts() (*domain.UnreadCounts, bool) {
	v, ok, _ := m.Get(querykey.UnreadCounts())
	if !ok {
		return nil, false
	}
	counts, ok := v.(*domain.UnreadCounts)
	return counts, ok
}

// SetUnreadCounts stores the unread aggregate.
func (m *Manager) SetUnreadCounts(counts *domain.UnreadCounts) {
	m.Set(querykey.UnreadCounts(), counts)
}

// AdjustUnread applies an optimistic delta to the resident unread
// aggregate. No-op when the aggregate has not been fetched yet; the next
// fetch is authoritative anyway.
func (m *Manager) AdjustUnread(delta domain.UnreadDelta) {
	if delta.IsZero() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[querykey.UnreadCounts().String()]
	if !ok {
		return
	}
	counts, ok := e.value.(*domain.UnreadCounts)
	if !ok {
		return
	}
	counts.ApplyDelta(delta)
}
