package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/zapidan/newsletter-hub-sub004/internal/cache"
	"github.com/zapidan/newsletter-hub-sub004/internal/domain"
	"github.com/zapidan/newsletter-hub-sub004/internal/mutation"
	"github.com/zapidan/newsletter-hub-sub004/internal/querykey"
)

// tagScope covers the tag list and the tags embedded on cached
// newsletters.
func tagScope() querykey.Predicate {
	return querykey.AnyOf(
		querykey.PrefixPredicate(querykey.Tags()),
		querykey.PrefixPredicate(querykey.Newsletters()),
	)
}

// sourceScope covers source lists and details, the Source embedded on
// newsletters, and expanded group members.
func sourceScope() querykey.Predicate {
	return querykey.AnyOf(
		querykey.PrefixPredicate(querykey.Sources()),
		querykey.PrefixPredicate(querykey.Newsletters()),
		querykey.PrefixPredicate(querykey.Groups()),
	)
}

func groupScope() querykey.Predicate {
	return querykey.PrefixPredicate(querykey.Groups())
}

func queueScope() querykey.Predicate {
	return querykey.PrefixPredicate(querykey.Queue())
}

// CreateTag adds a tag. The optimistic row carries a placeholder id; the
// settle-time refetch swaps in the server's row.
func (e *Engine) CreateTag(ctx context.Context, input domain.CreateTagInput) error {
	placeholderID := domain.TagID(uuid.NewString())
	return e.run(ctx, mutation.Mutation{
		Entity:      cache.EntityTag,
		Operation:   "tags.create",
		AffectedIDs: []string{string(placeholderID)},
		Scope:       tagScope(),
		Input:       input,
		Apply: func(c *cache.Manager) domain.UnreadDelta {
			if v, ok, _ := c.Get(querykey.TagList()); ok {
				now := time.Now()
				tags := append(v.([]*domain.Tag), &domain.Tag{
					ID:        placeholderID,
					Name:      input.Name,
					Color:     input.Color,
					CreatedAt: now,
					UpdatedAt: now,
				})
				c.Set(querykey.TagList(), tags)
			}
			return domain.UnreadDelta{}
		},
		Execute: func(ctx context.Context) error {
			_, err := e.remote.Tags.Create(ctx, input)
			return err
		},
	})
}

// UpdateTag renames or recolors a tag everywhere it appears.
func (e *Engine) UpdateTag(ctx context.Context, id domain.TagID, patch domain.TagPatch) error {
	return e.run(ctx, mutation.Mutation{
		Entity:      cache.EntityTag,
		Operation:   "tags.update",
		AffectedIDs: []string{string(id)},
		Scope:       tagScope(),
		Input:       patch,
		Apply: func(c *cache.Manager) domain.UnreadDelta {
			c.UpdateTag(id, patch)
			return domain.UnreadDelta{}
		},
		Execute: func(ctx context.Context) error {
			return e.remote.Tags.Update(ctx, id, patch)
		},
	})
}

// DeleteTag removes a tag and strips it from every cached newsletter.
func (e *Engine) DeleteTag(ctx context.Context, id domain.TagID) error {
	return e.run(ctx, mutation.Mutation{
		Entity:      cache.EntityTag,
		Operation:   "tags.delete",
		AffectedIDs: []string{string(id)},
		Scope:       tagScope(),
		Apply: func(c *cache.Manager) domain.UnreadDelta {
			c.RemoveTag(id)
			return domain.UnreadDelta{}
		},
		Execute: func(ctx context.Context) error {
			return e.remote.Tags.Delete(ctx, id)
		},
	})
}

// residentTag looks the tag up in the cached tag list so an assignment
// can embed its name and color. Falls back to a bare id when the list is
// not resident; the settle refetch fills in the rest.
func residentTag(c *cache.Manager, id domain.TagID) domain.Tag {
	if v, ok, _ := c.Get(querykey.TagList()); ok {
		for _, t := range v.([]*domain.Tag) {
			if t.ID == id {
				return *t.Clone()
			}
		}
	}
	return domain.Tag{ID: id}
}

// adjustTagCount shifts a tag's newsletter count in the cached tag list.
func adjustTagCount(c *cache.Manager, id domain.TagID, delta int) {
	v, ok, _ := c.Get(querykey.TagList())
	if !ok {
		return
	}
	tags := v.([]*domain.Tag)
	for _, t := range tags {
		if t.ID == id {
			t.NewsletterCount += delta
			if t.NewsletterCount < 0 {
				t.NewsletterCount = 0
			}
		}
	}
	c.Set(querykey.TagList(), tags)
}

// AssignTag attaches a tag to a newsletter.
func (e *Engine) AssignTag(ctx context.Context, newsletterID domain.NewsletterID, tagID domain.TagID) error {
	return e.run(ctx, mutation.Mutation{
		Entity:      cache.EntityTag,
		Operation:   "tags.assign",
		AffectedIDs: []string{string(newsletterID), string(tagID)},
		Scope:       tagScope(),
		Apply: func(c *cache.Manager) domain.UnreadDelta {
			n, ok := c.Newsletter(newsletterID)
			if !ok {
				return domain.UnreadDelta{}
			}
			for _, t := range n.Tags {
				if t.ID == tagID {
					return domain.UnreadDelta{} // already assigned
				}
			}
			tags := append(n.Tags, residentTag(c, tagID))
			c.UpdateNewsletter(newsletterID, domain.NewsletterPatch{Tags: &tags})
			adjustTagCount(c, tagID, 1)
			return domain.UnreadDelta{}
		},
		Execute: func(ctx context.Context) error {
			return e.remote.Tags.Assign(ctx, newsletterID, tagID)
		},
	})
}

// UnassignTag detaches a tag from a newsletter.
func (e *Engine) UnassignTag(ctx context.Context, newsletterID domain.NewsletterID, tagID domain.TagID) error {
	return e.run(ctx, mutation.Mutation{
		Entity:      cache.EntityTag,
		Operation:   "tags.unassign",
		AffectedIDs: []string{string(newsletterID), string(tagID)},
		Scope:       tagScope(),
		Apply: func(c *cache.Manager) domain.UnreadDelta {
			n, ok := c.Newsletter(newsletterID)
			if !ok {
				return domain.UnreadDelta{}
			}
			kept := make([]domain.Tag, 0, len(n.Tags))
			removed := false
			for _, t := range n.Tags {
				if t.ID == tagID {
					removed = true
					continue
				}
				kept = append(kept, t)
			}
			if !removed {
				return domain.UnreadDelta{}
			}
			c.UpdateNewsletter(newsletterID, domain.NewsletterPatch{Tags: &kept})
			adjustTagCount(c, tagID, -1)
			return domain.UnreadDelta{}
		},
		Execute: func(ctx context.Context) error {
			return e.remote.Tags.Unassign(ctx, newsletterID, tagID)
		},
	})
}

// UpdateSource renames or archives a sender everywhere it appears.
func (e *Engine) UpdateSource(ctx context.Context, id domain.SourceID, patch domain.SourcePatch) error {
	return e.run(ctx, mutation.Mutation{
		Entity:      cache.EntitySource,
		Operation:   "sources.update",
		AffectedIDs: []string{string(id)},
		Scope:       sourceScope(),
		Input:       patch,
		Apply: func(c *cache.Manager) domain.UnreadDelta {
			c.UpdateSource(id, patch)
			return domain.UnreadDelta{}
		},
		Execute: func(ctx context.Context) error {
			return e.remote.Sources.Update(ctx, id, patch)
		},
	})
}

// SetSourceArchived is the archive/unarchive toggle for a sender.
func (e *Engine) SetSourceArchived(ctx context.Context, id domain.SourceID, archived bool) error {
	return e.UpdateSource(ctx, id, domain.SourcePatch{IsArchived: domain.Bool(archived)})
}

// CreateGroup adds a source group with a placeholder id until the settle
// refetch replaces it.
func (e *Engine) CreateGroup(ctx context.Context, input domain.CreateGroupInput) error {
	placeholderID := domain.GroupID(uuid.NewString())
	return e.run(ctx, mutation.Mutation{
		Entity:      cache.EntityGroup,
		Operation:   "groups.create",
		AffectedIDs: []string{string(placeholderID)},
		Scope:       groupScope(),
		Input:       input,
		Apply: func(c *cache.Manager) domain.UnreadDelta {
			if v, ok, _ := c.Get(querykey.GroupList()); ok {
				now := time.Now()
				groups := append(v.([]*domain.SourceGroup), &domain.SourceGroup{
					ID:        placeholderID,
					Name:      input.Name,
					SourceIDs: append([]domain.SourceID(nil), input.SourceIDs...),
					CreatedAt: now,
					UpdatedAt: now,
				})
				c.Set(querykey.GroupList(), groups)
			}
			return domain.UnreadDelta{}
		},
		Execute: func(ctx context.Context) error {
			_, err := e.remote.Groups.Create(ctx, input)
			return err
		},
	})
}

// UpdateGroup renames a group or replaces its membership.
func (e *Engine) UpdateGroup(ctx context.Context, id domain.GroupID, patch domain.GroupPatch) error {
	return e.run(ctx, mutation.Mutation{
		Entity:      cache.EntityGroup,
		Operation:   "groups.update",
		AffectedIDs: []string{string(id)},
		Scope:       groupScope(),
		Input:       patch,
		Apply: func(c *cache.Manager) domain.UnreadDelta {
			c.UpdateGroup(id, patch)
			return domain.UnreadDelta{}
		},
		Execute: func(ctx context.Context) error {
			return e.remote.Groups.Update(ctx, id, patch)
		},
	})
}

// DeleteGroup removes a source group. Sources themselves are untouched.
func (e *Engine) DeleteGroup(ctx context.Context, id domain.GroupID) error {
	return e.run(ctx, mutation.Mutation{
		Entity:      cache.EntityGroup,
		Operation:   "groups.delete",
		AffectedIDs: []string{string(id)},
		Scope:       groupScope(),
		Apply: func(c *cache.Manager) domain.UnreadDelta {
			c.RemoveGroup(id)
			return domain.UnreadDelta{}
		},
		Execute: func(ctx context.Context) error {
			return e.remote.Groups.Delete(ctx, id)
		},
	})
}

// AddToQueue saves a newsletter to the end of the reading queue.
func (e *Engine) AddToQueue(ctx context.Context, newsletterID domain.NewsletterID) error {
	placeholderID := domain.QueueItemID(uuid.NewString())
	return e.run(ctx, mutation.Mutation{
		Entity:      cache.EntityQueue,
		Operation:   "queue.add",
		AffectedIDs: []string{string(newsletterID)},
		Scope:       queueScope(),
		Apply: func(c *cache.Manager) domain.UnreadDelta {
			v, ok, _ := c.Get(querykey.Queue())
			if !ok {
				return domain.UnreadDelta{}
			}
			items := v.([]*domain.QueueItem)
			for _, it := range items {
				if it.NewsletterID == newsletterID {
					return domain.UnreadDelta{} // already queued
				}
			}
			item := &domain.QueueItem{
				ID:           placeholderID,
				NewsletterID: newsletterID,
				Position:     len(items),
				AddedAt:      time.Now(),
			}
			if n, resident := c.Newsletter(newsletterID); resident {
				item.Newsletter = n
			}
			c.Set(querykey.Queue(), append(items, item))
			return domain.UnreadDelta{}
		},
		Execute: func(ctx context.Context) error {
			_, err := e.remote.Queue.Add(ctx, newsletterID)
			return err
		},
	})
}

// RemoveFromQueue drops a newsletter from the reading queue and closes
// the position gap.
func (e *Engine) RemoveFromQueue(ctx context.Context, newsletterID domain.NewsletterID) error {
	return e.run(ctx, mutation.Mutation{
		Entity:      cache.EntityQueue,
		Operation:   "queue.remove",
		AffectedIDs: []string{string(newsletterID)},
		Scope:       queueScope(),
		Apply: func(c *cache.Manager) domain.UnreadDelta {
			v, ok, _ := c.Get(querykey.Queue())
			if !ok {
				return domain.UnreadDelta{}
			}
			items := v.([]*domain.QueueItem)
			kept := make([]*domain.QueueItem, 0, len(items))
			for _, it := range items {
				if it.NewsletterID == newsletterID {
					continue
				}
				it.Position = len(kept)
				kept = append(kept, it)
			}
			if len(kept) != len(items) {
				c.Set(querykey.Queue(), kept)
			}
			return domain.UnreadDelta{}
		},
		Execute: func(ctx context.Context) error {
			return e.remote.Queue.Remove(ctx, newsletterID)
		},
	})
}

// ReorderQueue rewrites queue positions to the given order. Items not
// named keep their relative order after the named ones.
func (e *Engine) ReorderQueue(ctx context.Context, orderedIDs []domain.QueueItemID) error {
	affected := make([]string, len(orderedIDs))
	for i, id := range orderedIDs {
		affected[i] = string(id)
	}
	return e.run(ctx, mutation.Mutation{
		Entity:      cache.EntityQueue,
		Operation:   "queue.reorder",
		AffectedIDs: affected,
		Scope:       queueScope(),
		Apply: func(c *cache.Manager) domain.UnreadDelta {
			v, ok, _ := c.Get(querykey.Queue())
			if !ok {
				return domain.UnreadDelta{}
			}
			items := v.([]*domain.QueueItem)
			byID := make(map[domain.QueueItemID]*domain.QueueItem, len(items))
			for _, it := range items {
				byID[it.ID] = it
			}
			next := make([]*domain.QueueItem, 0, len(items))
			for _, id := range orderedIDs {
				if it, found := byID[id]; found {
					next = append(next, it)
					delete(byID, id)
				}
			}
			for _, it := range items {
				if _, leftover := byID[it.ID]; leftover {
					next = append(next, it)
				}
			}
			for i, it := range next {
				it.Position = i
			}
			c.Set(querykey.Queue(), next)
			return domain.UnreadDelta{}
		},
		Execute: func(ctx context.Context) error {
			return e.remote.Queue.Reorder(ctx, orderedIDs)
		},
	})
}
