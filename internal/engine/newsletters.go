package engine

import (
	"context"

	"github.com/zapidan/newsletter-hub-sub004/internal/cache"
	"github.com/zapidan/newsletter-hub-sub004/internal/domain"
	"github.com/zapidan/newsletter-hub-sub004/internal/mutation"
	"github.com/zapidan/newsletter-hub-sub004/internal/querykey"
)

// newsletterScope covers every cached view a newsletter state change can
// touch: the newsletter lists and details, the reading queue, the unread
// aggregate, and the per-source counts.
func newsletterScope() querykey.Predicate {
	return querykey.AnyOf(
		querykey.PrefixPredicate(querykey.Newsletters()),
		querykey.PrefixPredicate(querykey.Queue()),
		querykey.PrefixPredicate(querykey.UnreadCounts()),
		querykey.PrefixPredicate(querykey.Sources()),
	)
}

func idStrings(ids []domain.NewsletterID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

// setReadState is the shared body of MarkRead and MarkUnread.
func (e *Engine) setReadState(ctx context.Context, id domain.NewsletterID, read bool) error {
	op := "newsletters.markRead"
	if !read {
		op = "newsletters.markUnread"
	}
	patch := domain.NewsletterPatch{IsRead: domain.Bool(read)}

	return e.run(ctx, mutation.Mutation{
		Entity:      cache.EntityNewsletter,
		Operation:   op,
		AffectedIDs: []string{string(id)},
		Scope:       newsletterScope(),
		Apply: func(c *cache.Manager) domain.UnreadDelta {
			before, ok := c.Newsletter(id)
			if !ok {
				return domain.UnreadDelta{}
			}
			after := before.Clone()
			after.IsRead = read
			c.UpdateNewsletter(id, patch)
			return domain.ReadStateDelta(before, after)
		},
		Execute: func(ctx context.Context) error {
			return e.remote.Newsletters.Update(ctx, id, patch)
		},
	})
}

// MarkRead flips a newsletter to read, optimistically removing it from
// the unread badge.
func (e *Engine) MarkRead(ctx context.Context, id domain.NewsletterID) error {
	return e.setReadState(ctx, id, true)
}

// MarkUnread flips a newsletter back to unread.
func (e *Engine) MarkUnread(ctx context.Context, id domain.NewsletterID) error {
	return e.setReadState(ctx, id, false)
}

// ToggleLike inverts the like flag, adjusting the like count with it.
// The target state is decided once, up front; the optimistic apply and
// the remote write both use that value, so a rollback or a concurrent
// mutation between the two cannot make them diverge.
func (e *Engine) ToggleLike(ctx context.Context, id domain.NewsletterID) error {
	liked := true
	count := 1
	if current, ok := e.cache.Newsletter(id); ok {
		liked = !current.IsLiked
		count = current.LikeCount
		if liked {
			count++
		} else if count > 0 {
			count--
		}
	}

	return e.run(ctx, mutation.Mutation{
		Entity:      cache.EntityNewsletter,
		Operation:   "newsletters.toggleLike",
		AffectedIDs: []string{string(id)},
		Scope:       newsletterScope(),
		Apply: func(c *cache.Manager) domain.UnreadDelta {
			c.UpdateNewsletter(id, domain.NewsletterPatch{
				IsLiked:   domain.Bool(liked),
				LikeCount: domain.Int(count),
			})
			return domain.UnreadDelta{}
		},
		Execute: func(ctx context.Context) error {
			return e.remote.Newsletters.Update(ctx, id, domain.NewsletterPatch{
				IsLiked: domain.Bool(liked),
			})
		},
	})
}

// setArchived is the shared body of Archive and Unarchive.
func (e *Engine) setArchived(ctx context.Context, id domain.NewsletterID, archived bool) error {
	op := "newsletters.archive"
	if !archived {
		op = "newsletters.unarchive"
	}
	patch := domain.NewsletterPatch{IsArchived: domain.Bool(archived)}

	return e.run(ctx, mutation.Mutation{
		Entity:      cache.EntityNewsletter,
		Operation:   op,
		AffectedIDs: []string{string(id)},
		Scope:       newsletterScope(),
		Apply: func(c *cache.Manager) domain.UnreadDelta {
			before, ok := c.Newsletter(id)
			if !ok {
				return domain.UnreadDelta{}
			}
			after := before.Clone()
			after.IsArchived = archived
			c.UpdateNewsletter(id, patch)
			return domain.ReadStateDelta(before, after)
		},
		Execute: func(ctx context.Context) error {
			return e.remote.Newsletters.Update(ctx, id, patch)
		},
	})
}

// Archive moves a newsletter out of the inbox. Archiving an unread item
// also removes it from the unread badge.
func (e *Engine) Archive(ctx context.Context, id domain.NewsletterID) error {
	return e.setArchived(ctx, id, true)
}

// Unarchive restores a newsletter to the inbox.
func (e *Engine) Unarchive(ctx context.Context, id domain.NewsletterID) error {
	return e.setArchived(ctx, id, false)
}

// bulkPatch runs one bulk state change as a single mutation: one
// snapshot, one batch apply, one remote call, whole-batch rollback on
// any failure.
func (e *Engine) bulkPatch(ctx context.Context, op string, ids []domain.NewsletterID, change func(after *domain.Newsletter), patch domain.NewsletterPatch) error {
	if len(ids) == 0 {
		return nil
	}
	return e.run(ctx, mutation.Mutation{
		Entity:      cache.EntityNewsletter,
		Operation:   op,
		AffectedIDs: idStrings(ids),
		Scope:       newsletterScope(),
		Apply: func(c *cache.Manager) domain.UnreadDelta {
			var delta domain.UnreadDelta
			updates := make([]cache.NewsletterUpdate, 0, len(ids))
			for _, id := range ids {
				before, ok := c.Newsletter(id)
				if ok {
					after := before.Clone()
					change(after)
					delta.Add(domain.ReadStateDelta(before, after))
				}
				updates = append(updates, cache.NewsletterUpdate{ID: id, Patch: patch})
			}
			c.BatchUpdate(updates)
			return delta
		},
		Execute: func(ctx context.Context) error {
			return e.remote.Newsletters.BulkUpdate(ctx, ids, patch)
		},
	})
}

// BulkMarkRead marks every given newsletter read. The operation reports
// success only when the whole batch succeeded remotely.
func (e *Engine) BulkMarkRead(ctx context.Context, ids []domain.NewsletterID) error {
	return e.bulkPatch(ctx, "newsletters.bulkMarkRead", ids,
		func(after *domain.Newsletter) { after.IsRead = true },
		domain.NewsletterPatch{IsRead: domain.Bool(true)},
	)
}

// BulkArchive archives every given newsletter.
func (e *Engine) BulkArchive(ctx context.Context, ids []domain.NewsletterID) error {
	return e.bulkPatch(ctx, "newsletters.bulkArchive", ids,
		func(after *domain.Newsletter) { after.IsArchived = true },
		domain.NewsletterPatch{IsArchived: domain.Bool(true)},
	)
}

// Delete removes newsletters permanently. The optimistic apply drops
// them from every resident view; unread ones leave the badge.
func (e *Engine) Delete(ctx context.Context, ids []domain.NewsletterID) error {
	if len(ids) == 0 {
		return nil
	}
	return e.run(ctx, mutation.Mutation{
		Entity:      cache.EntityNewsletter,
		Operation:   "newsletters.delete",
		AffectedIDs: idStrings(ids),
		Scope:       newsletterScope(),
		Apply: func(c *cache.Manager) domain.UnreadDelta {
			var delta domain.UnreadDelta
			for _, id := range ids {
				if before, ok := c.Newsletter(id); ok && !before.IsRead && !before.IsArchived {
					delta.Add(domain.UnreadDelta{
						Total:    -1,
						BySource: map[domain.SourceID]int{before.SourceID: -1},
					})
				}
			}
			c.RemoveNewsletters(ids)
			return delta
		},
		Execute: func(ctx context.Context) error {
			return e.remote.Newsletters.Delete(ctx, ids)
		},
	})
}
