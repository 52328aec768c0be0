// Package remote defines the operation surface the engine syncs against
// and its Supabase/PostgREST implementation. Everything above this
// boundary is transport-agnostic: the engine only sees these interfaces
// and classified errors.
package remote

import (
	"context"

	"github.com/zapidan/newsletter-hub-sub004/internal/domain"
)

// NewsletterAPI is the remote surface for newsletter records.
type NewsletterAPI interface {
	List(ctx context.Context, filter domain.NewsletterFilter) (*domain.NewsletterPage, error)
	Get(ctx context.Context, id domain.NewsletterID) (*domain.Newsletter, error)
	Update(ctx context.Context, id domain.NewsletterID, patch domain.NewsletterPatch) error
	BulkUpdate(ctx context.Context, ids []domain.NewsletterID, patch domain.NewsletterPatch) error
	Delete(ctx context.Context, ids []domain.NewsletterID) error
}

// TagAPI is the remote surface for tags and tag assignment.
type TagAPI interface {
	List(ctx context.Context) ([]*domain.Tag, error)
	Create(ctx context.Context, input domain.CreateTagInput) (*domain.Tag, error)
	Update(ctx context.Context, id domain.TagID, patch domain.TagPatch) error
	Delete(ctx context.Context, id domain.TagID) error
	Assign(ctx context.Context, newsletterID domain.NewsletterID, tagID domain.TagID) error
	Unassign(ctx context.Context, newsletterID domain.NewsletterID, tagID domain.TagID) error
}

// SourceAPI is the remote surface for newsletter sources.
type SourceAPI interface {
	List(ctx context.Context) ([]*domain.Source, error)
	Update(ctx context.Context, id domain.SourceID, patch domain.SourcePatch) error
}

// GroupAPI is the remote surface for source groups.
type GroupAPI interface {
	List(ctx context.Context) ([]*domain.SourceGroup, error)
	Create(ctx context.Context, input domain.CreateGroupInput) (*domain.SourceGroup, error)
	Update(ctx context.Context, id domain.GroupID, patch domain.GroupPatch) error
	Delete(ctx context.Context, id domain.GroupID) error
}

// QueueAPI is the remote surface for the reading queue.
type QueueAPI interface {
	List(ctx context.Context) ([]*domain.QueueItem, error)
	Add(ctx context.Context, newsletterID domain.NewsletterID) (*domain.QueueItem, error)
	Remove(ctx context.Context, newsletterID domain.NewsletterID) error
	Reorder(ctx context.Context, orderedIDs []domain.QueueItemID) error
}

// AggregateAPI fetches derived counts the backend computes.
type AggregateAPI interface {
	UnreadCounts(ctx context.Context) (*domain.UnreadCounts, error)
}

// Surface bundles the per-entity APIs the engine consumes.
type Surface struct {
	Newsletters NewsletterAPI
	Tags        TagAPI
	Sources     SourceAPI
	Groups      GroupAPI
	Queue       QueueAPI
	Aggregates  AggregateAPI
}
