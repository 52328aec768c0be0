// Package engine is the typed facade the reading UI talks to. Reads are
// cache-first and gated on a signed-in identity; writes run as optimistic
// mutations through the controller. The engine owns the wiring between
// cache, retry, remote surface, session, and notifications.
package engine

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/zapidan/newsletter-hub-sub004/internal/auth"
	"github.com/zapidan/newsletter-hub-sub004/internal/cache"
	"github.com/zapidan/newsletter-hub-sub004/internal/domain"
	"github.com/zapidan/newsletter-hub-sub004/internal/mutation"
	"github.com/zapidan/newsletter-hub-sub004/internal/notify"
	"github.com/zapidan/newsletter-hub-sub004/internal/querykey"
	"github.com/zapidan/newsletter-hub-sub004/internal/remote"
	"github.com/zapidan/newsletter-hub-sub004/internal/retry"
	apperrors "github.com/zapidan/newsletter-hub-sub004/pkg/errors"
)

// Engine bundles the sync core behind entity-shaped operations.
type Engine struct {
	cache   *cache.Manager
	ctrl    *mutation.Controller
	exec    *retry.Executor
	remote  remote.Surface
	session *auth.Manager
	sink    notify.Sink
	logger  *zap.Logger

	// filters remembers the filter behind each newsletter list key so
	// background refetches can re-run the original query.
	filters sync.Map // canonical key -> domain.NewsletterFilter
}

// New creates the engine and registers its fetchers with the cache.
// sink may be nil when no user-visible reporting is wanted.
func New(c *cache.Manager, ctrl *mutation.Controller, exec *retry.Executor, surface remote.Surface, session *auth.Manager, sink notify.Sink, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cache:   c,
		ctrl:    ctrl,
		exec:    exec,
		remote:  surface,
		session: session,
		sink:    sink,
		logger:  logger.Named("engine"),
	}
	e.registerFetchers()
	return e
}

// Session exposes the session manager for the auth layer above.
func (e *Engine) Session() *auth.Manager {
	return e.session
}

// Cache exposes the cache manager to the debug surface.
func (e *Engine) Cache() *cache.Manager {
	return e.cache
}

// registerFetchers wires the background refetch path: the cache marks
// keys stale, these loaders bring back truth.
func (e *Engine) registerFetchers() {
	e.cache.RegisterFetcher(querykey.Newsletters(), func(ctx context.Context, key querykey.Key) error {
		if key.IsDetail() {
			n, err := e.fetchNewsletter(ctx, domain.NewsletterID(key.Segment(2)))
			if err != nil {
				return err
			}
			e.cache.Set(key, n)
			return nil
		}
		filter, ok := e.filterFor(key)
		if !ok {
			// A list never requested through the engine; nothing to
			// re-run.
			return nil
		}
		page, err := e.fetchNewsletterPage(ctx, filter)
		if err != nil {
			return err
		}
		e.cache.Set(key, page)
		return nil
	})

	e.cache.RegisterFetcher(querykey.Tags(), func(ctx context.Context, key querykey.Key) error {
		var tags []*domain.Tag
		err := e.exec.Do(ctx, "tags.list", func(ctx context.Context) error {
			var err error
			tags, err = e.remote.Tags.List(ctx)
			return err
		})
		if err != nil {
			return err
		}
		e.cache.Set(querykey.TagList(), tags)
		return nil
	})

	e.cache.RegisterFetcher(querykey.Sources(), func(ctx context.Context, key querykey.Key) error {
		var sources []*domain.Source
		err := e.exec.Do(ctx, "sources.list", func(ctx context.Context) error {
			var err error
			sources, err = e.remote.Sources.List(ctx)
			return err
		})
		if err != nil {
			return err
		}
		e.cache.Set(querykey.SourceList(), sources)
		return nil
	})

	e.cache.RegisterFetcher(querykey.Groups(), func(ctx context.Context, key querykey.Key) error {
		var groups []*domain.SourceGroup
		err := e.exec.Do(ctx, "groups.list", func(ctx context.Context) error {
			var err error
			groups, err = e.remote.Groups.List(ctx)
			return err
		})
		if err != nil {
			return err
		}
		e.cache.Set(querykey.GroupList(), groups)
		return nil
	})

	e.cache.RegisterFetcher(querykey.Queue(), func(ctx context.Context, key querykey.Key) error {
		var items []*domain.QueueItem
		err := e.exec.Do(ctx, "queue.list", func(ctx context.Context) error {
			var err error
			items, err = e.remote.Queue.List(ctx)
			return err
		})
		if err != nil {
			return err
		}
		e.cache.Set(querykey.Queue(), items)
		return nil
	})

	e.cache.RegisterFetcher(querykey.UnreadCounts(), func(ctx context.Context, key querykey.Key) error {
		var counts *domain.UnreadCounts
		err := e.exec.Do(ctx, "aggregates.unreadCounts", func(ctx context.Context) error {
			var err error
			counts, err = e.remote.Aggregates.UnreadCounts(ctx)
			return err
		})
		if err != nil {
			return err
		}
		e.cache.SetUnreadCounts(counts)
		return nil
	})
}

// identity gates every read. Without a signed-in user the cache is
// disabled and reads fail unauthorized.
func (e *Engine) identity() error {
	if e.session == nil {
		return nil
	}
	if _, ok := e.session.Current(); !ok {
		return apperrors.NewUnauthorized("sign in to load your inbox")
	}
	return nil
}

func (e *Engine) filterFor(key querykey.Key) (domain.NewsletterFilter, bool) {
	v, ok := e.filters.Load(key.String())
	if !ok {
		return domain.NewsletterFilter{}, false
	}
	return v.(domain.NewsletterFilter), true
}

func (e *Engine) fetchNewsletterPage(ctx context.Context, filter domain.NewsletterFilter) (*domain.NewsletterPage, error) {
	var page *domain.NewsletterPage
	err := e.exec.Do(ctx, "newsletters.list", func(ctx context.Context) error {
		var err error
		page, err = e.remote.Newsletters.List(ctx, filter)
		return err
	})
	return page, err
}

func (e *Engine) fetchNewsletter(ctx context.Context, id domain.NewsletterID) (*domain.Newsletter, error) {
	var n *domain.Newsletter
	err := e.exec.Do(ctx, "newsletters.get", func(ctx context.Context) error {
		var err error
		n, err = e.remote.Newsletters.Get(ctx, id)
		return err
	})
	return n, err
}

// Newsletters returns one filtered page, cache-first. A stale hit serves
// immediately and refreshes in the background.
func (e *Engine) Newsletters(ctx context.Context, filter domain.NewsletterFilter) (*domain.NewsletterPage, error) {
	if err := e.identity(); err != nil {
		return nil, err
	}

	key := querykey.NewsletterList(filter)
	e.filters.Store(key.String(), filter.Clone())

	if v, ok, stale := e.cache.Get(key); ok {
		if stale {
			e.cache.MarkStale(querykey.ExactPredicate(key), "stale-read")
		}
		return v.(*domain.NewsletterPage), nil
	}

	page, err := e.fetchNewsletterPage(ctx, filter)
	if err != nil {
		return nil, e.reportRead(err)
	}
	e.cache.Set(key, page)
	return page, nil
}

// Newsletter returns one record by id, cache-first.
func (e *Engine) Newsletter(ctx context.Context, id domain.NewsletterID) (*domain.Newsletter, error) {
	if err := e.identity(); err != nil {
		return nil, err
	}

	key := querykey.NewsletterDetail(id)
	if v, ok, stale := e.cache.Get(key); ok {
		if stale {
			e.cache.MarkStale(querykey.ExactPredicate(key), "stale-read")
		}
		return v.(*domain.Newsletter), nil
	}

	n, err := e.fetchNewsletter(ctx, id)
	if err != nil {
		return nil, e.reportRead(err)
	}
	e.cache.Set(key, n)
	return n, nil
}

// Tags returns the user's tags, cache-first.
func (e *Engine) Tags(ctx context.Context) ([]*domain.Tag, error) {
	if err := e.identity(); err != nil {
		return nil, err
	}
	if v, ok, stale := e.cache.Get(querykey.TagList()); ok {
		if stale {
			e.cache.MarkStale(querykey.ExactPredicate(querykey.TagList()), "stale-read")
		}
		return v.([]*domain.Tag), nil
	}
	var tags []*domain.Tag
	err := e.exec.Do(ctx, "tags.list", func(ctx context.Context) error {
		var err error
		tags, err = e.remote.Tags.List(ctx)
		return err
	})
	if err != nil {
		return nil, e.reportRead(err)
	}
	e.cache.Set(querykey.TagList(), tags)
	return tags, nil
}

// Sources returns the user's sources, cache-first.
func (e *Engine) Sources(ctx context.Context) ([]*domain.Source, error) {
	if err := e.identity(); err != nil {
		return nil, err
	}
	if v, ok, stale := e.cache.Get(querykey.SourceList()); ok {
		if stale {
			e.cache.MarkStale(querykey.ExactPredicate(querykey.SourceList()), "stale-read")
		}
		return v.([]*domain.Source), nil
	}
	var sources []*domain.Source
	err := e.exec.Do(ctx, "sources.list", func(ctx context.Context) error {
		var err error
		sources, err = e.remote.Sources.List(ctx)
		return err
	})
	if err != nil {
		return nil, e.reportRead(err)
	}
	e.cache.Set(querykey.SourceList(), sources)
	return sources, nil
}

// Groups returns the user's source groups, cache-first.
func (e *Engine) Groups(ctx context.Context) ([]*domain.SourceGroup, error) {
	if err := e.identity(); err != nil {
		return nil, err
	}
	if v, ok, stale := e.cache.Get(querykey.GroupList()); ok {
		if stale {
			e.cache.MarkStale(querykey.ExactPredicate(querykey.GroupList()), "stale-read")
		}
		return v.([]*domain.SourceGroup), nil
	}
	var groups []*domain.SourceGroup
	err := e.exec.Do(ctx, "groups.list", func(ctx context.Context) error {
		var err error
		groups, err = e.remote.Groups.List(ctx)
		return err
	})
	if err != nil {
		return nil, e.reportRead(err)
	}
	e.cache.Set(querykey.GroupList(), groups)
	return groups, nil
}

// Queue returns the reading queue in position order, cache-first.
func (e *Engine) Queue(ctx context.Context) ([]*domain.QueueItem, error) {
	if err := e.identity(); err != nil {
		return nil, err
	}
	if v, ok, stale := e.cache.Get(querykey.Queue()); ok {
		if stale {
			e.cache.MarkStale(querykey.ExactPredicate(querykey.Queue()), "stale-read")
		}
		return v.([]*domain.QueueItem), nil
	}
	var items []*domain.QueueItem
	err := e.exec.Do(ctx, "queue.list", func(ctx context.Context) error {
		var err error
		items, err = e.remote.Queue.List(ctx)
		return err
	})
	if err != nil {
		return nil, e.reportRead(err)
	}
	e.cache.Set(querykey.Queue(), items)
	return items, nil
}

// UnreadCounts returns the unread aggregate, cache-first.
func (e *Engine) UnreadCounts(ctx context.Context) (*domain.UnreadCounts, error) {
	if err := e.identity(); err != nil {
		return nil, err
	}
	if counts, ok := e.cache.UnreadCounts(); ok {
		return counts, nil
	}
	var counts *domain.UnreadCounts
	err := e.exec.Do(ctx, "aggregates.unreadCounts", func(ctx context.Context) error {
		var err error
		counts, err = e.remote.Aggregates.UnreadCounts(ctx)
		return err
	})
	if err != nil {
		return nil, e.reportRead(err)
	}
	e.cache.SetUnreadCounts(counts)
	return counts, nil
}

// run drives a mutation and handles the two cross-cutting outcomes: an
// unauthorized failure triggers one refresh-and-retry, and any final
// failure surfaces as a notification.
func (e *Engine) run(ctx context.Context, m mutation.Mutation) error {
	err := e.ctrl.Run(ctx, m)
	if err != nil && apperrors.IsUnauthorized(err) && e.session != nil {
		e.session.Invalidate()
		if refreshErr := e.session.Refresh(ctx); refreshErr == nil {
			err = e.ctrl.Run(ctx, m)
		}
	}
	if err != nil && e.sink != nil {
		e.sink.Notify(notify.FromError(err))
	}
	return err
}

// reportRead surfaces a read-path failure and returns it unchanged.
func (e *Engine) reportRead(err error) error {
	if err != nil && e.sink != nil {
		e.sink.Notify(notify.FromError(err))
	}
	return err
}
