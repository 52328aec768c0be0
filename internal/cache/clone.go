package cache

import (
	"fmt"

	"github.com/zapidan/newsletter-hub-sub004/internal/domain"
)

// cloneValue deep-copies a cached value. The cache only holds the shapes
// the engine stores; anything else is a programmer error and panics, the
// one failure mode cache operations are allowed.
func cloneValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case *domain.NewsletterPage:
		return val.Clone()
	case *domain.Newsletter:
		return val.Clone()
	case []*domain.Newsletter:
		out := make([]*domain.Newsletter, len(val))
		for i, n := range val {
			out[i] = n.Clone()
		}
		return out
	case []*domain.Tag:
		out := make([]*domain.Tag, len(val))
		for i, t := range val {
			out[i] = t.Clone()
		}
		return out
	case []*domain.Source:
		out := make([]*domain.Source, len(val))
		for i, s := range val {
			out[i] = s.Clone()
		}
		return out
	case *domain.Source:
		return val.Clone()
	case []*domain.SourceGroup:
		out := make([]*domain.SourceGroup, len(val))
		for i, g := range val {
			out[i] = g.Clone()
		}
		return out
	case *domain.SourceGroup:
		return val.Clone()
	case []*domain.QueueItem:
		out := make([]*domain.QueueItem, len(val))
		for i, q := range val {
			out[i] = q.Clone()
		}
		return out
	case *domain.UnreadCounts:
		return val.Clone()
	default:
		panic(fmt.Sprintf("cache: unsupported value type %T", v))
	}
}
