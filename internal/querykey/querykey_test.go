package querykey

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zapidan/newsletter-hub-sub004/internal/domain"
)

func TestNewsletterList_EquivalentFiltersShareAKey(t *testing.T) {
	a := NewsletterList(domain.NewsletterFilter{
		IsRead:    domain.Bool(false),
		SourceIDs: []domain.SourceID{"src-b", "src-a"},
	})
	b := NewsletterList(domain.NewsletterFilter{
		SourceIDs: []domain.SourceID{"src-a", "src-b"},
		IsRead:    domain.Bool(false),
	})

	assert.True(t, a.Equal(b))
	assert.Equal(t, a.String(), b.String())
}

func TestNewsletterList_UnsetFieldsAreDropped(t *testing.T) {
	bare := NewsletterList(domain.NewsletterFilter{})
	paged := NewsletterList(domain.NewsletterFilter{Page: 0, PageSize: 0, Search: ""})

	assert.True(t, bare.Equal(paged), "zero values must not distinguish keys")
}

func TestNewsletterList_DifferentFiltersDiverge(t *testing.T) {
	unread := NewsletterList(domain.NewsletterFilter{IsRead: domain.Bool(false)})
	read := NewsletterList(domain.NewsletterFilter{IsRead: domain.Bool(true)})
	all := NewsletterList(domain.NewsletterFilter{})

	assert.False(t, unread.Equal(read))
	assert.False(t, unread.Equal(all))
	assert.False(t, read.Equal(all))
}

func TestNewsletterList_ExplicitFalseIsNotUnset(t *testing.T) {
	unarchived := NewsletterList(domain.NewsletterFilter{IsArchived: domain.Bool(false)})
	all := NewsletterList(domain.NewsletterFilter{})

	assert.False(t, unarchived.Equal(all))
}

func TestNewsletterList_SearchWithPipeRoundTrips(t *testing.T) {
	key := NewsletterList(domain.NewsletterFilter{Search: "go|rust weekly"})

	assert.Len(t, key.Segments(), 3, "free text must not add segments")

	parsed := Parse(key.String())
	assert.True(t, parsed.Equal(key), "canonical form must survive Parse")
	assert.True(t, parsed.HasPrefix(NewsletterLists()))

	// The escape must not fold distinct searches together.
	escaped := NewsletterList(domain.NewsletterFilter{Search: `go|rust weekly`})
	assert.False(t, escaped.Equal(key))
}

func TestHasPrefix(t *testing.T) {
	detail := NewsletterDetail("nl-1")
	list := NewsletterList(domain.NewsletterFilter{})

	assert.True(t, detail.HasPrefix(Newsletters()))
	assert.True(t, list.HasPrefix(Newsletters()))
	assert.True(t, detail.HasPrefix(detail))
	assert.False(t, detail.HasPrefix(Tags()))
	assert.False(t, Newsletters().HasPrefix(detail))
	assert.True(t, detail.HasPrefix(New()))
}

func TestMatchers(t *testing.T) {
	assert.True(t, NewsletterList(domain.NewsletterFilter{}).IsList())
	assert.True(t, TagList().IsList())
	assert.True(t, Queue().IsList())
	assert.False(t, NewsletterDetail("nl-1").IsList())
	assert.False(t, UnreadCounts().IsList())

	assert.True(t, NewsletterDetail("nl-1").IsDetail())
	assert.True(t, NewsletterDetail("nl-1").IsDetailFor("nl-1"))
	assert.False(t, NewsletterDetail("nl-1").IsDetailFor("nl-2"))
	assert.False(t, TagList().IsDetail())
}

func TestPredicates(t *testing.T) {
	underNewsletters := PrefixPredicate(Newsletters())
	assert.True(t, underNewsletters(NewsletterDetail("nl-1")))
	assert.False(t, underNewsletters(TagList()))

	either := AnyOf(PrefixPredicate(Tags()), PrefixPredicate(Sources()))
	assert.True(t, either(TagList()))
	assert.True(t, either(SourceDetail("src-1")))
	assert.False(t, either(Queue()))
}

func TestKeyFamiliesStayDisjoint(t *testing.T) {
	keys := []Key{
		Newsletters(),
		TagList(),
		SourceList(),
		GroupList(),
		Queue(),
		UnreadCounts(),
	}

	seen := make(map[string]bool)
	for _, k := range keys {
		assert.False(t, seen[k.String()], "duplicate key %s", k.String())
		seen[k.String()] = true
	}
}

func TestSegmentsAreImmutable(t *testing.T) {
	k := NewsletterDetail("nl-1")

	segs := k.Segments()
	segs[0] = "tampered"

	assert.Equal(t, "newsletters", k.Segment(0))
}
