package querykey

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/zapidan/newsletter-hub-sub004/internal/domain"
)

// Namespace roots. All keys for an entity family live under its root, so
// one prefix invalidation reaches every list, detail, and derived query of
// that family.
const (
	nsNewsletters  = "newsletters"
	nsTags         = "tags"
	nsSources      = "sources"
	nsGroups       = "sourceGroups"
	nsQueue        = "readingQueue"
	nsUnreadCounts = "unreadCounts"

	kindList   = "list"
	kindDetail = "detail"
)

// Newsletters is the root of every newsletter query.
func Newsletters() Key { return New(nsNewsletters) }

// NewsletterLists is the common prefix of every filtered newsletter list
// key, for invalidations that target the lists but spare the details.
func NewsletterLists() Key { return New(nsNewsletters, kindList) }

// NewsletterList keys one filtered page of newsletters. Equivalent filters
// normalize to the same key regardless of how the caller built them.
func NewsletterList(f domain.NewsletterFilter) Key {
	return New(nsNewsletters, kindList, normalizeFilter(f))
}

// NewsletterDetail keys a single newsletter fetched by ID.
func NewsletterDetail(id domain.NewsletterID) Key {
	return New(nsNewsletters, kindDetail, string(id))
}

// Tags is the root of every tag query.
func Tags() Key { return New(nsTags) }

// TagList keys the user's full tag collection.
func TagList() Key { return New(nsTags, kindList) }

// Sources is the root of every source query.
func Sources() Key { return New(nsSources) }

// SourceList keys the user's full source collection.
func SourceList() Key { return New(nsSources, kindList) }

// SourceDetail keys a single source fetched by ID.
func SourceDetail(id domain.SourceID) Key {
	return New(nsSources, kindDetail, string(id))
}

// Groups is the root of every source group query.
func Groups() Key { return New(nsGroups) }

// GroupList keys the user's source groups.
func GroupList() Key { return New(nsGroups, kindList) }

// GroupDetail keys a single group with its sources expanded.
func GroupDetail(id domain.GroupID) Key {
	return New(nsGroups, kindDetail, string(id))
}

// Queue keys the reading queue. The queue is one ordered list per user, so
// root and list coincide.
func Queue() Key { return New(nsQueue) }

// UnreadCounts keys the unread aggregate.
func UnreadCounts() Key { return New(nsUnreadCounts) }

// IsList reports whether the key names a list query of any family.
func (k Key) IsList() bool {
	return k.Segment(1) == kindList || k.Segment(0) == nsQueue
}

// IsDetail reports whether the key names a detail query of any family.
func (k Key) IsDetail() bool {
	return k.Segment(1) == kindDetail
}

// IsDetailFor reports whether the key names the detail query of the given
// record.
func (k Key) IsDetailFor(id string) bool {
	return k.IsDetail() && k.Segment(2) == id
}

// normalizeFilter renders the set fields of a filter as canonical JSON.
// Unset fields are dropped, map keys come out sorted, and ID slices are
// sorted, so every spelling of the same filter lands on the same segment.
func normalizeFilter(f domain.NewsletterFilter) string {
	fields := make(map[string]string)

	if f.IsRead != nil {
		fields["is_read"] = strconv.FormatBool(*f.IsRead)
	}
	if f.IsArchived != nil {
		fields["is_archived"] = strconv.FormatBool(*f.IsArchived)
	}
	if f.IsLiked != nil {
		fields["is_liked"] = strconv.FormatBool(*f.IsLiked)
	}
	if len(f.SourceIDs) > 0 {
		fields["source_ids"] = joinSorted(sourceIDStrings(f.SourceIDs))
	}
	if len(f.TagIDs) > 0 {
		fields["tag_ids"] = joinSorted(tagIDStrings(f.TagIDs))
	}
	if f.GroupID != "" {
		fields["group_id"] = string(f.GroupID)
	}
	if f.Search != "" {
		fields["search"] = f.Search
	}
	if f.OrderBy != "" {
		fields["order_by"] = f.OrderBy
	}
	if f.Ascending {
		fields["ascending"] = "true"
	}
	if f.Page > 0 {
		fields["page"] = strconv.Itoa(f.Page)
	}
	if f.PageSize > 0 {
		fields["page_size"] = strconv.Itoa(f.PageSize)
	}

	if len(fields) == 0 {
		return "{}"
	}

	// encoding/json sorts map keys, which makes the segment canonical.
	encoded, err := json.Marshal(fields)
	if err != nil {
		// A map[string]string cannot fail to marshal.
		panic(err)
	}
	// The canonical key joins segments on "|", so a pipe in free text
	// (the search term, usually) must not leak through. The JSON escape
	// keeps the segment valid JSON and cannot collide with source text:
	// a literal backslash is already doubled by Marshal.
	return strings.ReplaceAll(string(encoded), "|", `|`)
}

func joinSorted(ids []string) string {
	sort.Strings(ids)
	encoded, _ := json.Marshal(ids)
	return string(encoded)
}

func sourceIDStrings(ids []domain.SourceID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func tagIDStrings(ids []domain.TagID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
