// Package querykey builds the cache keys the sync engine stores query
// results under. A key is an ordered tuple of segments; two call sites
// asking for the same logical query always produce byte-identical keys, so
// they share one cache entry and one in-flight fetch.
package querykey

import (
	"strings"
)

// Separator joins key segments into the canonical string form. Segments
// never contain it: IDs are UUIDs, and the filter factory escapes any
// pipe in free text before the segment is built.
const Separator = "|"

// Key is an immutable ordered tuple identifying one cached query.
type Key struct {
	canonical string
	segments  []string
}

// New builds a key from ordered segments.
func New(segments ...string) Key {
	parts := make([]string, len(segments))
	copy(parts, segments)
	return Key{
		canonical: strings.Join(parts, Separator),
		segments:  parts,
	}
}

// Parse rebuilds a key from its canonical string form.
func Parse(canonical string) Key {
	if canonical == "" {
		return Key{}
	}
	return New(strings.Split(canonical, Separator)...)
}

// String returns the canonical form used as the cache map key.
func (k Key) String() string {
	return k.canonical
}

// Segments returns a copy of the ordered segments.
func (k Key) Segments() []string {
	out := make([]string, len(k.segments))
	copy(out, k.segments)
	return out
}

// Len returns the number of segments.
func (k Key) Len() int {
	return len(k.segments)
}

// IsZero reports whether the key is the empty key.
func (k Key) IsZero() bool {
	return len(k.segments) == 0
}

// Equal reports whether two keys identify the same query.
func (k Key) Equal(other Key) bool {
	return k.canonical == other.canonical
}

// HasPrefix reports whether prefix is a leading sub-tuple of k. Every key
// has itself and the empty key as prefixes.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix.segments) > len(k.segments) {
		return false
	}
	for i, seg := range prefix.segments {
		if k.segments[i] != seg {
			return false
		}
	}
	return true
}

// Segment returns the i-th segment, or "" when out of range.
func (k Key) Segment(i int) string {
	if i < 0 || i >= len(k.segments) {
		return ""
	}
	return k.segments[i]
}

// Predicate selects keys, for targeted invalidation.
type Predicate func(Key) bool

// PrefixPredicate matches every key under the given prefix.
func PrefixPredicate(prefix Key) Predicate {
	return func(k Key) bool { return k.HasPrefix(prefix) }
}

// ExactPredicate matches only the given key.
func ExactPredicate(key Key) Predicate {
	return func(k Key) bool { return k.Equal(key) }
}

// AnyOf matches keys that satisfy at least one of the predicates.
func AnyOf(preds ...Predicate) Predicate {
	return func(k Key) bool {
		for _, p := range preds {
			if p(k) {
				return true
			}
		}
		return false
	}
}
