package domain

import (
	"time"
)

// NewsletterID represents the unique identifier for a Newsletter.
type NewsletterID string

// Newsletter is one received newsletter issue as the backend returns it.
// Records of this shape live in the cache; every read hands out a clone so
// callers can never reach in and edit shared state.
type Newsletter struct {
	ID                NewsletterID `json:"id"`
	UserID            string       `json:"user_id"`
	SourceID          SourceID     `json:"newsletter_source_id"`
	Title             string       `json:"title"`
	Summary           string       `json:"summary"`
	Content           string       `json:"content,omitempty"`
	ImageURL          string       `json:"image_url,omitempty"`
	WordCount         int          `json:"word_count"`
	EstimatedReadTime int          `json:"estimated_read_time"` // minutes
	IsRead            bool         `json:"is_read"`
	IsLiked           bool         `json:"is_liked"`
	IsArchived        bool         `json:"is_archived"`
	LikeCount         int          `json:"like_count"`
	ReceivedAt        time.Time    `json:"received_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
	Source            *Source      `json:"source,omitempty"`
	Tags              []Tag        `json:"tags,omitempty"`
}

// Clone returns a deep copy. Snapshots taken for rollback and values handed
// to readers both rely on this.
func (n *Newsletter) Clone() *Newsletter {
	if n == nil {
		return nil
	}
	out := *n
	out.Source = n.Source.Clone()
	if n.Tags != nil {
		out.Tags = make([]Tag, len(n.Tags))
		copy(out.Tags, n.Tags)
	}
	return &out
}

// NewsletterPatch carries the writable fields of a newsletter. Nil fields
// are left untouched when the patch is applied.
type NewsletterPatch struct {
	IsRead     *bool      `json:"is_read,omitempty"`
	IsLiked    *bool      `json:"is_liked,omitempty"`
	IsArchived *bool      `json:"is_archived,omitempty"`
	LikeCount  *int       `json:"like_count,omitempty"`
	Tags       *[]Tag     `json:"tags,omitempty"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
}

// IsZero reports whether the patch changes nothing.
func (p NewsletterPatch) IsZero() bool {
	return p.IsRead == nil && p.IsLiked == nil && p.IsArchived == nil &&
		p.LikeCount == nil && p.Tags == nil && p.UpdatedAt == nil
}

// Apply writes the patch onto the record in place. A patch that carries
// its own UpdatedAt keeps it; otherwise the record is stamped with now.
func (n *Newsletter) Apply(p NewsletterPatch, now time.Time) {
	if p.IsRead != nil {
		n.IsRead = *p.IsRead
	}
	if p.IsLiked != nil {
		n.IsLiked = *p.IsLiked
	}
	if p.IsArchived != nil {
		n.IsArchived = *p.IsArchived
	}
	if p.LikeCount != nil {
		n.LikeCount = *p.LikeCount
	}
	if p.Tags != nil {
		n.Tags = make([]Tag, len(*p.Tags))
		copy(n.Tags, *p.Tags)
	}
	if p.UpdatedAt != nil {
		n.UpdatedAt = *p.UpdatedAt
	} else {
		n.UpdatedAt = now
	}
}

// Bool returns a pointer to b, for building patches inline.
func Bool(b bool) *bool { return &b }

// Int returns a pointer to i, for building patches inline.
func Int(i int) *int { return &i }
