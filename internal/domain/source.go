package domain

import (
	"time"
)

// SourceID represents the unique identifier for a newsletter Source.
type SourceID string

// Source is a sender the user receives newsletters from.
type Source struct {
	ID              SourceID  `json:"id"`
	UserID          string    `json:"user_id"`
	Name            string    `json:"name"`
	From            string    `json:"from"` // sender address
	NewsletterCount int       `json:"newsletter_count"`
	UnreadCount     int       `json:"unread_count"`
	IsArchived      bool      `json:"is_archived"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Clone returns a copy of the source.
func (s *Source) Clone() *Source {
	if s == nil {
		return nil
	}
	out := *s
	return &out
}

// SourcePatch carries the writable fields of a source.
type SourcePatch struct {
	Name       *string `json:"name,omitempty" validate:"omitempty,min=1,max=100"`
	IsArchived *bool   `json:"is_archived,omitempty"`
}

// IsZero reports whether the patch changes nothing.
func (p SourcePatch) IsZero() bool {
	return p.Name == nil && p.IsArchived == nil
}

// Apply writes the patch onto the source in place.
func (s *Source) Apply(p SourcePatch, now time.Time) {
	if p.Name != nil {
		s.Name = *p.Name
	}
	if p.IsArchived != nil {
		s.IsArchived = *p.IsArchived
	}
	s.UpdatedAt = now
}
