package domain

import (
	"time"
)

// TagID represents the unique identifier for a Tag.
type TagID string

// Tag is a user-defined label attached to newsletters.
type Tag struct {
	ID              TagID     `json:"id"`
	UserID          string    `json:"user_id"`
	Name            string    `json:"name"`
	Color           string    `json:"color"`
	NewsletterCount int       `json:"newsletter_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Clone returns a copy of the tag.
func (t *Tag) Clone() *Tag {
	if t == nil {
		return nil
	}
	out := *t
	return &out
}

// CreateTagInput is the payload for creating a tag.
type CreateTagInput struct {
	Name  string `json:"name" validate:"required,min=1,max=50"`
	Color string `json:"color" validate:"required,hexcolor"`
}

// TagPatch carries the writable fields of a tag.
type TagPatch struct {
	Name  *string `json:"name,omitempty" validate:"omitempty,min=1,max=50"`
	Color *string `json:"color,omitempty" validate:"omitempty,hexcolor"`
}

// IsZero reports whether the patch changes nothing.
func (p TagPatch) IsZero() bool {
	return p.Name == nil && p.Color == nil
}

// Apply writes the patch onto the tag in place.
func (t *Tag) Apply(p TagPatch, now time.Time) {
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.Color != nil {
		t.Color = *p.Color
	}
	t.UpdatedAt = now
}

// String returns a pointer to s, for building patches inline.
func String(s string) *string { return &s }
