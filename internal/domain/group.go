package domain

import (
	"time"
)

// GroupID represents the unique identifier for a source group.
type GroupID string

// SourceGroup bundles sources so the reader can filter by several senders
// at once.
type SourceGroup struct {
	ID        GroupID    `json:"id"`
	UserID    string     `json:"user_id"`
	Name      string     `json:"name"`
	SourceIDs []SourceID `json:"source_ids"`
	Sources   []*Source  `json:"sources,omitempty"` // expanded by detail fetches
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Clone returns a deep copy of the group.
func (g *SourceGroup) Clone() *SourceGroup {
	if g == nil {
		return nil
	}
	out := *g
	if g.SourceIDs != nil {
		out.SourceIDs = make([]SourceID, len(g.SourceIDs))
		copy(out.SourceIDs, g.SourceIDs)
	}
	if g.Sources != nil {
		out.Sources = make([]*Source, len(g.Sources))
		for i, s := range g.Sources {
			out.Sources[i] = s.Clone()
		}
	}
	return &out
}

// CreateGroupInput is the payload for creating a source group.
type CreateGroupInput struct {
	Name      string     `json:"name" validate:"required,min=1,max=100"`
	SourceIDs []SourceID `json:"source_ids" validate:"omitempty,dive,required"`
}

// GroupPatch carries the writable fields of a group.
type GroupPatch struct {
	Name      *string     `json:"name,omitempty" validate:"omitempty,min=1,max=100"`
	SourceIDs *[]SourceID `json:"source_ids,omitempty"`
}

// IsZero reports whether the patch changes nothing.
func (p GroupPatch) IsZero() bool {
	return p.Name == nil && p.SourceIDs == nil
}

// Apply writes the patch onto the group in place. Expanded Sources are
// dropped when membership changes; the next detail fetch rebuilds them.
func (g *SourceGroup) Apply(p GroupPatch, now time.Time) {
	if p.Name != nil {
		g.Name = *p.Name
	}
	if p.SourceIDs != nil {
		g.SourceIDs = make([]SourceID, len(*p.SourceIDs))
		copy(g.SourceIDs, *p.SourceIDs)
		g.Sources = nil
	}
	g.UpdatedAt = now
}
