package domain

// UnreadCounts is the unread aggregate shown in the sidebar: one total plus
// a per-source breakdown.
type UnreadCounts struct {
	Total    int              `json:"total"`
	BySource map[SourceID]int `json:"by_source"`
}

// NewUnreadCounts returns an empty aggregate with its map allocated.
func NewUnreadCounts() *UnreadCounts {
	return &UnreadCounts{BySource: make(map[SourceID]int)}
}

// Clone returns a deep copy of the aggregate.
func (u *UnreadCounts) Clone() *UnreadCounts {
	if u == nil {
		return nil
	}
	out := &UnreadCounts{Total: u.Total, BySource: make(map[SourceID]int, len(u.BySource))}
	for k, v := range u.BySource {
		out.BySource[k] = v
	}
	return out
}

// UnreadDelta is the aggregate adjustment a mutation produces, computed
// against the record state captured before the optimistic write. Values are
// signed: marking read yields -1, marking unread +1.
type UnreadDelta struct {
	Total    int
	BySource map[SourceID]int
}

// IsZero reports whether the delta adjusts nothing.
func (d UnreadDelta) IsZero() bool {
	if d.Total != 0 {
		return false
	}
	for _, v := range d.BySource {
		if v != 0 {
			return false
		}
	}
	return true
}

// Add merges another delta into this one.
func (d *UnreadDelta) Add(other UnreadDelta) {
	d.Total += other.Total
	if other.BySource == nil {
		return
	}
	if d.BySource == nil {
		d.BySource = make(map[SourceID]int, len(other.BySource))
	}
	for k, v := range other.BySource {
		d.BySource[k] += v
	}
}

// Negate returns the delta with every adjustment reversed, used when a
// failed mutation rolls back.
func (d UnreadDelta) Negate() UnreadDelta {
	out := UnreadDelta{Total: -d.Total}
	if d.BySource != nil {
		out.BySource = make(map[SourceID]int, len(d.BySource))
		for k, v := range d.BySource {
			out.BySource[k] = -v
		}
	}
	return out
}

// ApplyDelta adjusts the aggregate in place. Counts clamp at zero: the
// aggregate is a display hint that the next confirmed fetch replaces, and
// a negative badge is never right.
func (u *UnreadCounts) ApplyDelta(d UnreadDelta) {
	u.Total += d.Total
	if u.Total < 0 {
		u.Total = 0
	}
	if len(d.BySource) == 0 {
		return
	}
	if u.BySource == nil {
		u.BySource = make(map[SourceID]int, len(d.BySource))
	}
	for k, v := range d.BySource {
		next := u.BySource[k] + v
		if next < 0 {
			next = 0
		}
		u.BySource[k] = next
	}
}

// ReadStateDelta computes the unread adjustment for a single newsletter
// moving from the before state to the after state. Archived newsletters do
// not count toward unread badges, so archiving an unread item also yields
// a negative delta.
func ReadStateDelta(before, after *Newsletter) UnreadDelta {
	if before == nil || after == nil {
		return UnreadDelta{}
	}
	was := countsAsUnread(before)
	is := countsAsUnread(after)
	if was == is {
		return UnreadDelta{}
	}
	step := -1
	if is {
		step = 1
	}
	return UnreadDelta{
		Total:    step,
		BySource: map[SourceID]int{after.SourceID: step},
	}
}

func countsAsUnread(n *Newsletter) bool {
	return !n.IsRead && !n.IsArchived
}
