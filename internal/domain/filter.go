package domain

// NewsletterFilter narrows newsletter list queries. The zero value means
// "everything". Pointer fields distinguish "unset" from "explicitly false";
// query keys normalize unset fields away so equivalent filters collide on
// the same cache entry.
type NewsletterFilter struct {
	IsRead     *bool      `json:"is_read,omitempty"`
	IsArchived *bool      `json:"is_archived,omitempty"`
	IsLiked    *bool      `json:"is_liked,omitempty"`
	SourceIDs  []SourceID `json:"source_ids,omitempty"`
	TagIDs     []TagID    `json:"tag_ids,omitempty"`
	GroupID    GroupID    `json:"group_id,omitempty"`
	Search     string     `json:"search,omitempty"`
	OrderBy    string     `json:"order_by,omitempty"` // defaults to received_at
	Ascending  bool       `json:"ascending,omitempty"`
	Page       int        `json:"page,omitempty"`
	PageSize   int        `json:"page_size,omitempty"`
}

// Clone returns a deep copy of the filter.
func (f NewsletterFilter) Clone() NewsletterFilter {
	out := f
	if f.IsRead != nil {
		v := *f.IsRead
		out.IsRead = &v
	}
	if f.IsArchived != nil {
		v := *f.IsArchived
		out.IsArchived = &v
	}
	if f.IsLiked != nil {
		v := *f.IsLiked
		out.IsLiked = &v
	}
	if f.SourceIDs != nil {
		out.SourceIDs = make([]SourceID, len(f.SourceIDs))
		copy(out.SourceIDs, f.SourceIDs)
	}
	if f.TagIDs != nil {
		out.TagIDs = make([]TagID, len(f.TagIDs))
		copy(out.TagIDs, f.TagIDs)
	}
	return out
}

// Matches reports whether the newsletter satisfies every set field of the
// filter. Search and pagination are backend concerns and are ignored here;
// the cache uses Matches only to decide which cached lists a record change
// touches.
func (f NewsletterFilter) Matches(n *Newsletter) bool {
	if n == nil {
		return false
	}
	if f.IsRead != nil && n.IsRead != *f.IsRead {
		return false
	}
	if f.IsArchived != nil && n.IsArchived != *f.IsArchived {
		return false
	}
	if f.IsLiked != nil && n.IsLiked != *f.IsLiked {
		return false
	}
	if len(f.SourceIDs) > 0 && !containsSource(f.SourceIDs, n.SourceID) {
		return false
	}
	if len(f.TagIDs) > 0 && !hasAnyTag(n.Tags, f.TagIDs) {
		return false
	}
	return true
}

func containsSource(ids []SourceID, id SourceID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func hasAnyTag(tags []Tag, wanted []TagID) bool {
	for _, t := range tags {
		for _, id := range wanted {
			if t.ID == id {
				return true
			}
		}
	}
	return false
}

// NewsletterPage is one page of a newsletter list as the backend returns
// it, cached whole under its query key.
type NewsletterPage struct {
	Items    []*Newsletter `json:"items"`
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
	HasMore  bool          `json:"has_more"`
}

// Clone returns a deep copy of the page.
func (p *NewsletterPage) Clone() *NewsletterPage {
	if p == nil {
		return nil
	}
	out := *p
	if p.Items != nil {
		out.Items = make([]*Newsletter, len(p.Items))
		for i, n := range p.Items {
			out.Items[i] = n.Clone()
		}
	}
	return &out
}
