package domain

import (
	"time"
)

// QueueItemID represents the unique identifier for a reading queue entry.
type QueueItemID string

// QueueItem is one saved newsletter in the user's reading queue. Position
// is the zero-based slot; the queue is always held sorted by it.
type QueueItem struct {
	ID           QueueItemID  `json:"id"`
	UserID       string       `json:"user_id"`
	NewsletterID NewsletterID `json:"newsletter_id"`
	Position     int          `json:"position"`
	AddedAt      time.Time    `json:"added_at"`
	Newsletter   *Newsletter  `json:"newsletter,omitempty"`
}

// Clone returns a deep copy of the queue item.
func (q *QueueItem) Clone() *QueueItem {
	if q == nil {
		return nil
	}
	out := *q
	out.Newsletter = q.Newsletter.Clone()
	return &out
}
