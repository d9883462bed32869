package models

import "time"

// EntryStatus is the lifecycle state of a QueueEntry.
type EntryStatus string

const (
	StatusPending EntryStatus = "pending"
	StatusSent    EntryStatus = "sent"
	StatusFailed  EntryStatus = "failed"
)

// Terminal reports whether no further mutation of the entry is allowed.
func (s EntryStatus) Terminal() bool {
	switch s {
	case StatusSent, StatusFailed:
		return true
	case StatusPending:
		return false
	}
	return false
}

// QueueEntry is one deferred outbound action in the send queue.
//
// Status only ever moves pending -> sent or pending -> failed. A failed
// entry is never flipped back to pending in place; callers re-insert a
// fresh pending entry so the failed row stays as an audit record.
type QueueEntry struct {
	ID        uint `gorm:"primarykey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	OwnerAccountID string      `gorm:"index;size:64"`
	Channel        Channel     `gorm:"index:idx_due,priority:3;size:32"`
	Payload        string      `gorm:"type:text"`
	Priority       int         `gorm:"index:idx_due,priority:2"`
	ScheduledAt    time.Time   `gorm:"index:idx_due,priority:1"`
	Status         EntryStatus `gorm:"index;size:16;default:pending"`
	Attempts       int
	// DedupeKey is derived from the originating event's identity; the
	// unique index collapses reprocessing of the same event onto one entry.
	DedupeKey string `gorm:"uniqueIndex;size:64"`
	// LastError holds the upstream error for failed entries.
	LastError string `gorm:"size:512"`
}
