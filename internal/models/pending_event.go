package models

import "time"

// EventType classifies an inbound platform event.
type EventType string

const (
	EventComment    EventType = "comment"
	EventMessage    EventType = "message"
	EventStoryReply EventType = "story_reply"
)

// DefaultPriority orders deferred events: direct messages first, then
// comments, then story replies.
func (t EventType) DefaultPriority() int {
	switch t {
	case EventMessage:
		return 30
	case EventComment:
		return 20
	case EventStoryReply:
		return 10
	}
	return 0
}

// PendingEvent is a platform event parked for batched processing when a
// burst exceeds the inline threshold of a single ingestion call.
//
// Once Processed is true the row is immutable; a cleanup sweep deletes it
// after the audit window.
type PendingEvent struct {
	ID        uint `gorm:"primarykey"`
	CreatedAt time.Time

	OwnerAccountID string    `gorm:"index;size:64"`
	EventType      EventType `gorm:"size:32"`
	Payload        string    `gorm:"type:text"`
	Priority       int       `gorm:"index:idx_unprocessed,priority:2"`
	Processed      bool      `gorm:"index:idx_unprocessed,priority:1;default:false"`
	ProcessedAt    *time.Time
}
