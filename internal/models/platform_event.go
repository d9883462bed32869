package models

// PlatformEvent is one inbound change/message record from the platform,
// already unwrapped from the webhook envelope. Not persisted directly;
// bursts are parked as PendingEvent rows carrying the serialized form.
type PlatformEvent struct {
	OwnerAccountID string    `json:"owner_account_id"`
	Type           EventType `json:"type"`
	// SenderID is the platform user who triggered the event; target for
	// any automated direct message.
	SenderID string `json:"sender_id"`
	// CommentID is set for comment events and targets automated replies.
	CommentID string `json:"comment_id,omitempty"`
	Text      string `json:"text"`
}
