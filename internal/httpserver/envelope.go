package httpserver

import (
	"encoding/json"
	"fmt"

	"replyflow/internal/models"
)

// Envelope is the platform's webhook payload: one or more account entries,
// each carrying change records (comments, story replies) and messaging
// records (direct messages).
type Envelope struct {
	Object string          `json:"object"`
	Entry  []EnvelopeEntry `json:"entry"`
}

type EnvelopeEntry struct {
	ID        string           `json:"id"`
	Changes   []ChangeRecord   `json:"changes"`
	Messaging []MessagingEvent `json:"messaging"`
}

type ChangeRecord struct {
	Field string `json:"field"`
	Value struct {
		CommentID string `json:"comment_id"`
		SenderID  string `json:"sender_id"`
		Text      string `json:"text"`
	} `json:"value"`
}

type MessagingEvent struct {
	Sender struct {
		ID string `json:"id"`
	} `json:"sender"`
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
}

// ParseEnvelope decodes the raw webhook body and flattens it into platform
// events. Unknown change fields are skipped rather than rejected so new
// platform event kinds do not break intake.
func ParseEnvelope(body []byte) ([]models.PlatformEvent, error) {
	var envelope Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode webhook envelope: %w", err)
	}

	var events []models.PlatformEvent
	for _, entry := range envelope.Entry {
		for _, change := range entry.Changes {
			var eventType models.EventType
			switch change.Field {
			case "comments":
				eventType = models.EventComment
			case "story_replies":
				eventType = models.EventStoryReply
			default:
				continue
			}
			events = append(events, models.PlatformEvent{
				OwnerAccountID: entry.ID,
				Type:           eventType,
				SenderID:       change.Value.SenderID,
				CommentID:      change.Value.CommentID,
				Text:           change.Value.Text,
			})
		}
		for _, msg := range entry.Messaging {
			events = append(events, models.PlatformEvent{
				OwnerAccountID: entry.ID,
				Type:           models.EventMessage,
				SenderID:       msg.Sender.ID,
				Text:           msg.Message.Text,
			})
		}
	}

	return events, nil
}
