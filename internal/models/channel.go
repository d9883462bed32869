package models

import (
	"encoding/json"
	"fmt"
)

// Channel identifies one of the independently rate-limited delivery types.
type Channel string

const (
	ChannelDirectMessage Channel = "direct_message"
	ChannelCommentReply  Channel = "comment_reply"
)

// Channels lists every known channel; schedulers iterate this so a new
// channel cannot be silently skipped.
var Channels = []Channel{ChannelDirectMessage, ChannelCommentReply}

func (c Channel) Valid() bool {
	switch c {
	case ChannelDirectMessage, ChannelCommentReply:
		return true
	}
	return false
}

// DirectMessagePayload is the payload shape for the direct_message channel.
type DirectMessagePayload struct {
	RecipientID string `json:"recipient_id"`
	Message     string `json:"message"`
}

// CommentReplyPayload is the payload shape for the comment_reply channel.
type CommentReplyPayload struct {
	CommentID string `json:"comment_id"`
	Reply     string `json:"reply"`
}

// EncodeDirectMessage builds the stored payload for a direct message entry.
func EncodeDirectMessage(recipientID, message string) (string, error) {
	data, err := json.Marshal(DirectMessagePayload{RecipientID: recipientID, Message: message})
	if err != nil {
		return "", fmt.Errorf("encode direct message payload: %w", err)
	}
	return string(data), nil
}

// EncodeCommentReply builds the stored payload for a comment reply entry.
func EncodeCommentReply(commentID, reply string) (string, error) {
	data, err := json.Marshal(CommentReplyPayload{CommentID: commentID, Reply: reply})
	if err != nil {
		return "", fmt.Errorf("encode comment reply payload: %w", err)
	}
	return string(data), nil
}

// DecodeDirectMessage parses a direct_message payload column.
func DecodeDirectMessage(raw string) (DirectMessagePayload, error) {
	var p DirectMessagePayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return p, fmt.Errorf("decode direct message payload: %w", err)
	}
	return p, nil
}

// DecodeCommentReply parses a comment_reply payload column.
func DecodeCommentReply(raw string) (CommentReplyPayload, error) {
	var p CommentReplyPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return p, fmt.Errorf("decode comment reply payload: %w", err)
	}
	return p, nil
}
