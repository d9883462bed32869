package rules

import (
	"context"
	"strings"

	"replyflow/internal/models"
	"replyflow/internal/storage"
)

// Action is one automated reaction produced by rule resolution. The
// concrete type decides the delivery channel, so adding a channel means
// adding a type and every switch site stops compiling until handled.
type Action interface {
	Channel() models.Channel
}

// SendDirectMessage queues a direct message to the event's sender.
type SendDirectMessage struct {
	RecipientID string
	Message     string
	Priority    int
}

func (SendDirectMessage) Channel() models.Channel { return models.ChannelDirectMessage }

// ReplyToComment replies to the comment that triggered the event.
type ReplyToComment struct {
	CommentID string
	Reply     string
	Priority  int
}

func (ReplyToComment) Channel() models.Channel { return models.ChannelCommentReply }

// Resolver maps a platform event to zero or more automated reactions.
type Resolver interface {
	Resolve(ctx context.Context, event models.PlatformEvent) ([]Action, error)
}

// DBResolver resolves actions from the account's AutomationRule rows.
type DBResolver struct {
	rules *storage.RuleRepository
}

// NewDBResolver creates a DBResolver
func NewDBResolver(rules *storage.RuleRepository) *DBResolver {
	return &DBResolver{rules: rules}
}

// Resolve implements Resolver. The first matching rule wins; rules are
// already ordered by priority.
func (r *DBResolver) Resolve(ctx context.Context, event models.PlatformEvent) ([]Action, error) {
	accountRules, err := r.rules.GetEnabledRules(event.OwnerAccountID)
	if err != nil {
		return nil, err
	}

	for _, rule := range accountRules {
		if !ruleMatches(rule, event) {
			continue
		}

		var actions []Action
		if rule.DMText != "" && event.SenderID != "" {
			actions = append(actions, SendDirectMessage{
				RecipientID: event.SenderID,
				Message:     rule.DMText,
				Priority:    rule.Priority,
			})
		}
		if rule.ReplyText != "" && event.Type == models.EventComment && event.CommentID != "" {
			actions = append(actions, ReplyToComment{
				CommentID: event.CommentID,
				Reply:     rule.ReplyText,
				Priority:  rule.Priority,
			})
		}
		return actions, nil
	}

	return nil, nil
}

func ruleMatches(rule models.AutomationRule, event models.PlatformEvent) bool {
	if rule.EventTypes != "" {
		matched := false
		for _, t := range strings.Split(rule.EventTypes, ",") {
			if models.EventType(strings.TrimSpace(t)) == event.Type {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if rule.Keyword == "" {
		return true
	}
	return strings.Contains(strings.ToLower(event.Text), strings.ToLower(rule.Keyword))
}
