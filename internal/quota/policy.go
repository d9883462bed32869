package quota

import (
	"context"
	"fmt"
	"time"

	"replyflow/internal/config"
	"replyflow/internal/models"
	"replyflow/internal/storage"
)

// Policy is the resolved set of send limits for one account. Channels are
// limited independently: exhausting one never blocks the other.
type Policy struct {
	DirectMessagesPerHour  int `json:"direct_messages_per_hour"`
	DirectMessagesPerMonth int `json:"direct_messages_per_month"`
	CommentRepliesPerHour  int `json:"comment_replies_per_hour"`
	CommentRepliesPerMonth int `json:"comment_replies_per_month"`
}

// HourlyLimit returns the per-hour ceiling for the channel.
func (p Policy) HourlyLimit(channel models.Channel) int {
	switch channel {
	case models.ChannelCommentReply:
		return p.CommentRepliesPerHour
	default:
		return p.DirectMessagesPerHour
	}
}

// MonthlyLimit returns the per-month ceiling for the channel.
func (p Policy) MonthlyLimit(channel models.Channel) int {
	switch channel {
	case models.ChannelCommentReply:
		return p.CommentRepliesPerMonth
	default:
		return p.DirectMessagesPerMonth
	}
}

// PolicyProvider resolves the quota policy for an account.
type PolicyProvider interface {
	PolicyFor(ctx context.Context, accountID string) (Policy, error)
}

// PlanPolicyProvider resolves policies from the configured plan tiers and
// the AccountPlan table, applying any active promotional boost. Accounts
// without a plan row fall back to the default tier.
type PlanPolicyProvider struct {
	plans *storage.PlanRepository
	cfg   config.PlansConfig
}

// NewPlanPolicyProvider creates a PlanPolicyProvider
func NewPlanPolicyProvider(plans *storage.PlanRepository, cfg config.PlansConfig) *PlanPolicyProvider {
	return &PlanPolicyProvider{plans: plans, cfg: cfg}
}

// PolicyFor implements PolicyProvider.
func (p *PlanPolicyProvider) PolicyFor(ctx context.Context, accountID string) (Policy, error) {
	tier := p.cfg.DefaultTier
	var plan *models.AccountPlan
	if p.plans != nil {
		var err error
		plan, err = p.plans.GetPlan(accountID)
		if err != nil {
			return Policy{}, fmt.Errorf("resolve plan for %s: %w", accountID, err)
		}
		if plan != nil && plan.Tier != "" {
			tier = plan.Tier
		}
	}

	limits, ok := p.cfg.Tiers[tier]
	if !ok {
		limits, ok = p.cfg.Tiers[p.cfg.DefaultTier]
		if !ok {
			return Policy{}, fmt.Errorf("no quota tier configured for %q", tier)
		}
	}

	policy := Policy{
		DirectMessagesPerHour:  limits.DirectMessagesPerHour,
		DirectMessagesPerMonth: limits.DirectMessagesPerMonth,
		CommentRepliesPerHour:  limits.CommentRepliesPerHour,
		CommentRepliesPerMonth: limits.CommentRepliesPerMonth,
	}

	if plan != nil && plan.BoostActive(time.Now()) && plan.BoostedMonthlyDM > policy.DirectMessagesPerMonth {
		policy.DirectMessagesPerMonth = plan.BoostedMonthlyDM
	}

	return policy, nil
}
