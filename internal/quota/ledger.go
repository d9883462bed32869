package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"replyflow/internal/models"
	"replyflow/internal/storage"
)

// ErrQuotaExceeded marks a quota denial. It is control flow, not failure:
// callers reschedule the work instead of failing it.
var ErrQuotaExceeded = errors.New("quota exceeded")

// Usage is a point-in-time view of one account's consumption on a channel.
type Usage struct {
	HourlyUsed  int
	MonthlyUsed int
}

// Ledger tracks per-account, per-channel send counts against hour and
// calendar-month windows. All state lives in durable counter rows so any
// number of worker instances can consult it concurrently.
type Ledger struct {
	windows  *storage.RateWindowRepository
	policies PolicyProvider
}

// NewLedger creates a Ledger over the counter table and policy source.
func NewLedger(windows *storage.RateWindowRepository, policies PolicyProvider) *Ledger {
	return &Ledger{windows: windows, policies: policies}
}

// Peek returns current usage without mutating any state.
func (l *Ledger) Peek(accountID string, channel models.Channel, now time.Time) (Usage, error) {
	hourly, err := l.windows.HourlyUsed(accountID, channel, now)
	if err != nil {
		return Usage{}, fmt.Errorf("peek hourly usage: %w", err)
	}
	monthly, err := l.windows.MonthlyUsed(accountID, channel, now)
	if err != nil {
		return Usage{}, fmt.Errorf("peek monthly usage: %w", err)
	}
	return Usage{HourlyUsed: hourly, MonthlyUsed: monthly}, nil
}

// Increment records one completed send and returns the new hourly count.
// Atomic at the storage layer; safe under concurrent schedulers.
func (l *Ledger) Increment(accountID string, channel models.Channel, now time.Time) (int, error) {
	return l.windows.Increment(accountID, channel, now)
}

// Authorize checks whether one more send on the channel is allowed right
// now. The monthly window is evaluated first and a monthly denial skips
// the hourly lookup entirely: rejection has no side effects.
func (l *Ledger) Authorize(ctx context.Context, accountID string, channel models.Channel, now time.Time) error {
	policy, err := l.policies.PolicyFor(ctx, accountID)
	if err != nil {
		return fmt.Errorf("resolve quota policy: %w", err)
	}

	monthly, err := l.windows.MonthlyUsed(accountID, channel, now)
	if err != nil {
		return fmt.Errorf("read monthly usage: %w", err)
	}
	if monthly >= policy.MonthlyLimit(channel) {
		return fmt.Errorf("%w: monthly window for %s/%s (%d/%d)",
			ErrQuotaExceeded, accountID, channel, monthly, policy.MonthlyLimit(channel))
	}

	hourly, err := l.windows.HourlyUsed(accountID, channel, now)
	if err != nil {
		return fmt.Errorf("read hourly usage: %w", err)
	}
	if hourly >= policy.HourlyLimit(channel) {
		return fmt.Errorf("%w: hourly window for %s/%s (%d/%d)",
			ErrQuotaExceeded, accountID, channel, hourly, policy.HourlyLimit(channel))
	}

	return nil
}
