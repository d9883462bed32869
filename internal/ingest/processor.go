package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"replyflow/internal/delivery"
	"replyflow/internal/logger"
	"replyflow/internal/models"
	"replyflow/internal/quota"
	"replyflow/internal/rules"
	"replyflow/internal/storage"
)

// Processor is the single processing path for platform events: it resolves
// the matching automation and turns it into send-queue writes or immediate
// comment replies. Both the inline ingest path and the batch drainer feed
// through here.
type Processor struct {
	resolver rules.Resolver
	queue    *storage.QueueRepository
	plans    *storage.PlanRepository
	ledger   *quota.Ledger
	client   delivery.Client

	// spreadWindow jitters new direct-message entries over time instead
	// of scheduling everything at once.
	spreadWindow    time.Duration
	deliveryTimeout time.Duration
	now             func() time.Time
}

// NewProcessor creates a Processor
func NewProcessor(resolver rules.Resolver, queue *storage.QueueRepository, plans *storage.PlanRepository,
	ledger *quota.Ledger, client delivery.Client, spreadWindow, deliveryTimeout time.Duration) *Processor {
	if spreadWindow <= 0 {
		spreadWindow = 5 * time.Minute
	}
	if deliveryTimeout <= 0 {
		deliveryTimeout = 10 * time.Second
	}
	return &Processor{
		resolver:        resolver,
		queue:           queue,
		plans:           plans,
		ledger:          ledger,
		client:          client,
		spreadWindow:    spreadWindow,
		deliveryTimeout: deliveryTimeout,
		now:             time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (p *Processor) SetClock(now func() time.Time) { p.now = now }

// HandleEvent resolves and applies the automation for one event. Direct
// messages are always deferred through the send queue; comment replies are
// attempted synchronously and fall back to the queue on quota denial.
func (p *Processor) HandleEvent(ctx context.Context, event models.PlatformEvent) error {
	actions, err := p.resolver.Resolve(ctx, event)
	if err != nil {
		return fmt.Errorf("resolve automation for account %s: %w", event.OwnerAccountID, err)
	}

	for _, action := range actions {
		switch a := action.(type) {
		case rules.SendDirectMessage:
			if err := p.enqueueDirectMessage(event, a); err != nil {
				return err
			}
		case rules.ReplyToComment:
			if err := p.replyToComment(ctx, event, a); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unhandled action type %T", action)
		}
	}

	return nil
}

func (p *Processor) enqueueDirectMessage(event models.PlatformEvent, a rules.SendDirectMessage) error {
	payload, err := models.EncodeDirectMessage(a.RecipientID, a.Message)
	if err != nil {
		return err
	}

	entry := &models.QueueEntry{
		OwnerAccountID: event.OwnerAccountID,
		Channel:        models.ChannelDirectMessage,
		Payload:        payload,
		Priority:       a.Priority,
		ScheduledAt:    p.now().Add(p.spreadDelay()),
		Status:         models.StatusPending,
		DedupeKey:      dedupeKey(event, models.ChannelDirectMessage),
	}
	created, err := p.queue.CreateIfAbsent(entry)
	if err != nil {
		return fmt.Errorf("enqueue direct message for %s: %w", event.OwnerAccountID, err)
	}
	if !created {
		logger.Debugf("direct message for account %s already queued, skipping", event.OwnerAccountID)
		return nil
	}
	logger.Debugf("queued direct message entry %d for account %s", entry.ID, event.OwnerAccountID)
	return nil
}

// replyToComment dispatches a comment reply inline. Quota denial defers it
// to the send queue; a delivery failure is returned to the caller, which
// the inline path logs and drops while the drain path leaves the row
// unprocessed for the next run.
func (p *Processor) replyToComment(ctx context.Context, event models.PlatformEvent, a rules.ReplyToComment) error {
	accountID := event.OwnerAccountID
	now := p.now()
	err := p.ledger.Authorize(ctx, accountID, models.ChannelCommentReply, now)
	if errors.Is(err, quota.ErrQuotaExceeded) {
		logger.Infof("comment reply for account %s deferred: %v", accountID, err)
		return p.enqueueCommentReply(event, a, models.NextHourStart(now))
	}
	if err != nil {
		return err
	}

	token, err := p.accessToken(accountID)
	if err != nil {
		return err
	}

	// Count the send before dispatching: if we crash in between, quota can
	// only over-count, never under-count. A failed dispatch burns the slot.
	if _, err := p.ledger.Increment(accountID, models.ChannelCommentReply, now); err != nil {
		return fmt.Errorf("record comment reply send for %s: %w", accountID, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.deliveryTimeout)
	defer cancel()
	if err := p.client.PostCommentReply(callCtx, token, a.CommentID, a.Reply); err != nil {
		return fmt.Errorf("comment reply for account %s comment %s: %w", accountID, a.CommentID, err)
	}
	return nil
}

func (p *Processor) enqueueCommentReply(event models.PlatformEvent, a rules.ReplyToComment, at time.Time) error {
	payload, err := models.EncodeCommentReply(a.CommentID, a.Reply)
	if err != nil {
		return err
	}

	entry := &models.QueueEntry{
		OwnerAccountID: event.OwnerAccountID,
		Channel:        models.ChannelCommentReply,
		Payload:        payload,
		Priority:       a.Priority,
		ScheduledAt:    at,
		Status:         models.StatusPending,
		DedupeKey:      dedupeKey(event, models.ChannelCommentReply),
	}
	created, err := p.queue.CreateIfAbsent(entry)
	if err != nil {
		return fmt.Errorf("enqueue comment reply for %s: %w", event.OwnerAccountID, err)
	}
	if !created {
		logger.Debugf("comment reply for account %s already queued, skipping", event.OwnerAccountID)
	}
	return nil
}

func (p *Processor) accessToken(accountID string) (string, error) {
	plan, err := p.plans.GetPlan(accountID)
	if err != nil {
		return "", fmt.Errorf("look up access token for %s: %w", accountID, err)
	}
	if plan == nil || plan.AccessToken == "" {
		return "", fmt.Errorf("no access token on record for account %s", accountID)
	}
	return plan.AccessToken, nil
}

// dedupeKey derives a stable identity for one outbound action from the
// event that produced it. Reprocessing the same event, for example when a
// drain run replays rows it could not mark processed, lands on the existing
// queue entry instead of inserting a second one.
func dedupeKey(event models.PlatformEvent, channel models.Channel) string {
	h := sha256.New()
	for _, part := range []string{
		event.OwnerAccountID, string(event.Type), event.SenderID, event.CommentID, event.Text, string(channel),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (p *Processor) spreadDelay() time.Duration {
	if p.spreadWindow <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(p.spreadWindow)))
}
