package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"replyflow/internal/delivery"
	"replyflow/internal/logger"
	"replyflow/internal/models"
	"replyflow/internal/quota"
	"replyflow/internal/storage"
)

// Stats summarizes one scheduler run.
type Stats struct {
	Examined    int
	Sent        int
	Failed      int
	Rescheduled int
}

// Scheduler drains due send-queue entries against the quota ledger. Runs
// are safe to overlap: status-guarded updates keep concurrent instances
// from double-finishing an entry, and quota state is durable.
type Scheduler struct {
	queue  *storage.QueueRepository
	plans  *storage.PlanRepository
	ledger *quota.Ledger
	client delivery.Client

	batchSize        int
	rescheduleJitter time.Duration
	deliveryTimeout  time.Duration
	now              func() time.Time
}

// NewScheduler creates a Scheduler
func NewScheduler(queue *storage.QueueRepository, plans *storage.PlanRepository, ledger *quota.Ledger,
	client delivery.Client, batchSize int, rescheduleJitter, deliveryTimeout time.Duration) *Scheduler {
	if batchSize <= 0 {
		batchSize = 100
	}
	if deliveryTimeout <= 0 {
		deliveryTimeout = 10 * time.Second
	}
	return &Scheduler{
		queue:            queue,
		plans:            plans,
		ledger:           ledger,
		client:           client,
		batchSize:        batchSize,
		rescheduleJitter: rescheduleJitter,
		deliveryTimeout:  deliveryTimeout,
		now:              time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (s *Scheduler) SetClock(now func() time.Time) { s.now = now }

// RunOnce processes one bounded batch of due entries. The batch is split
// evenly across channels inside the same run so direct-message exhaustion
// can never starve comment replies or vice versa. Entry-level problems are
// isolated; a storage failure aborts the run, which simply retries whole
// on the next trigger.
func (s *Scheduler) RunOnce(ctx context.Context) (Stats, error) {
	var stats Stats
	now := s.now()
	perChannel := s.batchSize / len(models.Channels)
	if perChannel < 1 {
		perChannel = 1
	}

	for _, channel := range models.Channels {
		entries, err := s.queue.FindDue(channel, now, perChannel)
		if err != nil {
			return stats, fmt.Errorf("fetch due %s entries: %w", channel, err)
		}

		for idx := range entries {
			if ctx.Err() != nil {
				logger.Warningf("scheduler budget exhausted after %d entries, abandoning run", stats.Examined)
				return stats, nil
			}
			stats.Examined++
			s.processEntry(ctx, &entries[idx], now, &stats)
		}
	}

	return stats, nil
}

func (s *Scheduler) processEntry(ctx context.Context, entry *models.QueueEntry, now time.Time, stats *Stats) {
	err := s.ledger.Authorize(ctx, entry.OwnerAccountID, entry.Channel, now)
	if errors.Is(err, quota.ErrQuotaExceeded) {
		next := s.nextAttemptAt(now)
		if rescheduleErr := s.queue.Reschedule(entry.ID, next); rescheduleErr != nil {
			logger.Errorf("reschedule entry %d (account %s): %v", entry.ID, entry.OwnerAccountID, rescheduleErr)
			return
		}
		stats.Rescheduled++
		logger.Infof("entry %d (account %s) deferred to %s: %v", entry.ID, entry.OwnerAccountID, next.Format(time.RFC3339), err)
		return
	}
	if err != nil {
		logger.Errorf("quota check for entry %d (account %s): %v", entry.ID, entry.OwnerAccountID, err)
		return
	}

	if err := s.dispatch(ctx, entry); err != nil {
		if ok, markErr := s.queue.MarkFailed(entry.ID, err.Error()); markErr != nil {
			logger.Errorf("mark entry %d failed: %v", entry.ID, markErr)
		} else if ok {
			stats.Failed++
		}
		logger.Warningf("delivery failed for entry %d (account %s): %v", entry.ID, entry.OwnerAccountID, err)
		return
	}

	// Count the send before flipping status: if we crash in between, the
	// entry is retried and quota can only over-count, never under-count.
	if _, err := s.ledger.Increment(entry.OwnerAccountID, entry.Channel, now); err != nil {
		logger.Errorf("ledger increment for entry %d (account %s): %v", entry.ID, entry.OwnerAccountID, err)
	}
	if ok, err := s.queue.MarkSent(entry.ID); err != nil {
		logger.Errorf("mark entry %d sent: %v", entry.ID, err)
	} else if ok {
		stats.Sent++
	}
}

func (s *Scheduler) dispatch(ctx context.Context, entry *models.QueueEntry) error {
	plan, err := s.plans.GetPlan(entry.OwnerAccountID)
	if err != nil {
		return fmt.Errorf("look up access token: %w", err)
	}
	if plan == nil || plan.AccessToken == "" {
		return fmt.Errorf("no access token on record for account %s", entry.OwnerAccountID)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.deliveryTimeout)
	defer cancel()

	switch entry.Channel {
	case models.ChannelDirectMessage:
		payload, err := models.DecodeDirectMessage(entry.Payload)
		if err != nil {
			return err
		}
		return s.client.SendDirectMessage(callCtx, plan.AccessToken, payload.RecipientID, payload.Message)
	case models.ChannelCommentReply:
		payload, err := models.DecodeCommentReply(entry.Payload)
		if err != nil {
			return err
		}
		return s.client.PostCommentReply(callCtx, plan.AccessToken, payload.CommentID, payload.Reply)
	}
	return fmt.Errorf("unknown channel %q on entry %d", entry.Channel, entry.ID)
}

// nextAttemptAt lands in the next hourly window plus a bounded jitter so a
// thundering herd of rescheduled entries does not all come due at once.
// Never earlier than the window boundary itself.
func (s *Scheduler) nextAttemptAt(now time.Time) time.Time {
	next := models.NextHourStart(now)
	if s.rescheduleJitter > 0 {
		next = next.Add(time.Duration(rand.Int63n(int64(s.rescheduleJitter))))
	}
	return next
}
