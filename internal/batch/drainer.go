package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sourcegraph/conc"
	"golang.org/x/time/rate"

	"replyflow/internal/ingest"
	"replyflow/internal/logger"
	"replyflow/internal/models"
	"replyflow/internal/storage"
)

// Stats summarizes one drain run.
type Stats struct {
	Fetched   int
	Processed int
	Failed    int
}

// Drainer pulls parked events out of the holding area and feeds them
// through the same processing path as inline events. One run fetches at
// most fetchCap rows, works through them in fixed-size sub-batches with
// full internal concurrency, and paces sub-batches against the limiter so
// catch-up bursts do not hammer the upstream platform.
type Drainer struct {
	pending   *storage.PendingEventRepository
	processor *ingest.Processor

	fetchCap int
	subBatch int
	pace     *rate.Limiter
	now      func() time.Time
}

// NewDrainer creates a Drainer. pause is the deliberate spacing between
// sub-batches.
func NewDrainer(pending *storage.PendingEventRepository, processor *ingest.Processor,
	fetchCap, subBatch int, pause time.Duration) *Drainer {
	if fetchCap <= 0 {
		fetchCap = 2000
	}
	if subBatch <= 0 {
		subBatch = 25
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if pause > 0 {
		limiter = rate.NewLimiter(rate.Every(pause), 1)
	}
	return &Drainer{
		pending:   pending,
		processor: processor,
		fetchCap:  fetchCap,
		subBatch:  subBatch,
		pace:      limiter,
		now:       time.Now,
	}
}

// RunOnce drains one capped batch of unprocessed events. Rows are marked
// processed individually on success, so a partial sub-batch failure never
// holds back its siblings and a re-run only picks up what is still
// unprocessed. Context expiry abandons the remainder mid-run; leftover
// rows are picked up by the next invocation.
func (d *Drainer) RunOnce(ctx context.Context) (Stats, error) {
	var stats Stats

	events, err := d.pending.FindUnprocessed(d.fetchCap)
	if err != nil {
		return stats, fmt.Errorf("fetch unprocessed events: %w", err)
	}
	stats.Fetched = len(events)

	for start := 0; start < len(events); start += d.subBatch {
		if err := d.pace.Wait(ctx); err != nil {
			logger.Warningf("drain budget exhausted after %d events, abandoning run", stats.Processed+stats.Failed)
			return stats, nil
		}

		end := start + d.subBatch
		if end > len(events) {
			end = len(events)
		}
		d.drainSubBatch(ctx, events[start:end], &stats)
	}

	return stats, nil
}

func (d *Drainer) drainSubBatch(ctx context.Context, rows []models.PendingEvent, stats *Stats) {
	type outcome struct{ ok bool }
	outcomes := make([]outcome, len(rows))

	var wg conc.WaitGroup
	for idx := range rows {
		i := idx
		row := rows[i]
		wg.Go(func() {
			if err := d.drainOne(ctx, row); err != nil {
				logger.Warningf("drain event %d (account %s): %v", row.ID, row.OwnerAccountID, err)
				return
			}
			outcomes[i].ok = true
		})
	}
	if r := wg.WaitAndRecover(); r != nil {
		logger.Errorf("drain sub-batch panicked: %v", r.Value)
	}

	for _, o := range outcomes {
		if o.ok {
			stats.Processed++
		} else {
			stats.Failed++
		}
	}
}

func (d *Drainer) drainOne(ctx context.Context, row models.PendingEvent) error {
	var event models.PlatformEvent
	if err := json.Unmarshal([]byte(row.Payload), &event); err != nil {
		return fmt.Errorf("decode parked event: %w", err)
	}

	if err := d.processor.HandleEvent(ctx, event); err != nil {
		return err
	}

	if err := d.pending.MarkProcessed(row.ID, d.now()); err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	return nil
}
