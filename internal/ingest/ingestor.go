package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sourcegraph/conc"

	"replyflow/internal/logger"
	"replyflow/internal/models"
	"replyflow/internal/storage"
)

// Ingestor absorbs inbound platform events. Each ingestion call handles at
// most inlineThreshold events synchronously; everything past that in the
// same call is parked as PendingEvent rows for the batch drainer, so the
// worst-case inline latency of one call is bounded regardless of burst
// size. The threshold is per call, not global across concurrent calls.
type Ingestor struct {
	processor       *Processor
	pending         *storage.PendingEventRepository
	inlineThreshold int
}

// NewIngestor creates an Ingestor
func NewIngestor(processor *Processor, pending *storage.PendingEventRepository, inlineThreshold int) *Ingestor {
	if inlineThreshold <= 0 {
		inlineThreshold = 5
	}
	return &Ingestor{
		processor:       processor,
		pending:         pending,
		inlineThreshold: inlineThreshold,
	}
}

// Ingest routes each event either inline or to the holding area and
// returns how many went each way. Inline events run concurrently and each
// failure is logged without aborting siblings. A storage failure while
// parking an event aborts the call.
func (i *Ingestor) Ingest(ctx context.Context, events []models.PlatformEvent) (inline, deferred int, err error) {
	var wg conc.WaitGroup

	for _, event := range events {
		if inline < i.inlineThreshold {
			inline++
			ev := event
			wg.Go(func() {
				if err := i.processor.HandleEvent(ctx, ev); err != nil {
					logger.Warningf("inline event processing failed for account %s: %v", ev.OwnerAccountID, err)
				}
			})
			continue
		}

		if parkErr := i.park(event); parkErr != nil {
			// Wait for inline work before surfacing the storage failure.
			if r := wg.WaitAndRecover(); r != nil {
				logger.Errorf("inline event processing panicked: %v", r.Value)
			}
			return inline, deferred, parkErr
		}
		deferred++
	}

	if r := wg.WaitAndRecover(); r != nil {
		logger.Errorf("inline event processing panicked: %v", r.Value)
	}

	return inline, deferred, nil
}

func (i *Ingestor) park(event models.PlatformEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("serialize event for holding area: %w", err)
	}

	row := &models.PendingEvent{
		OwnerAccountID: event.OwnerAccountID,
		EventType:      event.Type,
		Payload:        string(payload),
		Priority:       event.Type.DefaultPriority(),
	}
	if err := i.pending.Create(row); err != nil {
		return fmt.Errorf("park event for account %s: %w", event.OwnerAccountID, err)
	}
	return nil
}
