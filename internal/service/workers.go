package service

import (
	"context"
	"time"

	"replyflow/internal/crash"
	"replyflow/internal/logger"
)

// StartWorkers launches the periodic in-process workers: the queue
// scheduler, the batch drainer and the retention sweep. The HTTP trigger
// endpoints drive the same components; overlapping invocations are safe
// because every mutation is status guarded.
func StartWorkers(ctx context.Context) {
	if queueScheduler == nil || batchDrainer == nil {
		logger.Warningf("pipeline not initialized, workers not started")
		return
	}

	cfg := globalConfig

	crash.SafeGoroutine("queue-scheduler", func() {
		ticker := time.NewTicker(cfg.Pipeline.SchedulerInterval)
		defer ticker.Stop()
		logger.Infof("queue scheduler running every %v", cfg.Pipeline.SchedulerInterval)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runCtx, cancel := context.WithTimeout(ctx, cfg.Pipeline.SchedulerBudget)
				stats, err := queueScheduler.RunOnce(runCtx)
				cancel()
				if err != nil {
					logger.Errorf("scheduler run failed: %v", err)
					continue
				}
				if stats.Examined > 0 {
					logger.Infof("scheduler run: examined=%d sent=%d failed=%d rescheduled=%d",
						stats.Examined, stats.Sent, stats.Failed, stats.Rescheduled)
				}
			}
		}
	})

	crash.SafeGoroutine("batch-drainer", func() {
		ticker := time.NewTicker(cfg.Pipeline.DrainerInterval)
		defer ticker.Stop()
		logger.Infof("batch drainer running every %v", cfg.Pipeline.DrainerInterval)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runCtx, cancel := context.WithTimeout(ctx, cfg.Pipeline.DrainerBudget)
				stats, err := batchDrainer.RunOnce(runCtx)
				cancel()
				if err != nil {
					logger.Errorf("drainer run failed: %v", err)
					continue
				}
				if stats.Fetched > 0 {
					logger.Infof("drainer run: fetched=%d processed=%d failed=%d",
						stats.Fetched, stats.Processed, stats.Failed)
				}
			}
		}
	})

	crash.SafeGoroutine("retention-sweep", func() {
		ticker := time.NewTicker(cfg.Pipeline.SweepInterval)
		defer ticker.Stop()
		logger.Infof("retention sweep running every %v", cfg.Pipeline.SweepInterval)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runRetentionSweep()
			}
		}
	})
}

// runRetentionSweep deletes terminal queue entries and processed events
// past their retention windows. Pending work is never touched.
func runRetentionSweep() {
	cfg := globalConfig
	now := time.Now()

	if queueRepository != nil {
		removed, err := queueRepository.DeleteTerminalBefore(now.Add(-cfg.Pipeline.QueueRetention))
		if err != nil {
			logger.Errorf("queue retention sweep failed: %v", err)
		} else if removed > 0 {
			logger.Infof("retention sweep removed %d terminal queue entries", removed)
		}
	}

	if pendingRepository != nil {
		removed, err := pendingRepository.DeleteProcessedBefore(now.Add(-cfg.Pipeline.EventRetention))
		if err != nil {
			logger.Errorf("event retention sweep failed: %v", err)
		} else if removed > 0 {
			logger.Infof("retention sweep removed %d processed events", removed)
		}
	}
}
