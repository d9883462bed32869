package service

import (
	"time"

	"github.com/redis/go-redis/v9"

	"replyflow/internal/batch"
	"replyflow/internal/config"
	"replyflow/internal/delivery"
	"replyflow/internal/ingest"
	"replyflow/internal/logger"
	"replyflow/internal/quota"
	"replyflow/internal/rules"
	"replyflow/internal/scheduler"
	"replyflow/internal/storage"
)

var (
	globalConfig *config.Config

	queueRepository   *storage.QueueRepository
	pendingRepository *storage.PendingEventRepository
	windowRepository  *storage.RateWindowRepository
	planRepository    *storage.PlanRepository
	ruleRepository    *storage.RuleRepository

	ledger         *quota.Ledger
	eventProcessor *ingest.Processor
	eventIngestor  *ingest.Ingestor
	queueScheduler *scheduler.Scheduler
	batchDrainer   *batch.Drainer
)

// Initialize initializes the service with configuration
func Initialize(cfg *config.Config) {
	globalConfig = cfg
}

// InitRepositories initializes repositories and the pipeline components
// over the shared database connection.
func InitRepositories() {
	if storage.DB == nil {
		logger.Warningf("database connection not initialized, pipeline disabled")
		return
	}

	queueRepository = storage.NewQueueRepository(storage.DB)
	if err := queueRepository.MigrateTable(); err != nil {
		logger.Warningf("Error migrating QueueEntry table: %v", err)
	}
	pendingRepository = storage.NewPendingEventRepository(storage.DB)
	if err := pendingRepository.MigrateTable(); err != nil {
		logger.Warningf("Error migrating PendingEvent table: %v", err)
	}
	windowRepository = storage.NewRateWindowRepository(storage.DB)
	if err := windowRepository.MigrateTable(); err != nil {
		logger.Warningf("Error migrating RateWindowCounter table: %v", err)
	}
	planRepository = storage.NewPlanRepository(storage.DB)
	if err := planRepository.MigrateTable(); err != nil {
		logger.Warningf("Error migrating AccountPlan table: %v", err)
	}
	ruleRepository = storage.NewRuleRepository(storage.DB)
	if err := ruleRepository.MigrateTable(); err != nil {
		logger.Warningf("Error migrating AutomationRule table: %v", err)
	}

	cfg := globalConfig

	var policies quota.PolicyProvider = quota.NewPlanPolicyProvider(planRepository, cfg.Plans)
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		policies = quota.NewCachedPolicyProvider(policies, rdb, time.Minute)
		logger.Infof("policy cache enabled at %s", cfg.Redis.Addr)
	}

	ledger = quota.NewLedger(windowRepository, policies)

	client := delivery.NewHTTPClient(cfg.Pipeline.PlatformAPIBase, cfg.Pipeline.DeliveryTimeout)
	resolver := rules.NewDBResolver(ruleRepository)

	eventProcessor = ingest.NewProcessor(resolver, queueRepository, planRepository, ledger, client,
		cfg.Pipeline.RescheduleJitter, cfg.Pipeline.DeliveryTimeout)
	eventIngestor = ingest.NewIngestor(eventProcessor, pendingRepository, cfg.Pipeline.InlineThreshold)
	queueScheduler = scheduler.NewScheduler(queueRepository, planRepository, ledger, client,
		cfg.Pipeline.SchedulerBatchSize, cfg.Pipeline.RescheduleJitter, cfg.Pipeline.DeliveryTimeout)
	batchDrainer = batch.NewDrainer(pendingRepository, eventProcessor,
		cfg.Pipeline.DrainerFetchCap, cfg.Pipeline.DrainerSubBatch, cfg.Pipeline.DrainerPause)
}

// Ingestor returns the event ingestor
func Ingestor() *ingest.Ingestor {
	return eventIngestor
}

// Scheduler returns the queue scheduler
func Scheduler() *scheduler.Scheduler {
	return queueScheduler
}

// Drainer returns the batch drainer
func Drainer() *batch.Drainer {
	return batchDrainer
}

// QueueRepository returns the send queue repository
func QueueRepository() *storage.QueueRepository {
	return queueRepository
}
