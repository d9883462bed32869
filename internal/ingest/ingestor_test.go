package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"replyflow/internal/models"
	"replyflow/internal/quota"
	"replyflow/internal/rules"
	"replyflow/internal/storage"
)

type staticPolicies struct {
	policy quota.Policy
}

func (s staticPolicies) PolicyFor(ctx context.Context, accountID string) (quota.Policy, error) {
	return s.policy, nil
}

type fakeClient struct {
	mu         sync.Mutex
	dmCalls    int
	replyCalls int
	replyErr   error
}

func (f *fakeClient) SendDirectMessage(ctx context.Context, token, recipientID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dmCalls++
	return nil
}

func (f *fakeClient) PostCommentReply(ctx context.Context, token, commentID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replyCalls++
	return f.replyErr
}

type fixture struct {
	db        *gorm.DB
	queue     *storage.QueueRepository
	pending   *storage.PendingEventRepository
	windows   *storage.RateWindowRepository
	client    *fakeClient
	processor *Processor
	ingestor  *Ingestor
}

func setup(t *testing.T, policy quota.Policy, inlineThreshold int) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&models.QueueEntry{}, &models.PendingEvent{}, &models.RateWindowCounter{},
		&models.AccountPlan{}, &models.AutomationRule{},
	))

	queue := storage.NewQueueRepository(db)
	pendingRepo := storage.NewPendingEventRepository(db)
	plans := storage.NewPlanRepository(db)
	ruleRepo := storage.NewRuleRepository(db)

	require.NoError(t, plans.Upsert(&models.AccountPlan{
		OwnerAccountID: "acct",
		Tier:           "free",
		AccessToken:    "token-1",
	}))
	require.NoError(t, ruleRepo.Create(&models.AutomationRule{
		OwnerAccountID: "acct",
		Keyword:        "",
		DMText:         "thanks for reaching out",
		ReplyText:      "appreciate it!",
		Enabled:        true,
	}))

	windows := storage.NewRateWindowRepository(db)
	ledger := quota.NewLedger(windows, staticPolicies{policy: policy})
	client := &fakeClient{}
	resolver := rules.NewDBResolver(ruleRepo)

	processor := NewProcessor(resolver, queue, plans, ledger, client, time.Minute, time.Second)
	ingestor := NewIngestor(processor, pendingRepo, inlineThreshold)

	return &fixture{
		db: db, queue: queue, pending: pendingRepo, windows: windows,
		client: client, processor: processor, ingestor: ingestor,
	}
}

func messageEvents(n int) []models.PlatformEvent {
	events := make([]models.PlatformEvent, n)
	for i := range events {
		events[i] = models.PlatformEvent{
			OwnerAccountID: "acct",
			Type:           models.EventMessage,
			SenderID:       fmt.Sprintf("user-%d", i),
			Text:           "hello there",
		}
	}
	return events
}

func TestIngestBurstParksOverflow(t *testing.T) {
	f := setup(t, generousPolicy(), 5)

	// 10 inline-eligible plus 10 more in one call; only the threshold
	// count is handled synchronously
	inline, deferred, err := f.ingestor.Ingest(context.Background(), messageEvents(20))
	require.NoError(t, err)
	assert.Equal(t, 5, inline)
	assert.Equal(t, 15, deferred)

	var queued, parked int64
	require.NoError(t, f.db.Model(&models.QueueEntry{}).Count(&queued).Error)
	require.NoError(t, f.db.Model(&models.PendingEvent{}).Where("processed = ?", false).Count(&parked).Error)
	assert.Equal(t, int64(5), queued)
	assert.Equal(t, int64(15), parked)
}

func TestIngestBelowThresholdAllInline(t *testing.T) {
	f := setup(t, generousPolicy(), 5)

	inline, deferred, err := f.ingestor.Ingest(context.Background(), messageEvents(3))
	require.NoError(t, err)
	assert.Equal(t, 3, inline)
	assert.Equal(t, 0, deferred)

	var queued int64
	require.NoError(t, f.db.Model(&models.QueueEntry{}).Count(&queued).Error)
	assert.Equal(t, int64(3), queued)
}

func TestDirectMessagesAlwaysQueueNeverDispatchInline(t *testing.T) {
	f := setup(t, generousPolicy(), 5)

	_, _, err := f.ingestor.Ingest(context.Background(), messageEvents(2))
	require.NoError(t, err)

	// delivery happens later through the scheduler, never inline
	assert.Equal(t, 0, f.client.dmCalls)
}

func TestCommentRepliesDispatchInline(t *testing.T) {
	f := setup(t, generousPolicy(), 5)

	events := []models.PlatformEvent{{
		OwnerAccountID: "acct",
		Type:           models.EventComment,
		SenderID:       "user-1",
		CommentID:      "comment-1",
		Text:           "nice post",
	}}
	inline, _, err := f.ingestor.Ingest(context.Background(), events)
	require.NoError(t, err)
	assert.Equal(t, 1, inline)
	assert.Equal(t, 1, f.client.replyCalls)
}

func TestInlineFailureDoesNotAbortSiblings(t *testing.T) {
	f := setup(t, generousPolicy(), 5)
	f.client.replyErr = errors.New("upstream exploded")

	events := make([]models.PlatformEvent, 3)
	for i := range events {
		events[i] = models.PlatformEvent{
			OwnerAccountID: "acct",
			Type:           models.EventComment,
			SenderID:       fmt.Sprintf("user-%d", i),
			CommentID:      fmt.Sprintf("comment-%d", i),
			Text:           "nice post",
		}
	}

	inline, deferred, err := f.ingestor.Ingest(context.Background(), events)
	require.NoError(t, err)
	assert.Equal(t, 3, inline)
	assert.Equal(t, 0, deferred)
	// every sibling was still attempted
	assert.Equal(t, 3, f.client.replyCalls)
}

func TestCommentReplyDeferredOnQuotaDenial(t *testing.T) {
	policy := generousPolicy()
	policy.CommentRepliesPerHour = 0
	f := setup(t, policy, 5)

	events := []models.PlatformEvent{{
		OwnerAccountID: "acct",
		Type:           models.EventComment,
		SenderID:       "user-1",
		CommentID:      "comment-1",
		Text:           "nice post",
	}}
	_, _, err := f.ingestor.Ingest(context.Background(), events)
	require.NoError(t, err)

	// denied inline, parked on the send queue instead
	assert.Equal(t, 0, f.client.replyCalls)
	var queued int64
	require.NoError(t, f.db.Model(&models.QueueEntry{}).
		Where("channel = ?", models.ChannelCommentReply).Count(&queued).Error)
	assert.Equal(t, int64(1), queued)
}

func TestReprocessedEventQueuesOneEntry(t *testing.T) {
	f := setup(t, generousPolicy(), 5)

	event := models.PlatformEvent{
		OwnerAccountID: "acct",
		Type:           models.EventMessage,
		SenderID:       "user-1",
		Text:           "hello there",
	}

	// A drain re-run after a crash replays rows it never marked processed,
	// so the same event can reach the processor more than once.
	require.NoError(t, f.processor.HandleEvent(context.Background(), event))
	require.NoError(t, f.processor.HandleEvent(context.Background(), event))

	var entries []models.QueueEntry
	require.NoError(t, f.db.Find(&entries).Error)
	require.Len(t, entries, 1)
	assert.Equal(t, models.ChannelDirectMessage, entries[0].Channel)

	// A different event from the same sender still gets its own entry
	event.Text = "hello again"
	require.NoError(t, f.processor.HandleEvent(context.Background(), event))
	var count int64
	require.NoError(t, f.db.Model(&models.QueueEntry{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestInlineReplyFailureStillConsumesQuota(t *testing.T) {
	f := setup(t, generousPolicy(), 5)
	f.client.replyErr = errors.New("upstream exploded")

	events := []models.PlatformEvent{{
		OwnerAccountID: "acct",
		Type:           models.EventComment,
		SenderID:       "user-1",
		CommentID:      "comment-1",
		Text:           "nice post",
	}}
	_, _, err := f.ingestor.Ingest(context.Background(), events)
	require.NoError(t, err)
	assert.Equal(t, 1, f.client.replyCalls)

	// The slot is counted before dispatch; a failed send burns it rather
	// than risk an uncounted success.
	used, err := f.windows.HourlyUsed("acct", models.ChannelCommentReply, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, used)
}

func generousPolicy() quota.Policy {
	return quota.Policy{
		DirectMessagesPerHour:  1000,
		DirectMessagesPerMonth: 10000,
		CommentRepliesPerHour:  1000,
		CommentRepliesPerMonth: 10000,
	}
}
