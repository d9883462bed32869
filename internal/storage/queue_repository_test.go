package storage

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replyflow/internal/models"
)

func newEntry(account string, channel models.Channel, priority int, scheduledAt time.Time) *models.QueueEntry {
	return &models.QueueEntry{
		OwnerAccountID: account,
		Channel:        channel,
		Payload:        `{"recipient_id":"u1","message":"hi"}`,
		Priority:       priority,
		ScheduledAt:    scheduledAt,
		Status:         models.StatusPending,
		DedupeKey:      fmt.Sprintf("%s-%d-%d", account, priority, scheduledAt.UnixNano()),
	}
}

func TestCreateIfAbsentCollapsesDuplicateKeys(t *testing.T) {
	repo := NewQueueRepository(setupTestDB(t))
	now := time.Now()

	first := newEntry("acct", models.ChannelDirectMessage, 1, now)
	first.DedupeKey = "same-event"
	created, err := repo.CreateIfAbsent(first)
	require.NoError(t, err)
	assert.True(t, created)

	replay := newEntry("acct", models.ChannelDirectMessage, 1, now.Add(time.Minute))
	replay.DedupeKey = "same-event"
	created, err = repo.CreateIfAbsent(replay)
	require.NoError(t, err)
	assert.False(t, created)

	var count int64
	require.NoError(t, repo.db.Model(&models.QueueEntry{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	// the original entry is untouched by the replay
	var got models.QueueEntry
	require.NoError(t, repo.db.First(&got, first.ID).Error)
	assert.WithinDuration(t, now, got.ScheduledAt, time.Second)
}

func TestFindDueOrdering(t *testing.T) {
	repo := NewQueueRepository(setupTestDB(t))
	now := time.Now()

	low := newEntry("acct", models.ChannelDirectMessage, 1, now.Add(-3*time.Hour))
	highOld := newEntry("acct", models.ChannelDirectMessage, 10, now.Add(-2*time.Hour))
	highNew := newEntry("acct", models.ChannelDirectMessage, 10, now.Add(-1*time.Hour))
	future := newEntry("acct", models.ChannelDirectMessage, 99, now.Add(time.Hour))
	require.NoError(t, repo.Create(low))
	require.NoError(t, repo.Create(highNew))
	require.NoError(t, repo.Create(highOld))
	require.NoError(t, repo.Create(future))

	due, err := repo.FindDue(models.ChannelDirectMessage, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 3, "future entry must not be due")

	// priority desc, then oldest due first within a tier
	assert.Equal(t, highOld.ID, due[0].ID)
	assert.Equal(t, highNew.ID, due[1].ID)
	assert.Equal(t, low.ID, due[2].ID)
}

func TestFindDueChannelSeparation(t *testing.T) {
	repo := NewQueueRepository(setupTestDB(t))
	now := time.Now()

	dm := newEntry("acct", models.ChannelDirectMessage, 1, now.Add(-time.Minute))
	reply := newEntry("acct", models.ChannelCommentReply, 1, now.Add(-time.Minute))
	require.NoError(t, repo.Create(dm))
	require.NoError(t, repo.Create(reply))

	due, err := repo.FindDue(models.ChannelCommentReply, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, reply.ID, due[0].ID)
}

func TestMarkSentOnlyOnce(t *testing.T) {
	repo := NewQueueRepository(setupTestDB(t))
	entry := newEntry("acct", models.ChannelDirectMessage, 1, time.Now())
	require.NoError(t, repo.Create(entry))

	ok, err := repo.MarkSent(entry.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	// status guard: a concurrent run cannot finish the same entry twice
	ok, err = repo.MarkSent(entry.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	var got models.QueueEntry
	require.NoError(t, repo.db.First(&got, entry.ID).Error)
	assert.Equal(t, models.StatusSent, got.Status)
	assert.Equal(t, 1, got.Attempts)
}

func TestMarkFailedRecordsCause(t *testing.T) {
	repo := NewQueueRepository(setupTestDB(t))
	entry := newEntry("acct", models.ChannelDirectMessage, 1, time.Now())
	require.NoError(t, repo.Create(entry))

	ok, err := repo.MarkFailed(entry.ID, "upstream said no")
	require.NoError(t, err)
	assert.True(t, ok)

	var got models.QueueEntry
	require.NoError(t, repo.db.First(&got, entry.ID).Error)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "upstream said no", got.LastError)

	// terminal entries are never flipped back
	ok, err = repo.MarkSent(entry.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRescheduleKeepsPending(t *testing.T) {
	repo := NewQueueRepository(setupTestDB(t))
	now := time.Now()
	entry := newEntry("acct", models.ChannelDirectMessage, 1, now.Add(-time.Minute))
	require.NoError(t, repo.Create(entry))

	next := now.Add(time.Hour)
	require.NoError(t, repo.Reschedule(entry.ID, next))

	var got models.QueueEntry
	require.NoError(t, repo.db.First(&got, entry.ID).Error)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.WithinDuration(t, next, got.ScheduledAt, time.Second)

	due, err := repo.FindDue(models.ChannelDirectMessage, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestDeleteTerminalBeforeSparesPending(t *testing.T) {
	repo := NewQueueRepository(setupTestDB(t))
	now := time.Now()

	sent := newEntry("acct", models.ChannelDirectMessage, 1, now)
	pending := newEntry("acct", models.ChannelDirectMessage, 2, now)
	require.NoError(t, repo.Create(sent))
	require.NoError(t, repo.Create(pending))
	_, err := repo.MarkSent(sent.ID)
	require.NoError(t, err)

	removed, err := repo.DeleteTerminalBefore(now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	count, err := repo.CountByStatus("acct", models.StatusPending)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestNextScheduledAt(t *testing.T) {
	repo := NewQueueRepository(setupTestDB(t))

	next, err := repo.NextScheduledAt("acct")
	require.NoError(t, err)
	assert.Nil(t, next)

	soon := time.Now().Add(10 * time.Minute)
	later := time.Now().Add(2 * time.Hour)
	require.NoError(t, repo.Create(newEntry("acct", models.ChannelDirectMessage, 1, later)))
	require.NoError(t, repo.Create(newEntry("acct", models.ChannelDirectMessage, 1, soon)))

	next, err = repo.NextScheduledAt("acct")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.WithinDuration(t, soon, *next, time.Second)
}
