package storage

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replyflow/internal/models"
)

func TestIncrementCreatesBucketImplicitly(t *testing.T) {
	repo := NewRateWindowRepository(setupTestDB(t))
	now := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)

	count, err := repo.Increment("acct", models.ChannelDirectMessage, now)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = repo.Increment("acct", models.ChannelDirectMessage, now)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// same bucket row, second counter untouched
	replies, err := repo.HourlyUsed("acct", models.ChannelCommentReply, now)
	require.NoError(t, err)
	assert.Equal(t, 0, replies)
}

func TestIncrementChannelsIndependent(t *testing.T) {
	repo := NewRateWindowRepository(setupTestDB(t))
	now := time.Now()

	for i := 0; i < 3; i++ {
		_, err := repo.Increment("acct", models.ChannelDirectMessage, now)
		require.NoError(t, err)
	}
	_, err := repo.Increment("acct", models.ChannelCommentReply, now)
	require.NoError(t, err)

	dms, err := repo.HourlyUsed("acct", models.ChannelDirectMessage, now)
	require.NoError(t, err)
	replies, err := repo.HourlyUsed("acct", models.ChannelCommentReply, now)
	require.NoError(t, err)
	assert.Equal(t, 3, dms)
	assert.Equal(t, 1, replies)
}

func TestIncrementConcurrentLosesNothing(t *testing.T) {
	repo := NewRateWindowRepository(setupTestDB(t))
	now := time.Now()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Increment("acct", models.ChannelDirectMessage, now)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	count, err := repo.HourlyUsed("acct", models.ChannelDirectMessage, now)
	require.NoError(t, err)
	assert.Equal(t, n, count)
}

func TestMonthlyUsedSumsBucketsSinceMonthStart(t *testing.T) {
	repo := NewRateWindowRepository(setupTestDB(t))
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	// two buckets this month, one from last month
	_, err := repo.Increment("acct", models.ChannelDirectMessage, now)
	require.NoError(t, err)
	_, err = repo.Increment("acct", models.ChannelDirectMessage, now.Add(-24*time.Hour))
	require.NoError(t, err)
	_, err = repo.Increment("acct", models.ChannelDirectMessage, now.AddDate(0, -1, 0))
	require.NoError(t, err)

	monthly, err := repo.MonthlyUsed("acct", models.ChannelDirectMessage, now)
	require.NoError(t, err)
	assert.Equal(t, 2, monthly)
}

func TestHourBucketBoundaries(t *testing.T) {
	repo := NewRateWindowRepository(setupTestDB(t))
	hour := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	_, err := repo.Increment("acct", models.ChannelDirectMessage, hour.Add(59*time.Minute))
	require.NoError(t, err)

	// next hour starts a fresh bucket
	count, err := repo.HourlyUsed("acct", models.ChannelDirectMessage, hour.Add(61*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	count, err = repo.HourlyUsed("acct", models.ChannelDirectMessage, hour)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
