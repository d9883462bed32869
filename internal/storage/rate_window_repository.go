package storage

import (
	"fmt"
	"time"

	"replyflow/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RateWindowRepository owns the RateWindowCounter table. All mutation goes
// through Increment so concurrent schedulers never lose updates.
type RateWindowRepository struct {
	db *gorm.DB
}

// NewRateWindowRepository creates a new RateWindowRepository
func NewRateWindowRepository(db *gorm.DB) *RateWindowRepository {
	return &RateWindowRepository{db: db}
}

// MigrateTable ensures the RateWindowCounter table exists
func (r *RateWindowRepository) MigrateTable() error {
	return r.db.AutoMigrate(&models.RateWindowCounter{})
}

func counterColumn(channel models.Channel) (string, error) {
	switch channel {
	case models.ChannelDirectMessage:
		return "direct_message_count", nil
	case models.ChannelCommentReply:
		return "comment_reply_count", nil
	}
	return "", fmt.Errorf("unknown channel %q", channel)
}

// Increment atomically bumps the counter for (account, channel) in the
// hour bucket containing now and returns the new hourly count. The bucket
// row is created implicitly on first use via an upsert, so there is no
// read-modify-write window.
func (r *RateWindowRepository) Increment(accountID string, channel models.Channel, now time.Time) (int, error) {
	column, err := counterColumn(channel)
	if err != nil {
		return 0, err
	}

	bucket := models.HourBucketFor(now)
	row := models.RateWindowCounter{
		OwnerAccountID: accountID,
		HourBucket:     bucket,
	}
	switch channel {
	case models.ChannelDirectMessage:
		row.DirectMessageCount = 1
	case models.ChannelCommentReply:
		row.CommentReplyCount = 1
	}

	err = r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "owner_account_id"}, {Name: "hour_bucket"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			column: gorm.Expr(column + " + 1"),
		}),
	}).Create(&row).Error
	if err != nil {
		return 0, fmt.Errorf("increment rate window: %w", err)
	}

	// Re-read the bucket; under concurrency this can only report a count
	// at or above the value our increment produced, which is safe for
	// quota enforcement (never under-counts).
	return r.hourlyCount(accountID, channel, bucket)
}

func (r *RateWindowRepository) hourlyCount(accountID string, channel models.Channel, bucket time.Time) (int, error) {
	var row models.RateWindowCounter
	result := r.db.
		Where("owner_account_id = ? AND hour_bucket = ?", accountID, bucket).
		First(&row)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return 0, nil
		}
		return 0, result.Error
	}
	switch channel {
	case models.ChannelCommentReply:
		return row.CommentReplyCount, nil
	default:
		return row.DirectMessageCount, nil
	}
}

// HourlyUsed returns the count for the hour bucket containing now.
func (r *RateWindowRepository) HourlyUsed(accountID string, channel models.Channel, now time.Time) (int, error) {
	return r.hourlyCount(accountID, channel, models.HourBucketFor(now))
}

// MonthlyUsed sums the account's hourly buckets since the start of the
// calendar month containing now. Buckets are monotone, so the sum never
// under-counts completed sends.
func (r *RateWindowRepository) MonthlyUsed(accountID string, channel models.Channel, now time.Time) (int, error) {
	column, err := counterColumn(channel)
	if err != nil {
		return 0, err
	}

	var total int64
	result := r.db.Model(&models.RateWindowCounter{}).
		Select("COALESCE(SUM("+column+"), 0)").
		Where("owner_account_id = ? AND hour_bucket >= ?", accountID, models.MonthStartFor(now)).
		Scan(&total)
	if result.Error != nil {
		return 0, fmt.Errorf("sum monthly usage: %w", result.Error)
	}
	return int(total), nil
}
