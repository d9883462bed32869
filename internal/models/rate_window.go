package models

import "time"

// RateWindowCounter aggregates sends for one account in one hour bucket.
//
// Exactly one row exists per (owner, hour bucket); counters only grow and
// are never reset in place. A new bucket starts at zero implicitly the
// first time it is incremented.
type RateWindowCounter struct {
	ID        uint `gorm:"primarykey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	OwnerAccountID     string    `gorm:"uniqueIndex:idx_owner_bucket,priority:1;size:64"`
	HourBucket         time.Time `gorm:"uniqueIndex:idx_owner_bucket,priority:2"`
	DirectMessageCount int       `gorm:"default:0"`
	CommentReplyCount  int       `gorm:"default:0"`
}

// HourBucketFor truncates t to the hour boundary used as bucket key.
func HourBucketFor(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// MonthStartFor returns the start of the calendar month containing t.
func MonthStartFor(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// NextHourStart returns the earliest instant in the hour window after t.
func NextHourStart(t time.Time) time.Time {
	return HourBucketFor(t).Add(time.Hour)
}
