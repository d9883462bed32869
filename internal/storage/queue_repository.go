package storage

import (
	"fmt"
	"time"

	"replyflow/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueueRepository handles database operations for QueueEntry
type QueueRepository struct {
	db *gorm.DB
}

// NewQueueRepository creates a new QueueRepository
func NewQueueRepository(db *gorm.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

// MigrateTable ensures the QueueEntry table exists
func (r *QueueRepository) MigrateTable() error {
	return r.db.AutoMigrate(&models.QueueEntry{})
}

// Create inserts a new pending entry
func (r *QueueRepository) Create(entry *models.QueueEntry) error {
	return r.db.Create(entry).Error
}

// CreateIfAbsent inserts a pending entry unless one with the same dedupe
// key already exists. Reports whether a row was actually inserted, so
// callers can tell an enqueue from a replay of one already recorded.
func (r *QueueRepository) CreateIfAbsent(entry *models.QueueEntry) (bool, error) {
	result := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "dedupe_key"}},
		DoNothing: true,
	}).Create(entry)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// FindDue returns up to limit pending entries for one channel whose
// scheduled time has passed, most urgent first (priority desc, then
// oldest due first within a tier).
func (r *QueueRepository) FindDue(channel models.Channel, now time.Time, limit int) ([]models.QueueEntry, error) {
	var entries []models.QueueEntry
	result := r.db.
		Where("status = ? AND channel = ? AND scheduled_at <= ?", models.StatusPending, channel, now).
		Order("priority DESC").
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&entries)
	return entries, result.Error
}

// MarkSent transitions a pending entry to sent. The status guard in the
// WHERE clause keeps concurrent scheduler runs from double-finishing the
// same entry.
func (r *QueueRepository) MarkSent(id uint) (bool, error) {
	result := r.db.Model(&models.QueueEntry{}).
		Where("id = ? AND status = ?", id, models.StatusPending).
		Updates(map[string]interface{}{
			"status":   models.StatusSent,
			"attempts": gorm.Expr("attempts + 1"),
		})
	return result.RowsAffected > 0, result.Error
}

// MarkFailed transitions a pending entry to failed, recording the cause.
func (r *QueueRepository) MarkFailed(id uint, cause string) (bool, error) {
	if len(cause) > 512 {
		cause = cause[:512]
	}
	result := r.db.Model(&models.QueueEntry{}).
		Where("id = ? AND status = ?", id, models.StatusPending).
		Updates(map[string]interface{}{
			"status":     models.StatusFailed,
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": cause,
		})
	return result.RowsAffected > 0, result.Error
}

// Reschedule pushes a quota-denied entry's scheduled time forward; the
// entry stays pending and the attempt is counted.
func (r *QueueRepository) Reschedule(id uint, at time.Time) error {
	result := r.db.Model(&models.QueueEntry{}).
		Where("id = ? AND status = ?", id, models.StatusPending).
		Updates(map[string]interface{}{
			"scheduled_at": at,
			"attempts":     gorm.Expr("attempts + 1"),
		})
	return result.Error
}

// CountByStatus returns how many entries an account has in the given status
func (r *QueueRepository) CountByStatus(accountID string, status models.EntryStatus) (int64, error) {
	var count int64
	result := r.db.Model(&models.QueueEntry{}).
		Where("owner_account_id = ? AND status = ?", accountID, status).
		Count(&count)
	return count, result.Error
}

// NextScheduledAt returns the earliest scheduled time among an account's
// pending entries, or nil when the queue is empty.
func (r *QueueRepository) NextScheduledAt(accountID string) (*time.Time, error) {
	var entry models.QueueEntry
	result := r.db.
		Where("owner_account_id = ? AND status = ?", accountID, models.StatusPending).
		Order("scheduled_at ASC").
		First(&entry)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, result.Error
	}
	return &entry.ScheduledAt, nil
}

// DeleteTerminalBefore removes sent/failed entries older than cutoff.
// Pending entries are never swept.
func (r *QueueRepository) DeleteTerminalBefore(cutoff time.Time) (int64, error) {
	result := r.db.
		Where("status IN ? AND updated_at < ?", []models.EntryStatus{models.StatusSent, models.StatusFailed}, cutoff).
		Delete(&models.QueueEntry{})
	if result.Error != nil {
		return 0, fmt.Errorf("sweep terminal queue entries: %w", result.Error)
	}
	return result.RowsAffected, nil
}
