package storage

import (
	"fmt"
	"time"

	"replyflow/internal/models"

	"gorm.io/gorm"
)

// PendingEventRepository handles database operations for PendingEvent
type PendingEventRepository struct {
	db *gorm.DB
}

// NewPendingEventRepository creates a new PendingEventRepository
func NewPendingEventRepository(db *gorm.DB) *PendingEventRepository {
	return &PendingEventRepository{db: db}
}

// MigrateTable ensures the PendingEvent table exists
func (r *PendingEventRepository) MigrateTable() error {
	return r.db.AutoMigrate(&models.PendingEvent{})
}

// Create parks an event for asynchronous draining
func (r *PendingEventRepository) Create(event *models.PendingEvent) error {
	return r.db.Create(event).Error
}

// FindUnprocessed returns up to limit unprocessed events, most urgent
// first, oldest first within a priority tier.
func (r *PendingEventRepository) FindUnprocessed(limit int) ([]models.PendingEvent, error) {
	var events []models.PendingEvent
	result := r.db.
		Where("processed = ?", false).
		Order("priority DESC").
		Order("created_at ASC").
		Limit(limit).
		Find(&events)
	return events, result.Error
}

// MarkProcessed flags a single event done. The processed guard makes the
// call idempotent across overlapping drain runs.
func (r *PendingEventRepository) MarkProcessed(id uint, at time.Time) error {
	result := r.db.Model(&models.PendingEvent{}).
		Where("id = ? AND processed = ?", id, false).
		Updates(map[string]interface{}{
			"processed":    true,
			"processed_at": at,
		})
	return result.Error
}

// DeleteProcessedBefore removes processed events past the audit window
func (r *PendingEventRepository) DeleteProcessedBefore(cutoff time.Time) (int64, error) {
	result := r.db.
		Where("processed = ? AND processed_at < ?", true, cutoff).
		Delete(&models.PendingEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("sweep processed events: %w", result.Error)
	}
	return result.RowsAffected, nil
}
