package storage

import (
	"replyflow/internal/models"

	"gorm.io/gorm"
)

// PlanRepository handles database operations for AccountPlan
type PlanRepository struct {
	db *gorm.DB
}

// NewPlanRepository creates a new PlanRepository
func NewPlanRepository(db *gorm.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

// MigrateTable ensures the AccountPlan table exists
func (r *PlanRepository) MigrateTable() error {
	return r.db.AutoMigrate(&models.AccountPlan{})
}

// GetPlan retrieves an account's plan, or nil when the account has none
// recorded (callers fall back to the default tier).
func (r *PlanRepository) GetPlan(accountID string) (*models.AccountPlan, error) {
	var plan models.AccountPlan
	result := r.db.Where("owner_account_id = ?", accountID).First(&plan)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, result.Error
	}
	return &plan, nil
}

// Upsert creates or updates an account's plan record
func (r *PlanRepository) Upsert(plan *models.AccountPlan) error {
	existing, err := r.GetPlan(plan.OwnerAccountID)
	if err != nil {
		return err
	}
	if existing == nil {
		return r.db.Create(plan).Error
	}
	plan.ID = existing.ID
	return r.db.Save(plan).Error
}
