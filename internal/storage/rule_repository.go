package storage

import (
	"replyflow/internal/models"

	"gorm.io/gorm"
)

// RuleRepository handles database operations for AutomationRule
type RuleRepository struct {
	db *gorm.DB
}

// NewRuleRepository creates a new RuleRepository
func NewRuleRepository(db *gorm.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

// MigrateTable ensures the AutomationRule table exists
func (r *RuleRepository) MigrateTable() error {
	return r.db.AutoMigrate(&models.AutomationRule{})
}

// GetEnabledRules returns an account's enabled rules, highest priority first
func (r *RuleRepository) GetEnabledRules(accountID string) ([]models.AutomationRule, error) {
	var rules []models.AutomationRule
	result := r.db.
		Where("owner_account_id = ? AND enabled = ?", accountID, true).
		Order("priority DESC").
		Find(&rules)
	return rules, result.Error
}

// Create inserts a new rule
func (r *RuleRepository) Create(rule *models.AutomationRule) error {
	return r.db.Create(rule).Error
}
