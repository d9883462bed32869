package models

import "time"

// AccountPlan maps a creator account to its plan tier and holds the
// platform access token used for upstream delivery. BoostedMonthlyDM is a
// time-boxed promotional raise of the monthly direct-message ceiling.
type AccountPlan struct {
	ID        uint `gorm:"primarykey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	OwnerAccountID   string `gorm:"uniqueIndex;size:64"`
	Tier             string `gorm:"size:32"`
	AccessToken      string `gorm:"size:512"`
	BoostedMonthlyDM int
	BoostExpiresAt   *time.Time
}

// BoostActive reports whether the promotional boost applies at t.
func (p *AccountPlan) BoostActive(t time.Time) bool {
	return p.BoostedMonthlyDM > 0 && p.BoostExpiresAt != nil && p.BoostExpiresAt.After(t)
}
