package models

import "time"

// AutomationRule configures an automated reaction for one account: when an
// inbound event's text contains Keyword (empty matches everything), send
// the configured direct message and/or comment reply.
type AutomationRule struct {
	ID        uint `gorm:"primarykey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	OwnerAccountID string `gorm:"index;size:64"`
	Keyword        string `gorm:"size:128"`
	// EventTypes is a comma-separated list of event types the rule fires
	// on; empty means all types.
	EventTypes string `gorm:"size:128"`
	DMText     string `gorm:"size:1024"`
	ReplyText  string `gorm:"size:1024"`
	Priority   int
	Enabled    bool `gorm:"index;default:true"`
}
