package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CampaignStatus represents the lifecycle of a campaign
type CampaignStatus string

const (
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusCancelled CampaignStatus = "cancelled"
)

// Campaign is a fundraising target owned by a charity
type Campaign struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	CharityID    uint            `gorm:"index" json:"charity_id"`
	Title        string          `gorm:"type:varchar(255);not null" json:"title"`
	TargetAmount decimal.Decimal `gorm:"type:decimal(15,2);default:0" json:"target_amount"`
	EndDate      *time.Time      `json:"end_date"`
	Status       CampaignStatus  `gorm:"type:varchar(20);default:'active'" json:"status"`
	CompletedAt  *time.Time      `json:"completed_at"`

	// Derived from donations, written only by the aggregate recalculation
	CurrentAmount decimal.Decimal `gorm:"type:decimal(15,2);default:0" json:"current_amount"`
	DonorCount    int             `gorm:"default:0" json:"donor_count"`

	// Relationships
	Charity Charity `gorm:"foreignKey:CharityID" json:"charity,omitempty"`
}

// IsCompleted reports whether the campaign reached its goal or was closed as completed
func (c Campaign) IsCompleted() bool {
	return c.Status == CampaignStatusCompleted
}

// HasEnded reports whether the campaign end date is set and not in the future
func (c Campaign) HasEnded(now time.Time) bool {
	return c.EndDate != nil && !c.EndDate.After(now)
}

// GoalReached reports whether a positive target is met by the given raised amount
func (c Campaign) GoalReached(raised decimal.Decimal) bool {
	return c.TargetAmount.IsPositive() && raised.GreaterThanOrEqual(c.TargetAmount)
}
