package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Charity is an organisation receiving donations, directly or through campaigns
type Charity struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	Name    string `gorm:"type:varchar(255);not null" json:"name"`
	OwnerID uint   `gorm:"index" json:"owner_id"`

	// Derived from donations, written only by the aggregate recalculation
	CurrentAmount decimal.Decimal `gorm:"type:decimal(15,2);default:0" json:"current_amount"`
	DonorCount    int             `gorm:"default:0" json:"donor_count"`

	// Relationships
	Owner     User       `gorm:"foreignKey:OwnerID" json:"owner,omitempty"`
	Campaigns []Campaign `gorm:"foreignKey:CharityID" json:"campaigns,omitempty"`
}
