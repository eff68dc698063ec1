package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RefundRequestStatus represents the review state of a refund request
type RefundRequestStatus string

const (
	RefundRequestStatusPending  RefundRequestStatus = "pending"
	RefundRequestStatusApproved RefundRequestStatus = "approved"
	RefundRequestStatusDenied   RefundRequestStatus = "denied"
)

// RefundRequest records a donor asking for a completed donation to be reversed.
// It is reviewed exactly once and immutable afterwards.
type RefundRequest struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	DonationID      uint                `gorm:"index;not null" json:"donation_id"`
	RequesterID     uint                `gorm:"index" json:"requester_id"`
	CharityID       uint                `gorm:"index" json:"charity_id"`
	Reason          string              `gorm:"type:text" json:"reason"`
	ProofPath       string              `gorm:"type:text" json:"proof_path,omitempty"`
	Status          RefundRequestStatus `gorm:"type:varchar(20);index;default:'pending'" json:"status"`
	RefundAmount    decimal.Decimal     `gorm:"type:decimal(15,2)" json:"refund_amount"`
	ReviewerID      *uint               `json:"reviewer_id"`
	ReviewedAt      *time.Time          `json:"reviewed_at"`
	CharityResponse string              `gorm:"type:text" json:"charity_response,omitempty"`

	// Relationships
	Donation Donation `gorm:"foreignKey:DonationID" json:"donation,omitempty"`
}

// IsResolved reports whether the request was already approved or denied
func (r RefundRequest) IsResolved() bool {
	return r.Status != RefundRequestStatusPending
}
