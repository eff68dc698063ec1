package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DonationStatus represents the state of a donation in the ledger
type DonationStatus string

const (
	DonationStatusPending   DonationStatus = "pending"
	DonationStatusScheduled DonationStatus = "scheduled"
	DonationStatusCompleted DonationStatus = "completed"
	DonationStatusRejected  DonationStatus = "rejected"
	DonationStatusRefunded  DonationStatus = "refunded"
)

// donationTransitions lists every allowed status change. completed->refunded is only
// reachable through refund approval.
var donationTransitions = map[DonationStatus][]DonationStatus{
	DonationStatusPending:   {DonationStatusCompleted, DonationStatusRejected},
	DonationStatusScheduled: {DonationStatusCompleted},
	DonationStatusCompleted: {DonationStatusRefunded},
}

// IsValid reports whether the status is one of the known donation statuses
func (s DonationStatus) IsValid() bool {
	switch s {
	case DonationStatusPending, DonationStatusScheduled, DonationStatusCompleted,
		DonationStatusRejected, DonationStatusRefunded:
		return true
	}
	return false
}

// CanTransitionTo reports whether the ledger allows moving from s to next
func (s DonationStatus) CanTransitionTo(next DonationStatus) bool {
	for _, allowed := range donationTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Donation is a single contribution: a one-time gift or one occurrence of a recurring subscription.
// Donations are never deleted; refunds replace deletion.
type Donation struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	DonorID    *uint  `gorm:"index" json:"donor_id"`
	DonorName  string `gorm:"type:varchar(255)" json:"donor_name"`
	DonorEmail string `gorm:"type:varchar(255);index" json:"donor_email"`

	CharityID  uint            `gorm:"index;not null" json:"charity_id"`
	CampaignID *uint           `gorm:"index" json:"campaign_id"`
	Amount     decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"amount"`
	Purpose    string          `gorm:"type:varchar(255)" json:"purpose"`
	Status     DonationStatus  `gorm:"type:varchar(20);index:idx_donations_status_next,priority:1;not null" json:"status"`

	IsAnonymous        bool              `gorm:"default:false" json:"is_anonymous"`
	IsRecurring        bool              `gorm:"default:false" json:"is_recurring"`
	RecurringInterval  RecurringInterval `gorm:"type:varchar(20)" json:"recurring_interval,omitempty"`
	RecurringEndDate   *time.Time        `json:"recurring_end_date"`
	NextOccurrenceDate *time.Time        `gorm:"index:idx_donations_status_next,priority:2" json:"next_occurrence_date"`
	ParentDonationID   *uint             `gorm:"index" json:"parent_donation_id"`
	SubscriptionID     *string           `gorm:"type:varchar(36);index" json:"subscription_id"`

	ReferenceNumber *string   `gorm:"type:varchar(100);uniqueIndex" json:"reference_number"`
	ProofPath       string    `gorm:"type:text" json:"proof_path"`
	DonatedAt       time.Time `gorm:"index" json:"donated_at"`
	ReceiptNumber   *string   `gorm:"type:varchar(64)" json:"receipt_number"`

	IsRefunded      bool       `gorm:"default:false" json:"is_refunded"`
	RefundedAt      *time.Time `json:"refunded_at"`
	RejectionReason string     `gorm:"type:text" json:"rejection_reason,omitempty"`

	// Relationships
	Donor          *User                  `gorm:"foreignKey:DonorID" json:"donor,omitempty"`
	Charity        Charity                `gorm:"foreignKey:CharityID" json:"charity,omitempty"`
	Campaign       *Campaign              `gorm:"foreignKey:CampaignID" json:"campaign,omitempty"`
	ParentDonation *Donation              `gorm:"foreignKey:ParentDonationID" json:"-"`
	Subscription   *RecurringSubscription `gorm:"foreignKey:SubscriptionID" json:"subscription,omitempty"`
}

// TargetName is the human readable target: the campaign title, or the charity name for
// general donations. Relationships must be preloaded.
func (d Donation) TargetName() string {
	if d.Campaign != nil && d.Campaign.Title != "" {
		return d.Campaign.Title
	}
	return d.Charity.Name
}

// CountsTowardTotals reports whether the donation contributes to campaign and charity aggregates
func (d Donation) CountsTowardTotals() bool {
	return d.Status == DonationStatusCompleted && !d.IsRefunded
}
