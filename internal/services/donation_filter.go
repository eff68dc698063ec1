package services

import (
	"time"

	"gorm.io/gorm"

	"charity_ledger/internal/models"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

var donationSortColumns = map[string]string{
	"donated_at": "donated_at",
	"amount":     "amount",
	"id":         "id",
}

// DonationFilter is built once by the caller and validated before any query runs.
// Invalid combinations are rejected instead of widening the result set.
type DonationFilter struct {
	CharityID      *uint
	CampaignID     *uint
	DonorID        *uint
	SubscriptionID *string
	Statuses       []models.DonationStatus
	RecurringOnly  bool
	RefundedOnly   bool
	From           *time.Time
	To             *time.Time

	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Validate checks the filter and fills paging and sort defaults
func (f *DonationFilter) Validate() error {
	for _, st := range f.Statuses {
		if !st.IsValid() {
			return invalid("status", "unknown donation status %q", st)
		}
	}

	if f.RefundedOnly && len(f.Statuses) > 0 {
		for _, st := range f.Statuses {
			if st != models.DonationStatusRefunded {
				return invalid("status", "refunded-only listing cannot include status %q", st)
			}
		}
	}

	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return invalid("from", "start date is after end date")
	}

	if f.Page < 0 {
		return invalid("page", "must be positive")
	}
	if f.Page == 0 {
		f.Page = 1
	}
	if f.PageSize < 0 || f.PageSize > maxPageSize {
		return invalid("page_size", "must be between 1 and %d", maxPageSize)
	}
	if f.PageSize == 0 {
		f.PageSize = defaultPageSize
	}

	if f.SortBy == "" {
		f.SortBy = "donated_at"
	}
	if _, ok := donationSortColumns[f.SortBy]; !ok {
		return invalid("sort_by", "cannot sort by %q", f.SortBy)
	}
	switch f.SortOrder {
	case "":
		f.SortOrder = "desc"
	case "asc", "desc":
	default:
		return invalid("sort_order", "must be asc or desc")
	}
	return nil
}

// apply adds the filter's conditions to a donations query. Validate must have succeeded.
func (f DonationFilter) apply(q *gorm.DB) *gorm.DB {
	if f.CharityID != nil {
		q = q.Where("charity_id = ?", *f.CharityID)
	}
	if f.CampaignID != nil {
		q = q.Where("campaign_id = ?", *f.CampaignID)
	}
	if f.DonorID != nil {
		q = q.Where("donor_id = ?", *f.DonorID)
	}
	if f.SubscriptionID != nil {
		q = q.Where("subscription_id = ?", *f.SubscriptionID)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if f.RecurringOnly {
		q = q.Where("is_recurring = ?", true)
	}
	if f.RefundedOnly {
		q = q.Where("is_refunded = ?", true)
	}
	if f.From != nil {
		q = q.Where("donated_at >= ?", f.From.UTC())
	}
	if f.To != nil {
		q = q.Where("donated_at <= ?", f.To.UTC())
	}
	return q
}

func (f DonationFilter) order() string {
	return donationSortColumns[f.SortBy] + " " + f.SortOrder + ", id " + f.SortOrder
}

func (f DonationFilter) offset() int {
	return (f.Page - 1) * f.PageSize
}
