package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/teambition/rrule-go"
)

// RecurringInterval is the cadence of a recurring donation
type RecurringInterval string

const (
	RecurringIntervalWeekly    RecurringInterval = "weekly"
	RecurringIntervalMonthly   RecurringInterval = "monthly"
	RecurringIntervalQuarterly RecurringInterval = "quarterly"
	RecurringIntervalYearly    RecurringInterval = "yearly"
)

// IsValid reports whether the interval is supported
func (i RecurringInterval) IsValid() bool {
	switch i {
	case RecurringIntervalWeekly, RecurringIntervalMonthly, RecurringIntervalQuarterly, RecurringIntervalYearly:
		return true
	}
	return false
}

// RecurringSubscription groups every occurrence of one recurring donation under a shared id
type RecurringSubscription struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	DonorID      *uint             `gorm:"index" json:"donor_id"`
	DonorEmail   string            `gorm:"type:varchar(255)" json:"donor_email"`
	CharityID    uint              `gorm:"index" json:"charity_id"`
	CampaignID   *uint             `gorm:"index" json:"campaign_id"`
	Amount       decimal.Decimal   `gorm:"type:decimal(15,2)" json:"amount"`
	IntervalType RecurringInterval `gorm:"type:varchar(20)" json:"interval_type"`
	StartsAt     time.Time         `json:"starts_at"`
	EndDate      *time.Time        `json:"end_date"`
	CancelledAt  *time.Time        `json:"cancelled_at"`

	// Relationships
	Occurrences []Donation `gorm:"foreignKey:SubscriptionID" json:"occurrences,omitempty"`
}

// IsCancelled reports whether future occurrences are no longer generated
func (s RecurringSubscription) IsCancelled() bool {
	return s.CancelledAt != nil
}

// Rule builds the RRULE for the subscription anchored at StartsAt and bounded by EndDate.
// Anchor days past the 28th clamp to the last day of shorter months.
func (s RecurringSubscription) Rule() (*rrule.RRule, error) {
	opt := rrule.ROption{Dtstart: s.StartsAt, Interval: 1}
	if s.EndDate != nil {
		opt.Until = *s.EndDate
	}

	switch s.IntervalType {
	case RecurringIntervalWeekly:
		opt.Freq = rrule.WEEKLY
	case RecurringIntervalMonthly:
		opt.Freq = rrule.MONTHLY
	case RecurringIntervalQuarterly:
		opt.Freq = rrule.MONTHLY
		opt.Interval = 3
	case RecurringIntervalYearly:
		opt.Freq = rrule.YEARLY
		opt.Bymonth = []int{int(s.StartsAt.Month())}
	default:
		return nil, fmt.Errorf("unsupported recurring interval %q", s.IntervalType)
	}

	if opt.Freq != rrule.WEEKLY {
		day := s.StartsAt.Day()
		if day > 28 {
			for d := 28; d <= day; d++ {
				opt.Bymonthday = append(opt.Bymonthday, d)
			}
			opt.Bysetpos = []int{-1}
		} else {
			opt.Bymonthday = []int{day}
		}
	}

	return rrule.NewRRule(opt)
}

// NextOccurrence returns the first occurrence strictly after the given time. ok is false when
// the schedule ends (end date reached) before another occurrence.
func (s RecurringSubscription) NextOccurrence(after time.Time) (next time.Time, ok bool, err error) {
	rule, err := s.Rule()
	if err != nil {
		return time.Time{}, false, err
	}
	next = rule.After(after, false)
	if next.IsZero() {
		return time.Time{}, false, nil
	}
	if s.EndDate != nil && next.After(*s.EndDate) {
		return time.Time{}, false, nil
	}
	return next, true, nil
}
