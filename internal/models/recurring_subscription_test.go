package models

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, time.UTC)
}

func TestRecurringSubscriptionNextOccurrence(t *testing.T) {
	tests := []struct {
		name     string
		interval RecurringInterval
		start    time.Time
		after    time.Time
		end      *time.Time
		expected time.Time
		ok       bool
	}{
		{
			name:     "weekly adds seven days",
			interval: RecurringIntervalWeekly,
			start:    date(2026, time.March, 4, 10),
			after:    date(2026, time.March, 4, 10),
			expected: date(2026, time.March, 11, 10),
			ok:       true,
		},
		{
			name:     "monthly adds one calendar month",
			interval: RecurringIntervalMonthly,
			start:    date(2026, time.January, 10, 9),
			after:    date(2026, time.January, 10, 9),
			expected: date(2026, time.February, 10, 9),
			ok:       true,
		},
		{
			name:     "quarterly adds three calendar months",
			interval: RecurringIntervalQuarterly,
			start:    date(2026, time.January, 15, 9),
			after:    date(2026, time.January, 15, 9),
			expected: date(2026, time.April, 15, 9),
			ok:       true,
		},
		{
			name:     "yearly adds one calendar year",
			interval: RecurringIntervalYearly,
			start:    date(2026, time.June, 1, 12),
			after:    date(2026, time.June, 1, 12),
			expected: date(2027, time.June, 1, 12),
			ok:       true,
		},
		{
			name:     "month end anchor clamps to shorter month",
			interval: RecurringIntervalMonthly,
			start:    date(2027, time.January, 31, 8),
			after:    date(2027, time.January, 31, 8),
			expected: date(2027, time.February, 28, 8),
			ok:       true,
		},
		{
			name:     "month end anchor returns after short month",
			interval: RecurringIntervalMonthly,
			start:    date(2027, time.January, 31, 8),
			after:    date(2027, time.February, 28, 8),
			expected: date(2027, time.March, 31, 8),
			ok:       true,
		},
		{
			name:     "end date before next occurrence stops the chain",
			interval: RecurringIntervalMonthly,
			start:    date(2026, time.January, 10, 9),
			after:    date(2026, time.February, 10, 9),
			end:      ptrTime(date(2026, time.February, 24, 9)),
			ok:       false,
		},
		{
			name:     "end date after next occurrence keeps the chain",
			interval: RecurringIntervalMonthly,
			start:    date(2026, time.January, 10, 9),
			after:    date(2026, time.January, 10, 9),
			end:      ptrTime(date(2026, time.February, 24, 9)),
			expected: date(2026, time.February, 10, 9),
			ok:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := RecurringSubscription{IntervalType: tt.interval, StartsAt: tt.start, EndDate: tt.end}
			next, ok, err := sub.NextOccurrence(tt.after)
			if err != nil {
				t.Fatalf("NextOccurrence returned error: %v", err)
			}
			if ok != tt.ok {
				t.Fatalf("NextOccurrence ok = %v; want %v (next %s)", ok, tt.ok, next)
			}
			if ok && !next.Equal(tt.expected) {
				t.Errorf("NextOccurrence(%s) = %s; want %s", tt.after, next, tt.expected)
			}
		})
	}
}

func TestRecurringSubscriptionRejectsUnknownInterval(t *testing.T) {
	sub := RecurringSubscription{IntervalType: "daily", StartsAt: date(2026, time.January, 1, 0)}
	if _, _, err := sub.NextOccurrence(sub.StartsAt); err == nil {
		t.Fatal("expected error for unsupported interval")
	}
}

func TestDonationStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to DonationStatus
		allowed  bool
	}{
		{DonationStatusPending, DonationStatusCompleted, true},
		{DonationStatusPending, DonationStatusRejected, true},
		{DonationStatusScheduled, DonationStatusCompleted, true},
		{DonationStatusCompleted, DonationStatusRefunded, true},
		{DonationStatusScheduled, DonationStatusRejected, false},
		{DonationStatusRejected, DonationStatusCompleted, false},
		{DonationStatusRefunded, DonationStatusCompleted, false},
		{DonationStatusCompleted, DonationStatusPending, false},
		{DonationStatusPending, DonationStatusRefunded, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.allowed {
				t.Errorf("CanTransitionTo = %v; want %v", got, tt.allowed)
			}
		})
	}
}

func ptrTime(t time.Time) *time.Time {
	return &t
}
