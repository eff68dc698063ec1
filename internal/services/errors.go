package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"charity_ledger/internal/models"
)

// Sentinels for errors.Is. Every typed error below matches exactly one of them.
var (
	ErrValidation             = errors.New("validation failed")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrDuplicateReference     = errors.New("duplicate reference number")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrNotRefundable          = errors.New("donation is not refundable")
	ErrWindowExpired          = errors.New("refund window expired")
	ErrCampaignEnded          = errors.New("campaign has ended")
	ErrDuplicateRequest       = errors.New("refund already requested")
	ErrAlreadyReviewed        = errors.New("refund request already reviewed")
	ErrConsistency            = errors.New("ledger consistency violation")

	ErrDonationNotFound      = errors.New("donation not found")
	ErrCampaignNotFound      = errors.New("campaign not found")
	ErrCharityNotFound       = errors.New("charity not found")
	ErrRefundRequestNotFound = errors.New("refund request not found")
	ErrSubscriptionNotFound  = errors.New("subscription not found")
)

// ValidationError reports malformed input
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// InvalidStateTransitionError is returned for any status change the ledger does not allow
type InvalidStateTransitionError struct {
	DonationID uint
	From       models.DonationStatus
	To         models.DonationStatus
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("donation %d cannot move from %s to %s", e.DonationID, e.From, e.To)
}

func (e *InvalidStateTransitionError) Is(target error) bool { return target == ErrInvalidStateTransition }

// DuplicateReferenceError carries a snapshot of the donation that already uses the reference
type DuplicateReferenceError struct {
	ReferenceNumber string
	PriorDonationID uint
	Target          string
	DonatedAt       time.Time
	Amount          decimal.Decimal
	Status          models.DonationStatus
}

func (e *DuplicateReferenceError) Error() string {
	return fmt.Sprintf("reference %q was already used for %s on %s (amount %s, status %s)",
		e.ReferenceNumber, e.Target, e.DonatedAt.Format("2006-01-02"), e.Amount.StringFixed(2), e.Status)
}

func (e *DuplicateReferenceError) Is(target error) bool { return target == ErrDuplicateReference }

// UnauthorizedError is returned when the actor may not act on the entity
type UnauthorizedError struct {
	ActorID uint
	Reason  string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("user %d is not allowed: %s", e.ActorID, e.Reason)
}

func (e *UnauthorizedError) Is(target error) bool { return target == ErrUnauthorized }

// NotRefundableError is returned for refund requests on donations that are not completed
type NotRefundableError struct {
	DonationID uint
	Status     models.DonationStatus
}

func (e *NotRefundableError) Error() string {
	return fmt.Sprintf("donation %d is %s, only completed donations can be refunded", e.DonationID, e.Status)
}

func (e *NotRefundableError) Is(target error) bool { return target == ErrNotRefundable }

// WindowExpiredError is returned when the refund window has passed
type WindowExpiredError struct {
	DonationID    uint
	DonatedAt     time.Time
	DaysElapsed   int
	DaysRemaining int
}

func (e *WindowExpiredError) Error() string {
	return fmt.Sprintf("donation %d was made %d days ago, refunds are only accepted within %d days (%d days remaining)",
		e.DonationID, e.DaysElapsed, RefundWindowDays, e.DaysRemaining)
}

func (e *WindowExpiredError) Is(target error) bool { return target == ErrWindowExpired }

// CampaignEndedError is returned when the donation's campaign no longer accepts refunds
type CampaignEndedError struct {
	CampaignID uint
	EndDate    *time.Time
	Completed  bool
}

func (e *CampaignEndedError) Error() string {
	if e.Completed {
		return fmt.Sprintf("campaign %d is already completed", e.CampaignID)
	}
	return fmt.Sprintf("campaign %d ended on %s", e.CampaignID, e.EndDate.Format("2006-01-02"))
}

func (e *CampaignEndedError) Is(target error) bool { return target == ErrCampaignEnded }

// DuplicateRequestError is returned when a pending refund request already exists
type DuplicateRequestError struct {
	DonationID        uint
	ExistingRequestID uint
}

func (e *DuplicateRequestError) Error() string {
	return fmt.Sprintf("donation %d already has pending refund request %d", e.DonationID, e.ExistingRequestID)
}

func (e *DuplicateRequestError) Is(target error) bool { return target == ErrDuplicateRequest }

// AlreadyReviewedError is returned when reviewing a resolved refund request
type AlreadyReviewedError struct {
	RequestID uint
	Status    models.RefundRequestStatus
}

func (e *AlreadyReviewedError) Error() string {
	return fmt.Sprintf("refund request %d is already %s", e.RequestID, e.Status)
}

func (e *AlreadyReviewedError) Is(target error) bool { return target == ErrAlreadyReviewed }

// ConsistencyError is fatal: the recalculation found an impossible aggregate. It aborts the
// transaction and must reach an operator.
type ConsistencyError struct {
	Scope  string
	ID     uint
	Detail string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("%s %d: %s", e.Scope, e.ID, e.Detail)
}

func (e *ConsistencyError) Is(target error) bool { return target == ErrConsistency }

// SweepFailure describes one due occurrence the sweep could not process
type SweepFailure struct {
	DonationID uint
	Err        error
}

// SweepError collects every per-row failure of one sweep run
type SweepError struct {
	Failures []SweepFailure
}

func (e *SweepError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("donation %d: %v", f.DonationID, f.Err))
	}
	return fmt.Sprintf("recurring sweep failed for %d donation(s): %s", len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap exposes the individual failures to errors.Is/As
func (e *SweepError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
