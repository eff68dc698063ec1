package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"charity_ledger/internal/models"
)

// Decision is a reviewer's answer to a pending donation or refund request
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// IsValid reports whether the decision is approve or reject
func (d Decision) IsValid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// RecurringSettings turns a donation into the first occurrence of a subscription
type RecurringSettings struct {
	Interval models.RecurringInterval `json:"interval"`
	EndDate  *time.Time               `json:"end_date"`
}

// CreateDonationInput holds everything a donor submits. Donor is nil for unauthenticated
// manual submissions, which must carry at least an email.
type CreateDonationInput struct {
	Donor           *models.Actor
	DonorName       string
	DonorEmail      string
	CharityID       uint
	CampaignID      *uint
	Amount          decimal.Decimal
	Purpose         string
	Anonymous       bool
	Recurring       *RecurringSettings
	ReferenceNumber *string
	ProofPath       string
	DonatedAt       time.Time
}

// DonationService owns the donation state machine. Every status change and the aggregate
// recalculation it causes commit together; notifications go out after commit.
type DonationService struct {
	db         *gorm.DB
	aggregates *AggregateService
	guard      *ReferenceGuard
	notifier   Notifier
	now        func() time.Time
}

func NewDonationService(db *gorm.DB, aggregates *AggregateService, guard *ReferenceGuard, notifier Notifier) *DonationService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	// Repair runs announce goals through the same collaborator as the ledger
	if aggregates != nil {
		aggregates.SetNotifier(notifier)
	}
	return &DonationService{
		db:         db,
		aggregates: aggregates,
		guard:      guard,
		notifier:   notifier,
		now:        time.Now,
	}
}

// SetClock replaces the time source
func (s *DonationService) SetClock(now func() time.Time) {
	s.now = now
}

func (s *DonationService) clock() time.Time {
	return s.now().UTC()
}

func (in CreateDonationInput) validate(donatedAt time.Time) error {
	if !in.Amount.IsPositive() {
		return invalid("amount", "must be greater than zero")
	}
	if in.CharityID == 0 {
		return invalid("charity_id", "is required")
	}
	if in.Donor == nil && strings.TrimSpace(in.DonorEmail) == "" {
		return invalid("donor_email", "is required for guest donations")
	}
	if in.Recurring != nil {
		if !in.Recurring.Interval.IsValid() {
			return invalid("recurring_interval", "unknown interval %q", in.Recurring.Interval)
		}
		if in.Recurring.EndDate != nil && !in.Recurring.EndDate.After(donatedAt) {
			return invalid("recurring_end_date", "must be after the donation date")
		}
	}
	return nil
}

// CreateDonation records a donor's submission as pending. Reference numbers are checked
// globally; recurring donations open a subscription and enqueue their first successor.
func (s *DonationService) CreateDonation(ctx context.Context, in CreateDonationInput) (*models.Donation, error) {
	now := s.clock()
	donatedAt := in.DonatedAt
	if donatedAt.IsZero() {
		donatedAt = now
	}
	donatedAt = donatedAt.UTC().Truncate(time.Second)

	if err := in.validate(donatedAt); err != nil {
		return nil, err
	}
	ref := NormalizeReference(in.ReferenceNumber)

	donation := models.Donation{
		DonorName:       strings.TrimSpace(in.DonorName),
		DonorEmail:      strings.TrimSpace(in.DonorEmail),
		CharityID:       in.CharityID,
		CampaignID:      in.CampaignID,
		Amount:          in.Amount,
		Purpose:         in.Purpose,
		Status:          models.DonationStatusPending,
		IsAnonymous:     in.Anonymous,
		ReferenceNumber: ref,
		ProofPath:       in.ProofPath,
		DonatedAt:       donatedAt,
	}
	if in.Donor != nil {
		donorID := in.Donor.UserID
		donation.DonorID = &donorID
		if donation.DonorEmail == "" {
			donation.DonorEmail = in.Donor.Email
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.checkTarget(tx, in.CharityID, in.CampaignID, now); err != nil {
			return err
		}

		if ref != nil {
			if err := s.guard.check(tx, *ref); err != nil {
				return err
			}
		}

		var sub *models.RecurringSubscription
		if in.Recurring != nil {
			sub = &models.RecurringSubscription{
				ID:           uuid.NewString(),
				DonorID:      donation.DonorID,
				DonorEmail:   donation.DonorEmail,
				CharityID:    donation.CharityID,
				CampaignID:   donation.CampaignID,
				Amount:       donation.Amount,
				IntervalType: in.Recurring.Interval,
				StartsAt:     donatedAt,
				EndDate:      utcPtr(in.Recurring.EndDate),
			}
			if err := tx.Create(sub).Error; err != nil {
				return fmt.Errorf("failed to create subscription: %w", err)
			}
			donation.IsRecurring = true
			donation.RecurringInterval = sub.IntervalType
			donation.RecurringEndDate = sub.EndDate
			donation.SubscriptionID = &sub.ID
		}

		if err := tx.Omit(clause.Associations).Create(&donation).Error; err != nil {
			return fmt.Errorf("failed to create donation: %w", err)
		}

		if sub != nil {
			if _, err := enqueueSuccessor(tx, &donation, sub); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// A concurrent insert may have won the unique index after our check passed
		if ref != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
			if dupErr := s.guard.Check(ctx, *ref); dupErr != nil {
				return nil, dupErr
			}
		}
		return nil, err
	}

	log.Printf("Donation %d created for charity %d (amount %s, status %s)", donation.ID, donation.CharityID, donation.Amount, donation.Status)
	return &donation, nil
}

func (s *DonationService) checkTarget(tx *gorm.DB, charityID uint, campaignID *uint, now time.Time) error {
	var charity models.Charity
	if err := tx.First(&charity, charityID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrCharityNotFound
		}
		return fmt.Errorf("failed to load charity %d: %w", charityID, err)
	}

	if campaignID == nil {
		return nil
	}

	var campaign models.Campaign
	if err := tx.First(&campaign, *campaignID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrCampaignNotFound
		}
		return fmt.Errorf("failed to load campaign %d: %w", *campaignID, err)
	}
	if campaign.CharityID != charityID {
		return invalid("campaign_id", "campaign %d does not belong to charity %d", campaign.ID, charityID)
	}
	if campaign.Status == models.CampaignStatusCancelled {
		return invalid("campaign_id", "campaign %d is cancelled", campaign.ID)
	}
	if campaign.HasEnded(now) {
		return invalid("campaign_id", "campaign %d has ended", campaign.ID)
	}
	return nil
}

// ConfirmDonation applies a charity's review. Approval completes the donation, assigns a
// receipt and recalculates aggregates; rejection stores the reason and touches nothing else.
func (s *DonationService) ConfirmDonation(ctx context.Context, donationID uint, decision Decision, reason string) (*models.Donation, error) {
	if !decision.IsValid() {
		return nil, invalid("decision", "must be approve or reject")
	}

	now := s.clock()
	var (
		donation    models.Donation
		goalReached *models.Campaign
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockDonation(tx, donationID, &donation); err != nil {
			return err
		}

		if decision == DecisionReject {
			return s.rejectInTx(tx, &donation, reason)
		}

		var err error
		goalReached, err = s.completeInTx(tx, &donation, now)
		if err != nil {
			return err
		}

		// A scheduled occurrence completed by hand still has to continue its chain
		if donation.SubscriptionID != nil && donation.ParentDonationID != nil {
			sub, err := loadSubscription(tx, *donation.SubscriptionID)
			if err != nil {
				return err
			}
			if _, err := enqueueSuccessor(tx, &donation, sub); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, &donation, goalReached)
	return &donation, nil
}

func lockDonation(tx *gorm.DB, id uint, dest *models.Donation) error {
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(dest, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrDonationNotFound
		}
		return fmt.Errorf("failed to lock donation %d: %w", id, err)
	}
	return nil
}

// moveStatus performs a conditional update guarded by the expected current status. A lost race
// surfaces as InvalidStateTransitionError.
func moveStatus(tx *gorm.DB, d *models.Donation, to models.DonationStatus, updates map[string]interface{}) error {
	from := d.Status
	if !from.CanTransitionTo(to) {
		return &InvalidStateTransitionError{DonationID: d.ID, From: from, To: to}
	}

	updates["status"] = to
	res := tx.Model(&models.Donation{}).Where("id = ? AND status = ?", d.ID, from).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to move donation %d to %s: %w", d.ID, to, res.Error)
	}
	if res.RowsAffected == 0 {
		var current models.Donation
		if err := tx.Select("status").First(&current, d.ID).Error; err == nil {
			from = current.Status
		}
		return &InvalidStateTransitionError{DonationID: d.ID, From: from, To: to}
	}

	d.Status = to
	return nil
}

// completeInTx moves a pending or scheduled donation to completed, assigns the receipt and
// recalculates the affected aggregates.
func (s *DonationService) completeInTx(tx *gorm.DB, d *models.Donation, now time.Time) (*models.Campaign, error) {
	receipt := newReceiptNumber()
	if err := moveStatus(tx, d, models.DonationStatusCompleted, map[string]interface{}{
		"receipt_number": receipt,
	}); err != nil {
		return nil, err
	}
	d.ReceiptNumber = &receipt

	return s.aggregates.recalculateFor(tx, d, now)
}

func (s *DonationService) rejectInTx(tx *gorm.DB, d *models.Donation, reason string) error {
	reason = strings.TrimSpace(reason)
	if err := moveStatus(tx, d, models.DonationStatusRejected, map[string]interface{}{
		"rejection_reason": reason,
	}); err != nil {
		return err
	}
	d.RejectionReason = reason
	return nil
}

// refundInTx moves a completed donation to refunded and recalculates its aggregates
func (s *DonationService) refundInTx(tx *gorm.DB, d *models.Donation, now time.Time) error {
	if err := moveStatus(tx, d, models.DonationStatusRefunded, map[string]interface{}{
		"is_refunded": true,
		"refunded_at": now,
	}); err != nil {
		return err
	}
	d.IsRefunded = true
	d.RefundedAt = &now

	_, err := s.aggregates.recalculateFor(tx, d, now)
	return err
}

func newReceiptNumber() string {
	return "RCPT-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// afterCommit emits notifications and drops cached summaries for a donation that changed state
func (s *DonationService) afterCommit(ctx context.Context, d *models.Donation, goalReached *models.Campaign) {
	if d.CampaignID != nil {
		s.aggregates.invalidateCampaigns(ctx, *d.CampaignID)
	}

	var events []Event
	switch d.Status {
	case models.DonationStatusCompleted:
		events = append(events, donationEvent(EventDonationCompleted, d))
	case models.DonationStatusRejected:
		events = append(events, donationEvent(EventDonationRejected, d))
	}
	if goalReached != nil {
		events = append(events, goalReachedEvent(goalReached))
		log.Printf("Campaign %d reached its goal of %s", goalReached.ID, goalReached.TargetAmount)
	}
	dispatch(ctx, s.notifier, events...)
}

func donationEvent(t EventType, d *models.Donation) Event {
	payload := map[string]interface{}{
		"charity_id":  d.CharityID,
		"amount":      d.Amount.String(),
		"donor_email": d.DonorEmail,
		"status":      string(d.Status),
	}
	if d.DonorID != nil {
		payload["donor_id"] = *d.DonorID
	}
	if d.CampaignID != nil {
		payload["campaign_id"] = *d.CampaignID
	}
	if d.ReceiptNumber != nil {
		payload["receipt_number"] = *d.ReceiptNumber
	}
	if d.RejectionReason != "" {
		payload["reason"] = d.RejectionReason
	}
	return Event{Type: t, EntityType: "donation", EntityID: d.ID, Payload: payload}
}

// GetDonation loads a donation with its target
func (s *DonationService) GetDonation(ctx context.Context, id uint) (*models.Donation, error) {
	var d models.Donation
	if err := s.db.WithContext(ctx).Preload("Campaign").Preload("Charity").First(&d, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDonationNotFound
		}
		return nil, err
	}
	return &d, nil
}

// ListDonations returns one page of donations matching a validated filter and the total count
func (s *DonationService) ListDonations(ctx context.Context, filter DonationFilter) ([]models.Donation, int64, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}

	q := filter.apply(s.db.WithContext(ctx).Model(&models.Donation{}))

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count donations: %w", err)
	}

	var donations []models.Donation
	if err := q.Order(filter.order()).Limit(filter.PageSize).Offset(filter.offset()).Find(&donations).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list donations: %w", err)
	}
	return donations, total, nil
}

// AuthorizeCharityManager allows admins and the charity's owner
func (s *DonationService) AuthorizeCharityManager(ctx context.Context, actor models.Actor, charityID uint) error {
	return authorizeCharityManager(s.db.WithContext(ctx), actor, charityID)
}

func authorizeCharityManager(tx *gorm.DB, actor models.Actor, charityID uint) error {
	if actor.IsAdmin() {
		return nil
	}
	var charity models.Charity
	if err := tx.Select("id", "owner_id").First(&charity, charityID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrCharityNotFound
		}
		return err
	}
	if charity.OwnerID == 0 || charity.OwnerID != actor.UserID {
		return &UnauthorizedError{ActorID: actor.UserID, Reason: fmt.Sprintf("does not manage charity %d", charityID)}
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC().Truncate(time.Second)
	return &u
}
