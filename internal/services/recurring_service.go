package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"charity_ledger/internal/models"
)

const defaultSweepBatchSize = 500

// errNotClaimed aborts a sweep transaction whose row was taken by another run
var errNotClaimed = errors.New("occurrence already claimed")

// RecurringService generates successor occurrences for recurring donations and completes them
// when they fall due.
type RecurringService struct {
	db        *gorm.DB
	ledger    *DonationService
	batchSize int
}

func NewRecurringService(db *gorm.DB, ledger *DonationService) *RecurringService {
	return &RecurringService{db: db, ledger: ledger, batchSize: defaultSweepBatchSize}
}

// SetBatchSize limits how many due occurrences one sweep picks up
func (s *RecurringService) SetBatchSize(n int) {
	if n > 0 {
		s.batchSize = n
	}
}

func loadSubscription(tx *gorm.DB, id string) (*models.RecurringSubscription, error) {
	var sub models.RecurringSubscription
	if err := tx.First(&sub, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to load subscription %s: %w", id, err)
	}
	return &sub, nil
}

// enqueueSuccessor inserts the next scheduled occurrence after parent, copying the donor,
// target and recurring settings. Nothing is created once the subscription is cancelled or the
// next date would pass the end date.
func enqueueSuccessor(tx *gorm.DB, parent *models.Donation, sub *models.RecurringSubscription) (*models.Donation, error) {
	if sub == nil || sub.IsCancelled() {
		return nil, clearNextOccurrence(tx, parent)
	}

	next, ok, err := sub.NextOccurrence(parent.DonatedAt)
	if err != nil {
		return nil, invalid("recurring_interval", "%v", err)
	}
	if !ok {
		return nil, clearNextOccurrence(tx, parent)
	}

	successor := models.Donation{
		DonorID:            parent.DonorID,
		DonorName:          parent.DonorName,
		DonorEmail:         parent.DonorEmail,
		CharityID:          parent.CharityID,
		CampaignID:         parent.CampaignID,
		Amount:             parent.Amount,
		Purpose:            parent.Purpose,
		Status:             models.DonationStatusScheduled,
		IsAnonymous:        parent.IsAnonymous,
		IsRecurring:        true,
		RecurringInterval:  parent.RecurringInterval,
		RecurringEndDate:   parent.RecurringEndDate,
		NextOccurrenceDate: &next,
		ParentDonationID:   &parent.ID,
		SubscriptionID:     parent.SubscriptionID,
		DonatedAt:          next,
	}
	if err := tx.Omit(clause.Associations).Create(&successor).Error; err != nil {
		return nil, fmt.Errorf("failed to create successor of donation %d: %w", parent.ID, err)
	}

	if err := tx.Model(&models.Donation{}).Where("id = ?", parent.ID).
		Update("next_occurrence_date", next).Error; err != nil {
		return nil, fmt.Errorf("failed to advance donation %d: %w", parent.ID, err)
	}
	parent.NextOccurrenceDate = &next

	return &successor, nil
}

func clearNextOccurrence(tx *gorm.DB, d *models.Donation) error {
	if d.NextOccurrenceDate == nil {
		return nil
	}
	if err := tx.Model(&models.Donation{}).Where("id = ?", d.ID).
		Update("next_occurrence_date", nil).Error; err != nil {
		return fmt.Errorf("failed to close chain at donation %d: %w", d.ID, err)
	}
	d.NextOccurrenceDate = nil
	return nil
}

// RunRecurringSweep completes every due scheduled occurrence and enqueues the one after it.
// Each row is claimed in its own transaction, so overlapping sweeps process a row once.
// Failures do not stop the batch; they are returned together as a SweepError.
func (s *RecurringService) RunRecurringSweep(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC()

	var due []uint
	err := s.db.WithContext(ctx).Model(&models.Donation{}).
		Where("status = ? AND next_occurrence_date <= ?", models.DonationStatusScheduled, now).
		Where("recurring_end_date IS NULL OR recurring_end_date >= ?", now).
		Order("next_occurrence_date, id").
		Limit(s.batchSize).
		Pluck("id", &due).Error
	if err != nil {
		return 0, fmt.Errorf("failed to select due occurrences: %w", err)
	}

	if len(due) == 0 {
		return 0, nil
	}
	log.Printf("Recurring sweep found %d due occurrence(s)", len(due))

	processed := 0
	var failures []SweepFailure
	for _, id := range due {
		if ctx.Err() != nil {
			failures = append(failures, SweepFailure{DonationID: id, Err: ctx.Err()})
			break
		}

		claimed, err := s.processOccurrence(ctx, id, now)
		if err != nil {
			log.Printf("Recurring sweep failed for donation %d: %v", id, err)
			failures = append(failures, SweepFailure{DonationID: id, Err: err})
			continue
		}
		if claimed {
			processed++
		}
	}

	log.Printf("Recurring sweep processed %d occurrence(s), %d failure(s)", processed, len(failures))
	if len(failures) > 0 {
		sweepErr := &SweepError{Failures: failures}
		dispatch(ctx, s.ledger.notifier, Event{
			Type:       EventRecurringSweepFailed,
			EntityType: "sweep",
			Payload: map[string]interface{}{
				"failures": len(failures),
				"error":    sweepErr.Error(),
			},
		})
		return processed, sweepErr
	}
	return processed, nil
}

// processOccurrence claims one scheduled row, completes it through the ledger and enqueues
// the next occurrence. Returns false when another run already took the row.
func (s *RecurringService) processOccurrence(ctx context.Context, id uint, now time.Time) (bool, error) {
	var (
		donation    models.Donation
		goalReached *models.Campaign
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&donation, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrDonationNotFound
			}
			return err
		}
		var err error
		goalReached, err = s.claimOccurrence(tx, &donation, now)
		return err
	})
	if errors.Is(err, errNotClaimed) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.ledger.afterCommit(ctx, &donation, goalReached)
	return true, nil
}

// claimOccurrence completes a scheduled row read earlier in tx and enqueues its successor.
// The status update is conditional on the row still being scheduled, so a row another run
// completed after the read yields errNotClaimed and changes nothing.
func (s *RecurringService) claimOccurrence(tx *gorm.DB, donation *models.Donation, now time.Time) (*models.Campaign, error) {
	if donation.Status != models.DonationStatusScheduled {
		return nil, errNotClaimed
	}

	goalReached, err := s.ledger.completeInTx(tx, donation, now)
	if err != nil {
		var ist *InvalidStateTransitionError
		if errors.As(err, &ist) && ist.From != models.DonationStatusScheduled {
			return nil, errNotClaimed
		}
		return nil, err
	}

	var sub *models.RecurringSubscription
	if donation.SubscriptionID != nil {
		if sub, err = loadSubscription(tx, *donation.SubscriptionID); err != nil {
			return nil, err
		}
	}
	if _, err := enqueueSuccessor(tx, donation, sub); err != nil {
		return nil, err
	}
	return goalReached, nil
}

// CancelSubscription stops future successor generation. Occurrences already created are
// left untouched.
func (s *RecurringService) CancelSubscription(ctx context.Context, subscriptionID string, actor models.Actor) (*models.RecurringSubscription, error) {
	var sub models.RecurringSubscription

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loaded, err := loadSubscription(tx, subscriptionID)
		if err != nil {
			return err
		}
		sub = *loaded

		if !actor.IsAdmin() {
			owns := sub.DonorID != nil && *sub.DonorID == actor.UserID
			if sub.DonorID == nil {
				owns = actor.EmailMatches(sub.DonorEmail)
			}
			if !owns {
				return &UnauthorizedError{ActorID: actor.UserID, Reason: "not the subscription donor"}
			}
		}

		if sub.IsCancelled() {
			return nil
		}
		now := s.ledger.clock()
		if err := tx.Model(&models.RecurringSubscription{}).Where("id = ?", sub.ID).
			Update("cancelled_at", now).Error; err != nil {
			return fmt.Errorf("failed to cancel subscription %s: %w", sub.ID, err)
		}
		sub.CancelledAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Subscription %s cancelled", sub.ID)
	return &sub, nil
}

// ListOccurrences returns every donation of a subscription in schedule order
func (s *RecurringService) ListOccurrences(ctx context.Context, subscriptionID string) ([]models.Donation, error) {
	db := s.db.WithContext(ctx)
	if _, err := loadSubscription(db, subscriptionID); err != nil {
		return nil, err
	}

	var occurrences []models.Donation
	if err := db.Where("subscription_id = ?", subscriptionID).
		Order("donated_at, id").
		Find(&occurrences).Error; err != nil {
		return nil, fmt.Errorf("failed to list occurrences of %s: %w", subscriptionID, err)
	}
	return occurrences, nil
}
