package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"charity_ledger/internal/models"
)

// RefundWindowDays is how long after the donation a refund may be requested
const RefundWindowDays = 7

const refundWindow = RefundWindowDays * 24 * time.Hour

// RefundService validates refund requests and applies approved ones to the ledger
type RefundService struct {
	db     *gorm.DB
	ledger *DonationService
}

func NewRefundService(db *gorm.DB, ledger *DonationService) *RefundService {
	return &RefundService{db: db, ledger: ledger}
}

// WithinRefundWindow reports whether a donation made at donatedAt is still refundable at now.
// Exactly seven days passes; any positive remainder past that fails.
func WithinRefundWindow(donatedAt, now time.Time) bool {
	return now.Sub(donatedAt) <= refundWindow
}

// refundDaysRemaining counts whole days left in the window, zero once it has passed
func refundDaysRemaining(donatedAt, now time.Time) int {
	left := refundWindow - now.Sub(donatedAt)
	if left <= 0 {
		return 0
	}
	return int(left / (24 * time.Hour))
}

// RequestRefund checks the donor's request against the refund rules, in order: ownership,
// completed status, the refund window, the campaign still running, no pending request.
// The first failing rule is returned and nothing is written.
func (s *RefundService) RequestRefund(ctx context.Context, donationID uint, requester models.Actor, reason, proofPath string) (*models.RefundRequest, error) {
	now := s.ledger.clock()
	var request models.RefundRequest

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var donation models.Donation
		if err := lockDonation(tx, donationID, &donation); err != nil {
			return err
		}

		if !requesterOwns(requester, &donation) {
			return &UnauthorizedError{ActorID: requester.UserID, Reason: fmt.Sprintf("did not make donation %d", donation.ID)}
		}

		if donation.Status != models.DonationStatusCompleted {
			return &NotRefundableError{DonationID: donation.ID, Status: donation.Status}
		}

		if !WithinRefundWindow(donation.DonatedAt, now) {
			return &WindowExpiredError{
				DonationID:    donation.ID,
				DonatedAt:     donation.DonatedAt,
				DaysElapsed:   int(now.Sub(donation.DonatedAt) / (24 * time.Hour)),
				DaysRemaining: refundDaysRemaining(donation.DonatedAt, now),
			}
		}

		if donation.CampaignID != nil {
			var campaign models.Campaign
			if err := tx.First(&campaign, *donation.CampaignID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrCampaignNotFound
				}
				return fmt.Errorf("failed to load campaign %d: %w", *donation.CampaignID, err)
			}
			if campaign.HasEnded(now) || campaign.IsCompleted() {
				return &CampaignEndedError{CampaignID: campaign.ID, EndDate: campaign.EndDate, Completed: campaign.IsCompleted()}
			}
		}

		var existing models.RefundRequest
		err := tx.Where("donation_id = ? AND status = ?", donation.ID, models.RefundRequestStatusPending).
			First(&existing).Error
		if err == nil {
			return &DuplicateRequestError{DonationID: donation.ID, ExistingRequestID: existing.ID}
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to check pending refund requests: %w", err)
		}

		request = models.RefundRequest{
			DonationID:   donation.ID,
			RequesterID:  requester.UserID,
			CharityID:    donation.CharityID,
			Reason:       strings.TrimSpace(reason),
			ProofPath:    proofPath,
			Status:       models.RefundRequestStatusPending,
			RefundAmount: donation.Amount,
		}
		if err := tx.Omit(clause.Associations).Create(&request).Error; err != nil {
			return fmt.Errorf("failed to create refund request: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Refund request %d opened for donation %d (amount %s)", request.ID, request.DonationID, request.RefundAmount)
	dispatch(ctx, s.ledger.notifier, refundEvent(EventRefundRequested, &request))
	return &request, nil
}

func requesterOwns(requester models.Actor, d *models.Donation) bool {
	if d.DonorID != nil {
		return requester.UserID != 0 && *d.DonorID == requester.UserID
	}
	return requester.EmailMatches(d.DonorEmail)
}

// ReviewRefund resolves a pending request exactly once. Approval refunds the donation and
// recalculates its aggregates in the same transaction, so a failed refund leaves the request
// pending. Denial only touches the request.
func (s *RefundService) ReviewRefund(ctx context.Context, requestID uint, reviewer models.Actor, decision Decision, response string) (*models.RefundRequest, error) {
	if !decision.IsValid() {
		return nil, invalid("decision", "must be approve or reject")
	}

	now := s.ledger.clock()
	var (
		request  models.RefundRequest
		donation models.Donation
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&request, requestID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRefundRequestNotFound
			}
			return fmt.Errorf("failed to lock refund request %d: %w", requestID, err)
		}
		if err := authorizeCharityManager(tx, reviewer, request.CharityID); err != nil {
			return err
		}
		if request.IsResolved() {
			return &AlreadyReviewedError{RequestID: request.ID, Status: request.Status}
		}

		status := models.RefundRequestStatusDenied
		if decision == DecisionApprove {
			status = models.RefundRequestStatusApproved
		}
		reviewerID := reviewer.UserID
		res := tx.Model(&models.RefundRequest{}).
			Where("id = ? AND status = ?", request.ID, models.RefundRequestStatusPending).
			Updates(map[string]interface{}{
				"status":           status,
				"reviewer_id":      reviewerID,
				"reviewed_at":      now,
				"charity_response": strings.TrimSpace(response),
			})
		if res.Error != nil {
			return fmt.Errorf("failed to update refund request %d: %w", request.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			return &AlreadyReviewedError{RequestID: request.ID, Status: request.Status}
		}
		request.Status = status
		request.ReviewerID = &reviewerID
		request.ReviewedAt = &now
		request.CharityResponse = strings.TrimSpace(response)

		if decision != DecisionApprove {
			return nil
		}

		if err := lockDonation(tx, request.DonationID, &donation); err != nil {
			return err
		}
		return s.ledger.refundInTx(tx, &donation, now)
	})
	if err != nil {
		return nil, err
	}

	if decision == DecisionApprove {
		log.Printf("Refund request %d approved, donation %d refunded", request.ID, donation.ID)
		if donation.CampaignID != nil {
			s.ledger.aggregates.invalidateCampaigns(ctx, *donation.CampaignID)
		}
		dispatch(ctx, s.ledger.notifier, refundEvent(EventRefundApproved, &request))
	} else {
		log.Printf("Refund request %d denied", request.ID)
		dispatch(ctx, s.ledger.notifier, refundEvent(EventRefundDenied, &request))
	}
	return &request, nil
}

func refundEvent(t EventType, r *models.RefundRequest) Event {
	payload := map[string]interface{}{
		"donation_id":   r.DonationID,
		"charity_id":    r.CharityID,
		"requester_id":  r.RequesterID,
		"refund_amount": r.RefundAmount.String(),
		"status":        string(r.Status),
	}
	if r.CharityResponse != "" {
		payload["response"] = r.CharityResponse
	}
	return Event{Type: t, EntityType: "refund_request", EntityID: r.ID, Payload: payload}
}

// GetRefundRequest loads a refund request with its donation
func (s *RefundService) GetRefundRequest(ctx context.Context, id uint) (*models.RefundRequest, error) {
	var r models.RefundRequest
	if err := s.db.WithContext(ctx).Preload("Donation").First(&r, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRefundRequestNotFound
		}
		return nil, err
	}
	return &r, nil
}

// WindowDivergence is a completed donation whose refund eligibility would differ if the window
// were measured from the record's creation time instead of the donation time
type WindowDivergence struct {
	DonationID        uint      `json:"donation_id"`
	DonatedAt         time.Time `json:"donated_at"`
	CreatedAt         time.Time `json:"created_at"`
	EligibleByDonated bool      `json:"eligible_by_donated_at"`
	EligibleByCreated bool      `json:"eligible_by_created_at"`
}

// RefundWindowDivergences lists refundable-looking donations where the two timestamps disagree
// about eligibility at now. The donation time stays authoritative; these are reported only.
func (s *RefundService) RefundWindowDivergences(ctx context.Context, now time.Time) ([]WindowDivergence, error) {
	now = now.UTC()
	cutoff := now.Add(-refundWindow)

	var candidates []models.Donation
	err := s.db.WithContext(ctx).
		Select("id", "donated_at", "created_at").
		Where("status = ? AND is_refunded = ?", models.DonationStatusCompleted, false).
		Where("donated_at >= ? OR created_at >= ?", cutoff, cutoff).
		Order("id").
		Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load donations for window audit: %w", err)
	}

	var out []WindowDivergence
	for _, d := range candidates {
		byDonated := WithinRefundWindow(d.DonatedAt, now)
		byCreated := WithinRefundWindow(d.CreatedAt, now)
		if byDonated == byCreated {
			continue
		}
		out = append(out, WindowDivergence{
			DonationID:        d.ID,
			DonatedAt:         d.DonatedAt,
			CreatedAt:         d.CreatedAt,
			EligibleByDonated: byDonated,
			EligibleByCreated: byCreated,
		})
	}
	return out, nil
}
