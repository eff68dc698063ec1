package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"charity_ledger/internal/models"
)

// CampaignInput describes a new fundraising campaign
type CampaignInput struct {
	Title        string
	TargetAmount decimal.Decimal
	EndDate      *time.Time
}

// CatalogService manages the charities and campaigns donations point at. Totals are never
// written here; they belong to AggregateService.
type CatalogService struct {
	db         *gorm.DB
	aggregates *AggregateService
	clock      func() time.Time
}

func NewCatalogService(db *gorm.DB, aggregates *AggregateService) *CatalogService {
	return &CatalogService{
		db:         db,
		aggregates: aggregates,
		clock:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source
func (s *CatalogService) SetClock(clock func() time.Time) {
	s.clock = clock
}

// RegisterCharity creates a charity owned by a charity manager. Admin only.
func (s *CatalogService) RegisterCharity(ctx context.Context, actor models.Actor, name string, ownerID uint) (*models.Charity, error) {
	if !actor.IsAdmin() {
		return nil, &UnauthorizedError{ActorID: actor.UserID, Reason: "only admins register charities"}
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalid("name", "is required")
	}

	var owner models.User
	if err := s.db.WithContext(ctx).First(&owner, ownerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, invalid("owner_id", "user %d does not exist", ownerID)
		}
		return nil, fmt.Errorf("failed to load owner %d: %w", ownerID, err)
	}
	if owner.UserType != models.UserTypeCharityManager && owner.UserType != models.UserTypeAdmin {
		return nil, invalid("owner_id", "user %d is not a charity manager", ownerID)
	}

	charity := models.Charity{Name: name, OwnerID: owner.ID}
	if err := s.db.WithContext(ctx).Create(&charity).Error; err != nil {
		return nil, fmt.Errorf("failed to create charity: %w", err)
	}
	log.Printf("Charity %d registered for owner %d", charity.ID, owner.ID)
	return &charity, nil
}

// CreateCampaign opens an active campaign under a charity the actor manages
func (s *CatalogService) CreateCampaign(ctx context.Context, actor models.Actor, charityID uint, in CampaignInput) (*models.Campaign, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, invalid("title", "is required")
	}
	if in.TargetAmount.IsNegative() {
		return nil, invalid("target_amount", "must not be negative")
	}
	if in.TargetAmount.Exponent() < -2 {
		return nil, invalid("target_amount", "must have at most two decimal places")
	}
	endDate := utcPtr(in.EndDate)
	if endDate != nil && !endDate.After(s.clock()) {
		return nil, invalid("end_date", "must be in the future")
	}

	db := s.db.WithContext(ctx)
	var charity models.Charity
	if err := db.Select("id").First(&charity, charityID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCharityNotFound
		}
		return nil, fmt.Errorf("failed to load charity %d: %w", charityID, err)
	}
	if err := authorizeCharityManager(db, actor, charityID); err != nil {
		return nil, err
	}

	campaign := models.Campaign{
		CharityID:    charityID,
		Title:        title,
		TargetAmount: in.TargetAmount,
		EndDate:      endDate,
		Status:       models.CampaignStatusActive,
	}
	if err := db.Create(&campaign).Error; err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}
	log.Printf("Campaign %d created for charity %d (target %s)", campaign.ID, charityID, campaign.TargetAmount)
	return &campaign, nil
}

// CancelCampaign stops a campaign from accepting new donations. Donations already recorded,
// and their totals, are left as they are.
func (s *CatalogService) CancelCampaign(ctx context.Context, actor models.Actor, campaignID uint) (*models.Campaign, error) {
	var campaign models.Campaign

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&campaign, campaignID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCampaignNotFound
			}
			return fmt.Errorf("failed to load campaign %d: %w", campaignID, err)
		}
		if err := authorizeCharityManager(tx, actor, campaign.CharityID); err != nil {
			return err
		}
		if campaign.Status != models.CampaignStatusActive {
			return invalid("status", "campaign %d is already %s", campaign.ID, campaign.Status)
		}

		res := tx.Model(&models.Campaign{}).
			Where("id = ? AND status = ?", campaign.ID, models.CampaignStatusActive).
			Update("status", models.CampaignStatusCancelled)
		if res.Error != nil {
			return fmt.Errorf("failed to cancel campaign %d: %w", campaign.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			return invalid("status", "campaign %d changed concurrently", campaign.ID)
		}
		campaign.Status = models.CampaignStatusCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.aggregates.invalidateCampaigns(ctx, campaign.ID)
	log.Printf("Campaign %d cancelled by user %d", campaign.ID, actor.UserID)
	return &campaign, nil
}
