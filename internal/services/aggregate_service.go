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
	"gorm.io/gorm/clause"

	"charity_ledger/internal/models"
)

const campaignSummaryTTL = 5 * time.Minute

// Totals is a fresh recomputation over authoritative donation rows
type Totals struct {
	Amount     decimal.Decimal `json:"amount"`
	DonorCount int             `json:"donor_count"`
}

// CampaignSummary is the read model served to campaign pages
type CampaignSummary struct {
	CampaignID    uint                  `json:"campaign_id"`
	Title         string                `json:"title"`
	Status        models.CampaignStatus `json:"status"`
	TargetAmount  decimal.Decimal       `json:"target_amount"`
	CurrentAmount decimal.Decimal       `json:"current_amount"`
	DonorCount    int                   `json:"donor_count"`
	EndDate       *time.Time            `json:"end_date"`
}

// RepairReport describes one operator-triggered recalculation of a charity
type RepairReport struct {
	CharityID        uint   `json:"charity_id"`
	CampaignsChecked int    `json:"campaigns_checked"`
	Drifted          []uint `json:"drifted_campaigns"`
	CharityDrifted   bool   `json:"charity_drifted"`
	GoalReached      []uint `json:"goal_reached_campaigns"`
}

// AggregateService recomputes campaign and charity totals from donation rows. It is called
// explicitly by every operation that changes a donation's contribution.
type AggregateService struct {
	db       *gorm.DB
	cache    *RedisCache
	notifier Notifier
}

func NewAggregateService(db *gorm.DB, cache *RedisCache) *AggregateService {
	return &AggregateService{db: db, cache: cache, notifier: NopNotifier{}}
}

// SetNotifier sets where goal completions found by repair runs are announced
func (s *AggregateService) SetNotifier(n Notifier) {
	if n == nil {
		n = NopNotifier{}
	}
	s.notifier = n
}

type contributionRow struct {
	ID         uint
	Amount     decimal.Decimal
	DonorID    *uint
	DonorEmail string
}

func computeTotals(scope string, id uint, rows []contributionRow) (Totals, error) {
	total := decimal.Zero
	donors := make(map[string]struct{}, len(rows))

	for _, r := range rows {
		if !r.Amount.IsPositive() {
			return Totals{}, &ConsistencyError{Scope: scope, ID: id,
				Detail: fmt.Sprintf("donation %d has non-positive amount %s", r.ID, r.Amount)}
		}
		total = total.Add(r.Amount)
		donors[donorKey(r)] = struct{}{}
	}

	if total.IsNegative() {
		return Totals{}, &ConsistencyError{Scope: scope, ID: id, Detail: "negative raised amount " + total.String()}
	}
	return Totals{Amount: total, DonorCount: len(donors)}, nil
}

// donorKey identifies a donor: the account, else the email, else the donation itself
func donorKey(r contributionRow) string {
	if r.DonorID != nil {
		return fmt.Sprintf("user:%d", *r.DonorID)
	}
	if email := strings.ToLower(strings.TrimSpace(r.DonorEmail)); email != "" {
		return "email:" + email
	}
	return fmt.Sprintf("donation:%d", r.ID)
}

func contributingDonations(tx *gorm.DB) *gorm.DB {
	return tx.Model(&models.Donation{}).
		Select("id", "amount", "donor_id", "donor_email").
		Where("status = ? AND is_refunded = ?", models.DonationStatusCompleted, false)
}

func logConsistency(err error) error {
	var ce *ConsistencyError
	if errors.As(err, &ce) {
		log.Printf("CONSISTENCY: %v", ce)
	}
	return err
}

// RecalculateCampaign locks the campaign row and rewrites its totals. Must run inside a transaction.
func (s *AggregateService) RecalculateCampaign(tx *gorm.DB, campaignID uint) (*models.Campaign, error) {
	var campaign models.Campaign
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&campaign, campaignID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCampaignNotFound
		}
		return nil, fmt.Errorf("failed to lock campaign %d: %w", campaignID, err)
	}

	var rows []contributionRow
	if err := contributingDonations(tx).Where("campaign_id = ?", campaignID).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load donations for campaign %d: %w", campaignID, err)
	}

	totals, err := computeTotals("campaign", campaignID, rows)
	if err != nil {
		return nil, logConsistency(err)
	}

	if err := tx.Model(&campaign).Updates(map[string]interface{}{
		"current_amount": totals.Amount,
		"donor_count":    totals.DonorCount,
	}).Error; err != nil {
		return nil, fmt.Errorf("failed to update campaign %d totals: %w", campaignID, err)
	}

	campaign.CurrentAmount = totals.Amount
	campaign.DonorCount = totals.DonorCount
	return &campaign, nil
}

// RecalculateCharity locks the charity row and rewrites its totals across campaigns and
// direct donations. Must run inside a transaction.
func (s *AggregateService) RecalculateCharity(tx *gorm.DB, charityID uint) (*models.Charity, error) {
	var charity models.Charity
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&charity, charityID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCharityNotFound
		}
		return nil, fmt.Errorf("failed to lock charity %d: %w", charityID, err)
	}

	var rows []contributionRow
	if err := contributingDonations(tx).Where("charity_id = ?", charityID).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load donations for charity %d: %w", charityID, err)
	}

	totals, err := computeTotals("charity", charityID, rows)
	if err != nil {
		return nil, logConsistency(err)
	}

	if err := tx.Model(&charity).Updates(map[string]interface{}{
		"current_amount": totals.Amount,
		"donor_count":    totals.DonorCount,
	}).Error; err != nil {
		return nil, fmt.Errorf("failed to update charity %d totals: %w", charityID, err)
	}

	charity.CurrentAmount = totals.Amount
	charity.DonorCount = totals.DonorCount
	return &charity, nil
}

// completeIfGoalReached marks an active campaign completed the first time its raised amount
// meets a positive target. Cancelled campaigns keep their status. Returns true only for the
// call that performed the transition.
func (s *AggregateService) completeIfGoalReached(tx *gorm.DB, campaign *models.Campaign, now time.Time) (bool, error) {
	if campaign.Status != models.CampaignStatusActive || !campaign.GoalReached(campaign.CurrentAmount) {
		return false, nil
	}

	res := tx.Model(&models.Campaign{}).
		Where("id = ? AND status = ?", campaign.ID, models.CampaignStatusActive).
		Updates(map[string]interface{}{
			"status":       models.CampaignStatusCompleted,
			"completed_at": now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to complete campaign %d: %w", campaign.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	campaign.Status = models.CampaignStatusCompleted
	campaign.CompletedAt = &now
	return true, nil
}

// recalculateFor refreshes every aggregate the donation contributes to, campaign first, then
// charity. The returned campaign is non-nil only when this call completed its goal.
func (s *AggregateService) recalculateFor(tx *gorm.DB, d *models.Donation, now time.Time) (*models.Campaign, error) {
	var goalReached *models.Campaign

	if d.CampaignID != nil {
		campaign, err := s.RecalculateCampaign(tx, *d.CampaignID)
		if err != nil {
			return nil, err
		}
		reached, err := s.completeIfGoalReached(tx, campaign, now)
		if err != nil {
			return nil, err
		}
		if reached {
			goalReached = campaign
		}
	}

	if _, err := s.RecalculateCharity(tx, d.CharityID); err != nil {
		return nil, err
	}
	return goalReached, nil
}

// RepairCharity recomputes every campaign of the charity and the charity itself in one
// transaction, reporting rows whose stored totals had drifted. A campaign whose goal is met
// for the first time by the repair is completed and announced after commit.
func (s *AggregateService) RepairCharity(ctx context.Context, charityID uint, now time.Time) (*RepairReport, error) {
	report := &RepairReport{CharityID: charityID}
	var completed []models.Campaign

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var before []models.Campaign
		if err := tx.Where("charity_id = ?", charityID).Order("id").Find(&before).Error; err != nil {
			return fmt.Errorf("failed to list campaigns: %w", err)
		}

		for _, old := range before {
			campaign, err := s.RecalculateCampaign(tx, old.ID)
			if err != nil {
				return err
			}
			report.CampaignsChecked++
			if !campaign.CurrentAmount.Equal(old.CurrentAmount) || campaign.DonorCount != old.DonorCount {
				report.Drifted = append(report.Drifted, campaign.ID)
				log.Printf("Campaign %d totals drifted: stored %s/%d, recomputed %s/%d",
					campaign.ID, old.CurrentAmount, old.DonorCount, campaign.CurrentAmount, campaign.DonorCount)
			}
			reached, err := s.completeIfGoalReached(tx, campaign, now)
			if err != nil {
				return err
			}
			if reached {
				report.GoalReached = append(report.GoalReached, campaign.ID)
				completed = append(completed, *campaign)
			}
		}

		var oldCharity models.Charity
		if err := tx.First(&oldCharity, charityID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCharityNotFound
			}
			return err
		}
		charity, err := s.RecalculateCharity(tx, charityID)
		if err != nil {
			return err
		}
		report.CharityDrifted = !charity.CurrentAmount.Equal(oldCharity.CurrentAmount) || charity.DonorCount != oldCharity.DonorCount
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateCampaigns(ctx, report.Drifted...)
	s.invalidateCampaigns(ctx, report.GoalReached...)
	for i := range completed {
		log.Printf("Campaign %d reached its goal of %s during repair", completed[i].ID, completed[i].TargetAmount)
		dispatch(ctx, s.notifier, goalReachedEvent(&completed[i]))
	}
	return report, nil
}

func goalReachedEvent(c *models.Campaign) Event {
	return Event{
		Type:       EventCampaignGoalReached,
		EntityType: "campaign",
		EntityID:   c.ID,
		Payload: map[string]interface{}{
			"charity_id":     c.CharityID,
			"title":          c.Title,
			"target_amount":  c.TargetAmount.String(),
			"current_amount": c.CurrentAmount.String(),
		},
	}
}

// CampaignSummary returns the campaign read model, cached in Redis when configured
func (s *AggregateService) CampaignSummary(ctx context.Context, campaignID uint) (*CampaignSummary, error) {
	return GetOrSet(s.cache, ctx, campaignSummaryKey(campaignID), campaignSummaryTTL, func() (*CampaignSummary, error) {
		var campaign models.Campaign
		if err := s.db.WithContext(ctx).First(&campaign, campaignID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrCampaignNotFound
			}
			return nil, err
		}
		return &CampaignSummary{
			CampaignID:    campaign.ID,
			Title:         campaign.Title,
			Status:        campaign.Status,
			TargetAmount:  campaign.TargetAmount,
			CurrentAmount: campaign.CurrentAmount,
			DonorCount:    campaign.DonorCount,
			EndDate:       campaign.EndDate,
		}, nil
	})
}

func campaignSummaryKey(id uint) string {
	return fmt.Sprintf("campaign:%d:summary", id)
}

// invalidateCampaigns drops cached summaries after commit
func (s *AggregateService) invalidateCampaigns(ctx context.Context, ids ...uint) {
	if s.cache == nil || len(ids) == 0 {
		return
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, campaignSummaryKey(id))
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		log.Printf("Failed to invalidate campaign summaries %v: %v", ids, err)
	}
}
