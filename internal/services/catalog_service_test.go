package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"charity_ledger/internal/models"
)

func (f *fixture) catalog() *CatalogService {
	s := NewCatalogService(f.db, f.aggregates)
	s.SetClock(func() time.Time { return f.now })
	return s
}

func TestRegisterCharity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	catalog := f.catalog()

	charity, err := catalog.RegisterCharity(ctx, f.actor(f.admin), "  Harbour Kitchen ", f.owner.ID)
	if err != nil {
		t.Fatalf("RegisterCharity failed: %v", err)
	}
	if charity.Name != "Harbour Kitchen" || charity.OwnerID != f.owner.ID || !charity.CurrentAmount.IsZero() {
		t.Errorf("charity = %+v", charity)
	}

	tests := []struct {
		name    string
		actor   models.Actor
		charity string
		ownerID uint
		wantErr error
	}{
		{"manager cannot register", f.actor(f.owner), "Second", f.owner.ID, ErrUnauthorized},
		{"blank name", f.actor(f.admin), "   ", f.owner.ID, ErrValidation},
		{"unknown owner", f.actor(f.admin), "Ghost", 999, ErrValidation},
		{"donor cannot own", f.actor(f.admin), "Donor Fund", f.donor.ID, ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := catalog.RegisterCharity(ctx, tt.actor, tt.charity, tt.ownerID); !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCreateCampaign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	catalog := f.catalog()
	future := f.now.Add(30 * 24 * time.Hour)
	past := f.now.Add(-time.Hour)

	campaign, err := catalog.CreateCampaign(ctx, f.actor(f.owner), f.charity.ID, CampaignInput{
		Title: "Clean water", TargetAmount: dec("2500.50"), EndDate: &future,
	})
	if err != nil {
		t.Fatalf("CreateCampaign failed: %v", err)
	}
	if campaign.Status != models.CampaignStatusActive || campaign.CharityID != f.charity.ID {
		t.Errorf("campaign = %+v", campaign)
	}

	// Donations can target it straight away
	f.completed(t, &campaign.ID, "500")
	if c := f.reloadCampaign(t, campaign.ID); !c.CurrentAmount.Equal(dec("500")) {
		t.Errorf("campaign amount = %s, want 500", c.CurrentAmount)
	}

	tests := []struct {
		name      string
		actor     models.Actor
		charityID uint
		in        CampaignInput
		wantErr   error
	}{
		{"another donor", f.actor(f.other), f.charity.ID, CampaignInput{Title: "x", TargetAmount: dec("1")}, ErrUnauthorized},
		{"unknown charity", f.actor(f.admin), 999, CampaignInput{Title: "x", TargetAmount: dec("1")}, ErrCharityNotFound},
		{"missing title", f.actor(f.owner), f.charity.ID, CampaignInput{TargetAmount: dec("1")}, ErrValidation},
		{"negative target", f.actor(f.owner), f.charity.ID, CampaignInput{Title: "x", TargetAmount: dec("-1")}, ErrValidation},
		{"sub-cent target", f.actor(f.owner), f.charity.ID, CampaignInput{Title: "x", TargetAmount: dec("1.005")}, ErrValidation},
		{"end date in the past", f.actor(f.owner), f.charity.ID, CampaignInput{Title: "x", TargetAmount: dec("1"), EndDate: &past}, ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := catalog.CreateCampaign(ctx, tt.actor, tt.charityID, tt.in); !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCancelCampaign(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	f := newFixture(t)
	ctx := context.Background()
	f.aggregates.cache = NewRedisCacheFromClient(client)
	catalog := f.catalog()

	campaign := f.campaign(t, "1000", nil)
	f.completed(t, &campaign.ID, "200")
	pending := f.donate(t, &campaign.ID, "50")

	if _, err := f.aggregates.CampaignSummary(ctx, campaign.ID); err != nil {
		t.Fatalf("CampaignSummary failed: %v", err)
	}
	if !mr.Exists(campaignSummaryKey(campaign.ID)) {
		t.Fatal("summary not cached")
	}

	if _, err := catalog.CancelCampaign(ctx, f.actor(f.donor), campaign.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("donor cancel err = %v, want unauthorized", err)
	}

	cancelled, err := catalog.CancelCampaign(ctx, f.actor(f.owner), campaign.ID)
	if err != nil {
		t.Fatalf("CancelCampaign failed: %v", err)
	}
	if cancelled.Status != models.CampaignStatusCancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}
	if mr.Exists(campaignSummaryKey(campaign.ID)) {
		t.Error("summary cache not invalidated")
	}

	// Totals stay, new donations are refused, pending ones can still be decided
	if c := f.reloadCampaign(t, campaign.ID); !c.CurrentAmount.Equal(dec("200")) {
		t.Errorf("campaign amount = %s, want 200", c.CurrentAmount)
	}
	donor := f.donor.Actor()
	_, err = f.donations.CreateDonation(ctx, CreateDonationInput{
		Donor: &donor, CharityID: f.charity.ID, CampaignID: &campaign.ID, Amount: dec("10"),
	})
	var valErr *ValidationError
	if !errors.As(err, &valErr) || valErr.Field != "campaign_id" {
		t.Errorf("donation to cancelled campaign err = %v", err)
	}
	if _, err := f.donations.ConfirmDonation(ctx, pending.ID, DecisionReject, "campaign closed"); err != nil {
		t.Errorf("rejecting pending donation failed: %v", err)
	}

	if _, err := catalog.CancelCampaign(ctx, f.actor(f.admin), campaign.ID); !errors.Is(err, ErrValidation) {
		t.Errorf("second cancel err = %v, want validation error", err)
	}
	if _, err := catalog.CancelCampaign(ctx, f.actor(f.admin), 999); !errors.Is(err, ErrCampaignNotFound) {
		t.Errorf("unknown campaign err = %v", err)
	}
}
