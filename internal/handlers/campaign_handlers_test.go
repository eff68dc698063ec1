package handlers

import (
	"net/http"
	"testing"

	"github.com/shopspring/decimal"

	"charity_ledger/internal/models"
	"charity_ledger/internal/services"
)

func TestCampaignSummaryIsPublic(t *testing.T) {
	a := newAPI(t)
	campaign := a.campaign("500")
	a.completedDonation(&campaign.ID, "200")

	rec := a.do(http.MethodGet, "/campaigns/"+itoa(campaign.ID)+"/summary", models.User{}, nil)
	expectStatus(t, rec, http.StatusOK)
	summary := decode[services.CampaignSummary](t, rec)
	if !summary.CurrentAmount.Equal(decimal.NewFromInt(200)) || summary.DonorCount != 1 {
		t.Errorf("summary = %+v", summary)
	}

	expectError(t, a.do(http.MethodGet, "/campaigns/999/summary", models.User{}, nil), http.StatusNotFound, "not_found")
}

func TestRecalculateCharityEndpoint(t *testing.T) {
	a := newAPI(t)
	campaign := a.campaign("500")
	a.completedDonation(&campaign.ID, "200")
	a.db.Model(&models.Campaign{}).Where("id = ?", campaign.ID).Update("current_amount", decimal.NewFromInt(7))

	path := "/charities/" + itoa(a.charity.ID) + "/recalculate"
	expectError(t, a.do(http.MethodPost, path, a.donor, nil), http.StatusForbidden, "unauthorized")
	expectError(t, a.do(http.MethodPost, "/charities/999/recalculate", a.admin, nil), http.StatusNotFound, "not_found")

	rec := a.do(http.MethodPost, path, a.owner, nil)
	expectStatus(t, rec, http.StatusOK)
	report := decode[services.RepairReport](t, rec)
	if len(report.Drifted) != 1 || report.Drifted[0] != campaign.ID {
		t.Errorf("report = %+v", report)
	}

	var stored models.Campaign
	a.db.First(&stored, campaign.ID)
	if !stored.CurrentAmount.Equal(decimal.NewFromInt(200)) {
		t.Errorf("campaign amount = %s, want 200", stored.CurrentAmount)
	}
}
