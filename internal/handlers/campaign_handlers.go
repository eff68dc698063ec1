package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"charity_ledger/internal/services"
)

type CampaignHandler struct {
	aggregates *services.AggregateService
	donations  *services.DonationService
}

func NewCampaignHandler(aggregates *services.AggregateService, donations *services.DonationService) *CampaignHandler {
	return &CampaignHandler{aggregates: aggregates, donations: donations}
}

// CampaignSummary is public: title, target and raised totals
func (h *CampaignHandler) CampaignSummary(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	summary, err := h.aggregates.CampaignSummary(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, summary)
}

// RecalculateCharity repairs the charity's totals on demand
func (h *CampaignHandler) RecalculateCharity(c echo.Context) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	if err := h.donations.AuthorizeCharityManager(ctx, actor, id); err != nil {
		return err
	}
	report, err := h.aggregates.RepairCharity(ctx, id, time.Now().UTC())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}
