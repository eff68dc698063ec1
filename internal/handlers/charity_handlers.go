package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"charity_ledger/internal/services"
)

type CharityHandler struct {
	catalog *services.CatalogService
}

func NewCharityHandler(catalog *services.CatalogService) *CharityHandler {
	return &CharityHandler{catalog: catalog}
}

// RegisterCharityRequest names a charity and the manager who runs it
type RegisterCharityRequest struct {
	Name    string `json:"name"`
	OwnerID uint   `json:"owner_id"`
}

// CreateCampaignRequest opens a campaign; a zero target never completes
type CreateCampaignRequest struct {
	Title        string          `json:"title"`
	TargetAmount decimal.Decimal `json:"target_amount"`
	EndDate      *time.Time      `json:"end_date"`
}

// RegisterCharity creates a charity. Admin only.
func (h *CharityHandler) RegisterCharity(c echo.Context) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}

	var req RegisterCharityRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	charity, err := h.catalog.RegisterCharity(c.Request().Context(), actor, req.Name, req.OwnerID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, charity)
}

// CreateCampaign opens a campaign under the charity in the path
func (h *CharityHandler) CreateCampaign(c echo.Context) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	charityID, err := parseID(c, "id")
	if err != nil {
		return err
	}

	var req CreateCampaignRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	campaign, err := h.catalog.CreateCampaign(c.Request().Context(), actor, charityID, services.CampaignInput{
		Title:        req.Title,
		TargetAmount: req.TargetAmount,
		EndDate:      req.EndDate,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, campaign)
}

// CancelCampaign closes a campaign to new donations
func (h *CharityHandler) CancelCampaign(c echo.Context) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	campaign, err := h.catalog.CancelCampaign(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, campaign)
}
