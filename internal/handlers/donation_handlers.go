package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"charity_ledger/internal/middleware"
	"charity_ledger/internal/models"
	"charity_ledger/internal/services"
)

type DonationHandler struct {
	donations *services.DonationService
}

func NewDonationHandler(donations *services.DonationService) *DonationHandler {
	return &DonationHandler{donations: donations}
}

// CreateDonationRequest is the donor's submission
type CreateDonationRequest struct {
	DonorName       string                      `json:"donor_name"`
	DonorEmail      string                      `json:"donor_email"`
	CharityID       uint                        `json:"charity_id"`
	CampaignID      *uint                       `json:"campaign_id"`
	Amount          decimal.Decimal             `json:"amount"`
	Purpose         string                      `json:"purpose"`
	Anonymous       bool                        `json:"anonymous"`
	Recurring       *services.RecurringSettings `json:"recurring"`
	ReferenceNumber *string                     `json:"reference_number"`
	ProofPath       string                      `json:"proof_path"`
	DonatedAt       *time.Time                  `json:"donated_at"`
}

// CreateDonation records a pending donation for a logged-in donor or a guest
func (h *DonationHandler) CreateDonation(c echo.Context) error {
	var req CreateDonationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	in := services.CreateDonationInput{
		DonorName:       req.DonorName,
		DonorEmail:      req.DonorEmail,
		CharityID:       req.CharityID,
		CampaignID:      req.CampaignID,
		Amount:          req.Amount,
		Purpose:         req.Purpose,
		Anonymous:       req.Anonymous,
		Recurring:       req.Recurring,
		ReferenceNumber: req.ReferenceNumber,
		ProofPath:       req.ProofPath,
	}
	if req.DonatedAt != nil {
		in.DonatedAt = *req.DonatedAt
	}
	if actor, ok := middleware.ActorFrom(c); ok {
		in.Donor = &actor
	}

	donation, err := h.donations.CreateDonation(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, donation)
}

// GetDonation returns a donation to its donor or to the charity's managers
func (h *DonationHandler) GetDonation(c echo.Context) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	donation, err := h.donations.GetDonation(c.Request().Context(), id)
	if err != nil {
		return err
	}
	ownsDonation := donation.DonorID != nil && *donation.DonorID == actor.UserID
	if !ownsDonation {
		if err := h.donations.AuthorizeCharityManager(c.Request().Context(), actor, donation.CharityID); err != nil {
			return err
		}
	}
	return c.JSON(http.StatusOK, donation)
}

// ListDonations filters donations. Donors only see their own; a charity filter requires
// managing that charity.
func (h *DonationHandler) ListDonations(c echo.Context) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}

	filter, err := donationFilterFromQuery(c)
	if err != nil {
		return err
	}

	if !actor.IsAdmin() {
		if filter.CharityID != nil {
			if err := h.donations.AuthorizeCharityManager(c.Request().Context(), actor, *filter.CharityID); err != nil {
				return err
			}
		} else {
			donorID := actor.UserID
			filter.DonorID = &donorID
		}
	}

	// fills paging defaults for the response
	if err := filter.Validate(); err != nil {
		return err
	}

	donations, total, err := h.donations.ListDonations(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newListResponse(donations, filter.Page, filter.PageSize, total))
}

func donationFilterFromQuery(c echo.Context) (services.DonationFilter, error) {
	var f services.DonationFilter
	var err error

	if f.CharityID, err = parseOptionalUint(c, "charity_id"); err != nil {
		return f, err
	}
	if f.CampaignID, err = parseOptionalUint(c, "campaign_id"); err != nil {
		return f, err
	}
	if f.DonorID, err = parseOptionalUint(c, "donor_id"); err != nil {
		return f, err
	}
	if sub := c.QueryParam("subscription_id"); sub != "" {
		f.SubscriptionID = &sub
	}
	if raw := c.QueryParam("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			f.Statuses = append(f.Statuses, models.DonationStatus(strings.TrimSpace(s)))
		}
	}
	f.RecurringOnly = c.QueryParam("recurring") == "true"
	f.RefundedOnly = c.QueryParam("refunded") == "true"
	if f.From, err = parseOptionalTime(c, "from"); err != nil {
		return f, err
	}
	if f.To, err = parseOptionalTime(c, "to"); err != nil {
		return f, err
	}
	if f.Page, err = parseOptionalInt(c, "page"); err != nil {
		return f, err
	}
	if f.PageSize, err = parseOptionalInt(c, "page_size"); err != nil {
		return f, err
	}
	f.SortBy = c.QueryParam("sort_by")
	f.SortOrder = c.QueryParam("sort_order")
	return f, nil
}

// ConfirmDonation applies the charity's approve or reject decision
func (h *DonationHandler) ConfirmDonation(c echo.Context) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	var req ReviewRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	ctx := c.Request().Context()
	donation, err := h.donations.GetDonation(ctx, id)
	if err != nil {
		return err
	}
	if err := h.donations.AuthorizeCharityManager(ctx, actor, donation.CharityID); err != nil {
		return err
	}

	updated, err := h.donations.ConfirmDonation(ctx, id, req.Decision, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, updated)
}
