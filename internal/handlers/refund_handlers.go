package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"charity_ledger/internal/services"
)

type RefundHandler struct {
	refunds   *services.RefundService
	donations *services.DonationService
}

func NewRefundHandler(refunds *services.RefundService, donations *services.DonationService) *RefundHandler {
	return &RefundHandler{refunds: refunds, donations: donations}
}

// RefundRequestBody is the donor's refund request
type RefundRequestBody struct {
	Reason    string `json:"reason"`
	ProofPath string `json:"proof_path"`
}

// RequestRefund opens a refund request for a completed donation
func (h *RefundHandler) RequestRefund(c echo.Context) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	var body RefundRequestBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if body.Reason == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Reason is required")
	}

	request, err := h.refunds.RequestRefund(c.Request().Context(), id, actor, body.Reason, body.ProofPath)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, request)
}

// ReviewRefund approves or denies a pending refund request
func (h *RefundHandler) ReviewRefund(c echo.Context) error {
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

	request, err := h.refunds.ReviewRefund(c.Request().Context(), id, actor, req.Decision, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, request)
}

// GetRefundRequest returns a request to its requester or the charity's managers
func (h *RefundHandler) GetRefundRequest(c echo.Context) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	request, err := h.refunds.GetRefundRequest(ctx, id)
	if err != nil {
		return err
	}
	if request.RequesterID != actor.UserID {
		if err := h.donations.AuthorizeCharityManager(ctx, actor, request.CharityID); err != nil {
			return err
		}
	}
	return c.JSON(http.StatusOK, request)
}
