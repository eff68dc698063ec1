package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"charity_ledger/internal/services"
)

type SubscriptionHandler struct {
	recurring *services.RecurringService
}

func NewSubscriptionHandler(recurring *services.RecurringService) *SubscriptionHandler {
	return &SubscriptionHandler{recurring: recurring}
}

// CancelSubscription stops future occurrences of a recurring donation
func (h *SubscriptionHandler) CancelSubscription(c echo.Context) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}

	sub, err := h.recurring.CancelSubscription(c.Request().Context(), c.Param("id"), actor)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sub)
}

// ListOccurrences returns every donation generated for a subscription
func (h *SubscriptionHandler) ListOccurrences(c echo.Context) error {
	if _, err := requireActor(c); err != nil {
		return err
	}

	occurrences, err := h.recurring.ListOccurrences(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"subscription_id": c.Param("id"),
		"occurrences":     occurrences,
	})
}
