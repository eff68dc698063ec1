package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"charity_ledger/internal/models"
)

type UserPreferenceHandler struct {
	DB *gorm.DB
}

func NewUserPreferenceHandler(db *gorm.DB) *UserPreferenceHandler {
	return &UserPreferenceHandler{DB: db}
}

// PreferenceRequest selects how ledger notifications reach the caller
type PreferenceRequest struct {
	Channel            models.NotificationChannel `json:"channel"`
	WhatsappTargetType models.WhatsappTargetType  `json:"whatsapp_target_type"`
	WhatsappGroupID    string                     `json:"whatsapp_group_id"`
}

// GetUserPreference returns the caller's notification preference, email by default
func (h *UserPreferenceHandler) GetUserPreference(c echo.Context) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}

	var pref models.UserNotifPreference
	err = h.DB.WithContext(c.Request().Context()).Where("user_id = ?", actor.UserID).First(&pref).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusInternalServerError, "Error fetching preference")
		}
		pref = models.DefaultNotifPreference(actor.UserID)
	}
	return c.JSON(http.StatusOK, pref)
}

// UpdateUserPreference upserts the caller's notification preference
func (h *UserPreferenceHandler) UpdateUserPreference(c echo.Context) error {
	actor, err := requireActor(c)
	if err != nil {
		return err
	}

	var req PreferenceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	update := models.UserNotifPreference{
		Channel:            req.Channel,
		WhatsappTargetType: req.WhatsappTargetType,
		WhatsappGroupID:    req.WhatsappGroupID,
	}
	if err := update.Normalize(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	db := h.DB.WithContext(c.Request().Context())
	var pref models.UserNotifPreference
	err = db.Where("user_id = ?", actor.UserID).First(&pref).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusInternalServerError, "Database error")
		}
		pref = models.UserNotifPreference{UserID: actor.UserID}
	}

	pref.Channel = update.Channel
	pref.WhatsappTargetType = update.WhatsappTargetType
	pref.WhatsappGroupID = update.WhatsappGroupID

	if err := db.Save(&pref).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to save preference")
	}
	return c.JSON(http.StatusOK, pref)
}
