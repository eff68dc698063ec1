package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"charity_ledger/internal/models"
)

type UserHandler struct {
	db *gorm.DB
}

func NewUserHandler(db *gorm.DB) *UserHandler {
	return &UserHandler{db: db}
}

// UpdateUserRequest is an admin's edit of a user; empty fields are left unchanged
type UpdateUserRequest struct {
	Name     string          `json:"name"`
	Phone    string          `json:"phone"`
	UserType models.UserType `json:"user_type"`
}

func requireAdmin(c echo.Context) (models.Actor, error) {
	actor, err := requireActor(c)
	if err != nil {
		return actor, err
	}
	if !actor.IsAdmin() {
		return actor, echo.NewHTTPError(http.StatusForbidden, "Admins only")
	}
	return actor, nil
}

// ListUsers returns every user, optionally filtered by role
func (h *UserHandler) ListUsers(c echo.Context) error {
	if _, err := requireAdmin(c); err != nil {
		return err
	}

	query := h.db.WithContext(c.Request().Context()).Order("id")
	if role := c.QueryParam("user_type"); role != "" {
		query = query.Where("user_type = ?", role)
	}

	var users []models.User
	if err := query.Find(&users).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to fetch users")
	}
	return c.JSON(http.StatusOK, users)
}

// UpdateUser changes a user's profile or role. This is how donors become charity managers.
func (h *UserHandler) UpdateUser(c echo.Context) error {
	actor, err := requireAdmin(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	var req UpdateUserRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	switch req.UserType {
	case "", models.UserTypeAdmin, models.UserTypeCharityManager, models.UserTypeDonor:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "User type must be Admin, CharityManager or Donor")
	}
	if id == actor.UserID && req.UserType != "" && req.UserType != models.UserTypeAdmin {
		return echo.NewHTTPError(http.StatusBadRequest, "Admins cannot demote themselves")
	}

	db := h.db.WithContext(c.Request().Context())
	var user models.User
	if err := db.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "User not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to fetch user")
	}

	if name := strings.TrimSpace(req.Name); name != "" {
		user.Name = name
	}
	if phone := strings.TrimSpace(req.Phone); phone != "" {
		user.Phone = phone
	}
	if req.UserType != "" {
		user.UserType = req.UserType
	}

	if err := db.Save(&user).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to update user")
	}
	return c.JSON(http.StatusOK, user)
}
