package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"charity_ledger/internal/middleware"
	"charity_ledger/internal/models"
	"charity_ledger/internal/services"
)

// ListResponse wraps one page of results
type ListResponse struct {
	Data       interface{} `json:"data"`
	Page       int         `json:"page"`
	PageSize   int         `json:"page_size"`
	TotalCount int64       `json:"total_count"`
	TotalPages int         `json:"total_pages"`
}

func newListResponse(data interface{}, page, pageSize int, total int64) ListResponse {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	if totalPages == 0 {
		totalPages = 1
	}
	return ListResponse{Data: data, Page: page, PageSize: pageSize, TotalCount: total, TotalPages: totalPages}
}

// ReviewRequest is the body of donation confirmation and refund review
type ReviewRequest struct {
	Decision services.Decision `json:"decision"`
	Reason   string            `json:"reason"`
}

func parseID(c echo.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "Invalid "+name)
	}
	return uint(id), nil
}

func parseOptionalUint(c echo.Context, name string) (*uint, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "Invalid "+name)
	}
	id := uint(v)
	return &id, nil
}

func parseOptionalInt(c echo.Context, name string) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "Invalid "+name)
	}
	return v, nil
}

// parseOptionalTime accepts RFC 3339 or a plain date
func parseOptionalTime(c echo.Context, name string) (*time.Time, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		t, err = time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "Invalid "+name+", use RFC3339 or YYYY-MM-DD")
		}
	}
	t = t.UTC()
	return &t, nil
}

func requireActor(c echo.Context) (models.Actor, error) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		return models.Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "Please log in to continue.")
	}
	return actor, nil
}
