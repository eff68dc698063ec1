package middleware

import (
	"errors"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"charity_ledger/internal/services"
)

// ErrorResponse is the JSON body of every failed request
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// CustomErrorHandler renders ledger errors as JSON with a status code per error class
func CustomErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code, body := describeError(err)
	if code >= http.StatusInternalServerError {
		c.Logger().Error(err)
	}

	var sendErr error
	if c.Request().Method == http.MethodHead {
		sendErr = c.NoContent(code)
	} else {
		sendErr = c.JSON(code, body)
	}
	if sendErr != nil {
		c.Logger().Error(sendErr)
	}
}

func describeError(err error) (int, ErrorResponse) {
	var (
		he       *echo.HTTPError
		valErr   *services.ValidationError
		transErr *services.InvalidStateTransitionError
		dupRef   *services.DuplicateReferenceError
		unauth   *services.UnauthorizedError
		notRef   *services.NotRefundableError
		expired  *services.WindowExpiredError
		ended    *services.CampaignEndedError
		dupReq   *services.DuplicateRequestError
		reviewed *services.AlreadyReviewedError
		consist  *services.ConsistencyError
	)

	switch {
	case errors.As(err, &he):
		msg, ok := he.Message.(string)
		if !ok || msg == "" {
			msg = http.StatusText(he.Code)
		}
		return he.Code, ErrorResponse{Error: "http_error", Message: msg}

	case errors.As(err, &valErr):
		return http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: valErr.Error(),
			Details: map[string]interface{}{"field": valErr.Field}}

	case errors.As(err, &transErr):
		return http.StatusConflict, ErrorResponse{Error: "invalid_state_transition", Message: transErr.Error(),
			Details: map[string]interface{}{"donation_id": transErr.DonationID, "from": transErr.From, "to": transErr.To}}

	case errors.As(err, &dupRef):
		return http.StatusConflict, ErrorResponse{Error: "duplicate_reference", Message: dupRef.Error(),
			Details: map[string]interface{}{
				"reference_number":  dupRef.ReferenceNumber,
				"prior_donation_id": dupRef.PriorDonationID,
				"target":            dupRef.Target,
				"donated_at":        dupRef.DonatedAt,
				"amount":            dupRef.Amount.StringFixed(2),
				"status":            dupRef.Status,
			}}

	case errors.As(err, &unauth):
		return http.StatusForbidden, ErrorResponse{Error: "unauthorized", Message: unauth.Error()}

	case errors.As(err, &notRef):
		return http.StatusUnprocessableEntity, ErrorResponse{Error: "not_refundable", Message: notRef.Error(),
			Details: map[string]interface{}{"donation_id": notRef.DonationID, "status": notRef.Status}}

	case errors.As(err, &expired):
		return http.StatusUnprocessableEntity, ErrorResponse{Error: "window_expired", Message: expired.Error(),
			Details: map[string]interface{}{
				"donation_id":    expired.DonationID,
				"donated_at":     expired.DonatedAt,
				"days_elapsed":   expired.DaysElapsed,
				"days_remaining": expired.DaysRemaining,
			}}

	case errors.As(err, &ended):
		return http.StatusUnprocessableEntity, ErrorResponse{Error: "campaign_ended", Message: ended.Error(),
			Details: map[string]interface{}{"campaign_id": ended.CampaignID, "end_date": ended.EndDate, "completed": ended.Completed}}

	case errors.As(err, &dupReq):
		return http.StatusConflict, ErrorResponse{Error: "duplicate_request", Message: dupReq.Error(),
			Details: map[string]interface{}{"donation_id": dupReq.DonationID, "existing_request_id": dupReq.ExistingRequestID}}

	case errors.As(err, &reviewed):
		return http.StatusConflict, ErrorResponse{Error: "already_reviewed", Message: reviewed.Error(),
			Details: map[string]interface{}{"request_id": reviewed.RequestID, "status": reviewed.Status}}

	case errors.As(err, &consist):
		log.Printf("CONSISTENCY: %v", consist)
		return http.StatusInternalServerError, ErrorResponse{Error: "consistency_error",
			Message: "The ledger detected an inconsistency. Operators have been alerted."}

	case errors.Is(err, services.ErrDonationNotFound),
		errors.Is(err, services.ErrCampaignNotFound),
		errors.Is(err, services.ErrCharityNotFound),
		errors.Is(err, services.ErrRefundRequestNotFound),
		errors.Is(err, services.ErrSubscriptionNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "not_found", Message: err.Error()}
	}

	return http.StatusInternalServerError, ErrorResponse{Error: "internal_error",
		Message: "Something went wrong. Please try again later."}
}
