package handlers

import (
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	authMiddleware "charity_ledger/internal/middleware"
	"charity_ledger/internal/services"
)

// Services bundles the ledger services the HTTP API exposes
type Services struct {
	Donations  *services.DonationService
	Recurring  *services.RecurringService
	Refunds    *services.RefundService
	Aggregates *services.AggregateService
	Catalog    *services.CatalogService
}

// RegisterRoutes mounts the JSON API. authClient may be nil, in which case only public and
// guest routes work.
func RegisterRoutes(e *echo.Echo, db *gorm.DB, svc Services, authClient SessionIssuer) {
	var verifier authMiddleware.TokenVerifier
	if authClient != nil {
		verifier = authClient
	}

	authHandler := NewAuthHandler(authClient)
	donationHandler := NewDonationHandler(svc.Donations)
	refundHandler := NewRefundHandler(svc.Refunds, svc.Donations)
	subscriptionHandler := NewSubscriptionHandler(svc.Recurring)
	campaignHandler := NewCampaignHandler(svc.Aggregates, svc.Donations)
	preferenceHandler := NewUserPreferenceHandler(db)
	charityHandler := NewCharityHandler(svc.Catalog)
	userHandler := NewUserHandler(db)

	// Public routes
	e.POST("/auth/login", authHandler.HandleLogin)
	e.POST("/auth/logout", authHandler.HandleLogout)
	e.GET("/campaigns/:id/summary", campaignHandler.CampaignSummary)

	// Guests may donate with an email address
	guest := e.Group("", authMiddleware.OptionalAuth(verifier, db))
	guest.POST("/donations", donationHandler.CreateDonation)

	// Protected routes
	protected := e.Group("", authMiddleware.RequireAuth(verifier, db))
	protected.GET("/me", authHandler.Me)
	protected.GET("/me/notification-preference", preferenceHandler.GetUserPreference)
	protected.PUT("/me/notification-preference", preferenceHandler.UpdateUserPreference)

	protected.GET("/donations", donationHandler.ListDonations)
	protected.GET("/donations/:id", donationHandler.GetDonation)
	protected.POST("/donations/:id/confirm", donationHandler.ConfirmDonation)
	protected.POST("/donations/:id/refund-requests", refundHandler.RequestRefund)

	protected.GET("/refund-requests/:id", refundHandler.GetRefundRequest)
	protected.POST("/refund-requests/:id/review", refundHandler.ReviewRefund)

	protected.POST("/subscriptions/:id/cancel", subscriptionHandler.CancelSubscription)
	protected.GET("/subscriptions/:id/occurrences", subscriptionHandler.ListOccurrences)

	protected.POST("/charities", charityHandler.RegisterCharity)
	protected.POST("/charities/:id/campaigns", charityHandler.CreateCampaign)
	protected.POST("/charities/:id/recalculate", campaignHandler.RecalculateCharity)
	protected.POST("/campaigns/:id/cancel", charityHandler.CancelCampaign)

	// Admin
	protected.GET("/users", userHandler.ListUsers)
	protected.PUT("/users/:id", userHandler.UpdateUser)
}
