package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"charity_ledger/internal/app"
	"charity_ledger/internal/handlers"
	authMiddleware "charity_ledger/internal/middleware"
	"charity_ledger/internal/services"
)

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Firebase
	var authClient handlers.SessionIssuer
	client, err := services.InitFirebase(ctx, cfg.FirebaseCreds)
	if err != nil {
		log.Printf("Warning: Firebase initialization failed: %v", err)
		log.Println("Authenticated routes will not work until valid credentials are provided")
	} else {
		authClient = client
	}

	ledger, err := app.Open(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer ledger.Close()

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = authMiddleware.CustomErrorHandler

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))

	handlers.RegisterRoutes(e, ledger.DB, handlers.Services{
		Donations:  ledger.Donations,
		Recurring:  ledger.Recurring,
		Refunds:    ledger.Refunds,
		Aggregates: ledger.Aggregates,
		Catalog:    ledger.Catalog,
	}, authClient)

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown failed: %v", err)
	}
}
