package app

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/gorm"

	"charity_ledger/internal/services"
	"charity_ledger/internal/tasks"
)

// Config is read from the environment after loading .env
type Config struct {
	DatabaseURL     string
	RedisURL        string
	Port            string
	FirebaseCreds   string
	WorkerInterval  time.Duration
	SweepRule       string
	SweepBatchSize  int
	NotifyByEmail   bool
	NotifyWhatsapp  bool
	SkipAutoMigrate bool
}

// LoadConfig loads .env when present and reads settings with defaults
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment")
	}

	cfg := Config{
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		Port:            getenv("PORT", "8080"),
		FirebaseCreds:   getenv("FIREBASE_CREDENTIALS_PATH", "./firebase-service-account.json"),
		SweepRule:       getenv("SWEEP_RRULE", tasks.DefaultSweepRule),
		WorkerInterval:  5 * time.Minute,
		NotifyByEmail:   os.Getenv("SMTP_HOST") != "",
		NotifyWhatsapp:  os.Getenv("WAHA_BASE_URL") != "",
		SkipAutoMigrate: os.Getenv("SKIP_AUTO_MIGRATE") == "true",
	}

	if raw := os.Getenv("WORKER_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return cfg, fmt.Errorf("invalid WORKER_INTERVAL %q", raw)
		}
		cfg.WorkerInterval = d
	}
	if raw := os.Getenv("SWEEP_BATCH_SIZE"); raw != "" {
		var n int
		if _, err := fmt.Sscanf(raw, "%d", &n); err != nil || n <= 0 {
			return cfg, fmt.Errorf("invalid SWEEP_BATCH_SIZE %q", raw)
		}
		cfg.SweepBatchSize = n
	}

	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL not set")
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// App holds the wired ledger services shared by the server, worker and CLI
type App struct {
	DB         *gorm.DB
	Cache      *services.RedisCache
	Aggregates *services.AggregateService
	Donations  *services.DonationService
	Recurring  *services.RecurringService
	Refunds    *services.RefundService
	Catalog    *services.CatalogService
	Deps       tasks.Deps
}

// Open connects to the database and Redis and wires the services. Redis failures only
// disable caching and the sweep lease.
func Open(cfg Config) (*App, error) {
	db, err := services.InitDB(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if !cfg.SkipAutoMigrate {
		if err := services.AutoMigrate(db); err != nil {
			return nil, fmt.Errorf("failed to run database migrations: %w", err)
		}
	}

	var cache *services.RedisCache
	if cfg.RedisURL != "" {
		cache, err = services.NewRedisCache(cfg.RedisURL)
		if err != nil {
			log.Printf("Warning: Redis unavailable, caching disabled: %v", err)
			cache = nil
		}
	}

	return Wire(db, cache, cfg), nil
}

// Wire builds the services over an open store
func Wire(db *gorm.DB, cache *services.RedisCache, cfg Config) *App {
	a := &App{DB: db, Cache: cache}

	deps := tasks.Deps{DB: db, Cache: cache}
	if cfg.NotifyByEmail {
		deps.Email = services.NewEmailService()
	}
	if cfg.NotifyWhatsapp {
		deps.Whatsapp = services.NewWahaService()
	}

	a.Aggregates = services.NewAggregateService(db, cache)
	a.Donations = services.NewDonationService(db, a.Aggregates, services.NewReferenceGuard(db), tasks.NewQueueNotifier(deps))
	a.Recurring = services.NewRecurringService(db, a.Donations)
	if cfg.SweepBatchSize > 0 {
		a.Recurring.SetBatchSize(cfg.SweepBatchSize)
	}
	a.Refunds = services.NewRefundService(db, a.Donations)
	a.Catalog = services.NewCatalogService(db, a.Aggregates)

	deps.Recurring = a.Recurring
	deps.Aggregates = a.Aggregates
	deps.Refunds = a.Refunds
	a.Deps = deps
	return a
}

// Registry returns a task registry with every ledger task defined
func (a *App) Registry() *tasks.Registry {
	r := tasks.NewRegistry()
	tasks.DefineTasks(r, a.Deps)
	return r
}

// Close releases the Redis connection and database pool
func (a *App) Close() {
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			log.Printf("Failed to close Redis: %v", err)
		}
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		sqlDB.Close()
	}
}
