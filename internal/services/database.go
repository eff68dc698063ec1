package services

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"charity_ledger/internal/models"
)

// ledgerModels lists every table the ledger owns, in dependency order
var ledgerModels = []any{
	&models.User{},
	&models.UserNotifPreference{},
	&models.Charity{},
	&models.Campaign{},
	&models.RecurringSubscription{},
	&models.Donation{},
	&models.RefundRequest{},
	&models.ScheduledTask{},
	&models.ScheduledTaskHistory{},
}

// GormConfig is shared by the Postgres store and the SQLite databases used in tests.
// Unique index violations surface as gorm.ErrDuplicatedKey so the reference guard can
// recognise a lost race, and all timestamps are written in UTC.
func GormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// InitDB opens the Postgres ledger store with connection pooling
func InitDB(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), GormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get connection pool: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Println("Database connection established")
	return db, nil
}

// AutoMigrate creates or updates the ledger tables
func AutoMigrate(db *gorm.DB) error {
	start := time.Now()
	if err := db.AutoMigrate(ledgerModels...); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	log.Printf("Database migrations completed for %d tables in %s", len(ledgerModels), time.Since(start).Round(time.Millisecond))
	return nil
}
