package tasks

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"charity_ledger/internal/models"
	"charity_ledger/internal/services"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	cfg := services.GormConfig()
	cfg.Logger = logger.Default.LogMode(logger.Silent)
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "tasks.db")), cfg)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := services.AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

type sentEmail struct {
	To      []string
	Subject string
	Body    string
}

type fakeEmail struct {
	mu   sync.Mutex
	sent []sentEmail
	fail map[string]error
}

func (f *fakeEmail) SendEmail(_ context.Context, to []string, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, addr := range to {
		if err := f.fail[addr]; err != nil {
			return err
		}
	}
	f.sent = append(f.sent, sentEmail{To: to, Subject: subject, Body: body})
	return nil
}

type sentMessage struct {
	ChatID string
	Text   string
}

type fakeWhatsapp struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeWhatsapp) SendMessage(_ context.Context, chatID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{ChatID: chatID, Text: text})
	return nil
}

// ledger wires the services the way the application does, with the queue notifier
type ledger struct {
	db        *gorm.DB
	now       time.Time
	deps      Deps
	donations *services.DonationService
	email     *fakeEmail
	whatsapp  *fakeWhatsapp

	admin   models.User
	owner   models.User
	donor   models.User
	charity models.Charity
}

func newLedger(t *testing.T) *ledger {
	t.Helper()
	l := &ledger{
		db:       setupTestDB(t),
		now:      time.Now().UTC().Truncate(time.Second),
		email:    &fakeEmail{},
		whatsapp: &fakeWhatsapp{},
	}
	clock := func() time.Time { return l.now }

	aggregates := services.NewAggregateService(l.db, nil)
	l.deps = Deps{
		DB:         l.db,
		Aggregates: aggregates,
		Email:      l.email,
		Whatsapp:   l.whatsapp,
		Now:        clock,
	}
	l.donations = services.NewDonationService(l.db, aggregates, services.NewReferenceGuard(l.db), NewQueueNotifier(l.deps))
	l.donations.SetClock(clock)
	l.deps.Recurring = services.NewRecurringService(l.db, l.donations)
	l.deps.Refunds = services.NewRefundService(l.db, l.donations)

	l.admin = l.user(t, "Ayu Admin", "admin@example.com", "6281100000001", models.UserTypeAdmin)
	l.owner = l.user(t, "Owen Owner", "owner@example.com", "6281100000002", models.UserTypeCharityManager)
	l.donor = l.user(t, "Dina Donor", "donor@example.com", "6281100000003", models.UserTypeDonor)

	l.charity = models.Charity{Name: "River School", OwnerID: l.owner.ID}
	if err := l.db.Create(&l.charity).Error; err != nil {
		t.Fatalf("failed to create charity: %v", err)
	}
	return l
}

func (l *ledger) user(t *testing.T, name, email, phone string, role models.UserType) models.User {
	t.Helper()
	u := models.User{Name: name, Email: email, Phone: phone, UserType: role}
	if err := l.db.Create(&u).Error; err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	return u
}

func (l *ledger) campaign(t *testing.T, title, target string) models.Campaign {
	t.Helper()
	c := models.Campaign{CharityID: l.charity.ID, Title: title, TargetAmount: dec(target), Status: models.CampaignStatusActive}
	if err := l.db.Create(&c).Error; err != nil {
		t.Fatalf("failed to create campaign: %v", err)
	}
	return c
}

func (l *ledger) donate(t *testing.T, campaignID *uint, amount string, recurring *services.RecurringSettings) *models.Donation {
	t.Helper()
	donor := l.donor.Actor()
	d, err := l.donations.CreateDonation(context.Background(), services.CreateDonationInput{
		Donor:      &donor,
		DonorName:  l.donor.Name,
		CharityID:  l.charity.ID,
		CampaignID: campaignID,
		Amount:     dec(amount),
		Recurring:  recurring,
	})
	if err != nil {
		t.Fatalf("CreateDonation failed: %v", err)
	}
	return d
}

func (l *ledger) queuedNotifications(t *testing.T) []SendNotificationArgs {
	t.Helper()
	var rows []models.ScheduledTask
	if err := l.db.Where("task_name = ?", SendNotificationTask.TaskID()).Order("id").Find(&rows).Error; err != nil {
		t.Fatalf("failed to load tasks: %v", err)
	}
	out := make([]SendNotificationArgs, 0, len(rows))
	for _, row := range rows {
		var args SendNotificationArgs
		if err := decodeArgs(row, &args); err != nil {
			t.Fatalf("failed to decode task %d: %v", row.ID, err)
		}
		out = append(out, args)
	}
	return out
}

func (l *ledger) insertTask(t *testing.T, task *models.ScheduledTask) {
	t.Helper()
	if err := l.db.Create(task).Error; err != nil {
		t.Fatalf("failed to insert task: %v", err)
	}
}

func (l *ledger) reloadTask(t *testing.T, id uint) models.ScheduledTask {
	t.Helper()
	var task models.ScheduledTask
	if err := l.db.First(&task, id).Error; err != nil {
		t.Fatalf("failed to reload task: %v", err)
	}
	return task
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
