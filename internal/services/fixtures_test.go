package services

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
)

// setupTestDB opens a file-backed sqlite store with one connection, so transactions
// serialize the way row locks do on Postgres
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	cfg := GormConfig()
	cfg.Logger = logger.Default.LogMode(logger.Silent)
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "ledger.db")), cfg)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, ev Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return n.err
}

func (n *recordingNotifier) count(t EventType) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, ev := range n.events {
		if ev.Type == t {
			c++
		}
	}
	return c
}

type fixture struct {
	db       *gorm.DB
	now      time.Time
	notifier *recordingNotifier

	aggregates *AggregateService
	donations  *DonationService
	recurring  *RecurringService
	refunds    *RefundService

	admin   models.User
	owner   models.User
	donor   models.User
	other   models.User
	charity models.Charity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		db:       setupTestDB(t),
		now:      time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		notifier: &recordingNotifier{},
	}

	f.aggregates = NewAggregateService(f.db, nil)
	f.donations = NewDonationService(f.db, f.aggregates, NewReferenceGuard(f.db), f.notifier)
	f.donations.SetClock(func() time.Time { return f.now })
	f.recurring = NewRecurringService(f.db, f.donations)
	f.refunds = NewRefundService(f.db, f.donations)

	f.admin = f.user(t, "Admin", "admin@example.com", models.UserTypeAdmin)
	f.owner = f.user(t, "Owner", "owner@example.com", models.UserTypeCharityManager)
	f.donor = f.user(t, "Donor", "donor@example.com", models.UserTypeDonor)
	f.other = f.user(t, "Other", "other@example.com", models.UserTypeDonor)

	f.charity = models.Charity{Name: "Clean Water", OwnerID: f.owner.ID}
	if err := f.db.Create(&f.charity).Error; err != nil {
		t.Fatalf("failed to create charity: %v", err)
	}
	return f
}

func (f *fixture) user(t *testing.T, name, email string, role models.UserType) models.User {
	t.Helper()
	u := models.User{Name: name, Email: email, UserType: role}
	if err := f.db.Create(&u).Error; err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	return u
}

func (f *fixture) campaign(t *testing.T, target string, endDate *time.Time) models.Campaign {
	t.Helper()
	c := models.Campaign{
		CharityID:    f.charity.ID,
		Title:        "Wells for " + target,
		TargetAmount: dec(target),
		EndDate:      endDate,
		Status:       models.CampaignStatusActive,
	}
	if err := f.db.Create(&c).Error; err != nil {
		t.Fatalf("failed to create campaign: %v", err)
	}
	return c
}

func (f *fixture) setNow(now time.Time) {
	f.now = now
}

func (f *fixture) actor(u models.User) models.Actor {
	return u.Actor()
}

// donate creates a pending donation by the fixture donor
func (f *fixture) donate(t *testing.T, campaignID *uint, amount string, mods ...func(*CreateDonationInput)) *models.Donation {
	t.Helper()
	donor := f.donor.Actor()
	in := CreateDonationInput{
		Donor:     &donor,
		DonorName: f.donor.Name,
		CharityID: f.charity.ID,
		Amount:    dec(amount),
		Purpose:   "general",
	}
	if campaignID != nil {
		id := *campaignID
		in.CampaignID = &id
	}
	for _, m := range mods {
		m(&in)
	}
	d, err := f.donations.CreateDonation(context.Background(), in)
	if err != nil {
		t.Fatalf("CreateDonation failed: %v", err)
	}
	return d
}

// completed creates and approves a donation
func (f *fixture) completed(t *testing.T, campaignID *uint, amount string, mods ...func(*CreateDonationInput)) *models.Donation {
	t.Helper()
	d := f.donate(t, campaignID, amount, mods...)
	confirmed, err := f.donations.ConfirmDonation(context.Background(), d.ID, DecisionApprove, "")
	if err != nil {
		t.Fatalf("ConfirmDonation failed: %v", err)
	}
	return confirmed
}

func (f *fixture) reloadCampaign(t *testing.T, id uint) models.Campaign {
	t.Helper()
	var c models.Campaign
	if err := f.db.First(&c, id).Error; err != nil {
		t.Fatalf("failed to reload campaign: %v", err)
	}
	return c
}

func (f *fixture) reloadCharity(t *testing.T) models.Charity {
	t.Helper()
	var c models.Charity
	if err := f.db.First(&c, f.charity.ID).Error; err != nil {
		t.Fatalf("failed to reload charity: %v", err)
	}
	return c
}

func (f *fixture) reloadDonation(t *testing.T, id uint) models.Donation {
	t.Helper()
	var d models.Donation
	if err := f.db.First(&d, id).Error; err != nil {
		t.Fatalf("failed to reload donation: %v", err)
	}
	return d
}

// sumCompleted recomputes the expected raised amount independently of the service
func (f *fixture) sumCompleted(t *testing.T, column string, id uint) decimal.Decimal {
	t.Helper()
	var rows []models.Donation
	if err := f.db.Where(column+" = ?", id).Find(&rows).Error; err != nil {
		t.Fatalf("failed to load donations: %v", err)
	}
	total := decimal.Zero
	for _, d := range rows {
		if d.CountsTowardTotals() {
			total = total.Add(d.Amount)
		}
	}
	return total
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func uintPtr(v uint) *uint {
	return &v
}

func strPtr(s string) *string {
	return &s
}

func timePtr(t time.Time) *time.Time {
	return &t
}
