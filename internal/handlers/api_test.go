package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"firebase.google.com/go/v4/auth"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"charity_ledger/internal/middleware"
	"charity_ledger/internal/models"
	"charity_ledger/internal/services"
)

// fakeFirebase accepts "token-<email>" as the ID token of that email
type fakeFirebase struct {
	sessions map[string]string
}

func (f *fakeFirebase) VerifyIDToken(_ context.Context, idToken string) (*auth.Token, error) {
	email, ok := strings.CutPrefix(idToken, "token-")
	if !ok {
		return nil, errors.New("invalid token")
	}
	return &auth.Token{UID: "uid-" + email, Claims: map[string]interface{}{"email": email}}, nil
}

func (f *fakeFirebase) VerifySessionCookie(ctx context.Context, cookie string) (*auth.Token, error) {
	idToken, ok := f.sessions[cookie]
	if !ok {
		return nil, errors.New("session expired")
	}
	return f.VerifyIDToken(ctx, idToken)
}

func (f *fakeFirebase) SessionCookie(_ context.Context, idToken string, _ time.Duration) (string, error) {
	cookie := "session-" + idToken
	f.sessions[cookie] = idToken
	return cookie, nil
}

type api struct {
	t    *testing.T
	db   *gorm.DB
	echo *echo.Echo
	svc  Services

	admin   models.User
	owner   models.User
	donor   models.User
	other   models.User
	charity models.Charity
}

func newAPI(t *testing.T) *api {
	t.Helper()

	cfg := services.GormConfig()
	cfg.Logger = logger.Default.LogMode(logger.Silent)
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "api.db")), cfg)
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

	aggregates := services.NewAggregateService(db, nil)
	donations := services.NewDonationService(db, aggregates, services.NewReferenceGuard(db), services.NopNotifier{})
	a := &api{
		t:  t,
		db: db,
		svc: Services{
			Donations:  donations,
			Recurring:  services.NewRecurringService(db, donations),
			Refunds:    services.NewRefundService(db, donations),
			Aggregates: aggregates,
			Catalog:    services.NewCatalogService(db, aggregates),
		},
	}

	a.echo = echo.New()
	a.echo.HTTPErrorHandler = middleware.CustomErrorHandler
	RegisterRoutes(a.echo, db, a.svc, &fakeFirebase{sessions: map[string]string{}})

	a.admin = a.user("Ayu", "admin@example.com", models.UserTypeAdmin)
	a.owner = a.user("Owen", "owner@example.com", models.UserTypeCharityManager)
	a.donor = a.user("Dina", "donor@example.com", models.UserTypeDonor)
	a.other = a.user("Omar", "omar@example.com", models.UserTypeDonor)

	a.charity = models.Charity{Name: "River School", OwnerID: a.owner.ID}
	if err := db.Create(&a.charity).Error; err != nil {
		t.Fatalf("failed to create charity: %v", err)
	}
	return a
}

func (a *api) user(name, email string, role models.UserType) models.User {
	a.t.Helper()
	u := models.User{Name: name, Email: email, UserType: role}
	if err := a.db.Create(&u).Error; err != nil {
		a.t.Fatalf("failed to create user: %v", err)
	}
	return u
}

func (a *api) campaign(target string) models.Campaign {
	a.t.Helper()
	c := models.Campaign{CharityID: a.charity.ID, Title: "New roof", TargetAmount: decimal.RequireFromString(target), Status: models.CampaignStatusActive}
	if err := a.db.Create(&c).Error; err != nil {
		a.t.Fatalf("failed to create campaign: %v", err)
	}
	return c
}

// do sends a JSON request as the given user; a zero user is a guest
func (a *api) do(method, path string, as models.User, body interface{}) *httptest.ResponseRecorder {
	a.t.Helper()

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			a.t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if as.Email != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer token-"+as.Email)
	}

	rec := httptest.NewRecorder()
	a.echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("invalid JSON %q: %v", rec.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d: %s", rec.Code, want, rec.Body.String())
	}
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, wantCode int, wantKind string) middleware.ErrorResponse {
	t.Helper()
	expectStatus(t, rec, wantCode)
	body := decode[middleware.ErrorResponse](t, rec)
	if body.Error != wantKind {
		t.Fatalf("error = %s, want %s", body.Error, wantKind)
	}
	return body
}

// pendingDonation submits a donation as the donor and returns it
func (a *api) pendingDonation(campaignID *uint, amount string) models.Donation {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/donations", a.donor, CreateDonationRequest{
		CharityID:  a.charity.ID,
		CampaignID: campaignID,
		Amount:     decimal.RequireFromString(amount),
	})
	expectStatus(a.t, rec, http.StatusCreated)
	return decode[models.Donation](a.t, rec)
}

func (a *api) completedDonation(campaignID *uint, amount string) models.Donation {
	a.t.Helper()
	d := a.pendingDonation(campaignID, amount)
	rec := a.do(http.MethodPost, "/donations/"+itoa(d.ID)+"/confirm", a.owner, ReviewRequest{Decision: services.DecisionApprove})
	expectStatus(a.t, rec, http.StatusOK)
	return decode[models.Donation](a.t, rec)
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
