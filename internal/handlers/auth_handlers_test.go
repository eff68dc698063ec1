package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"charity_ledger/internal/models"
)

func TestLoginIssuesSessionCookie(t *testing.T) {
	a := newAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer token-"+a.donor.Email)
	rec := httptest.NewRecorder()
	a.echo.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusOK)

	var session *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "session" {
			session = c
		}
	}
	if session == nil || session.Value == "" || !session.HttpOnly {
		t.Fatalf("session cookie = %+v", session)
	}

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(session)
	rec = httptest.NewRecorder()
	a.echo.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusOK)
	if me := decode[models.Actor](t, rec); me.UserID != a.donor.ID || me.Role != models.UserTypeDonor {
		t.Errorf("me = %+v", me)
	}
}

func TestLoginRejectsBadTokens(t *testing.T) {
	a := newAPI(t)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not a bearer token", "token-" + a.donor.Email},
		{"invalid token", "Bearer forged"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
			if tt.header != "" {
				req.Header.Set(echo.HeaderAuthorization, tt.header)
			}
			rec := httptest.NewRecorder()
			a.echo.ServeHTTP(rec, req)
			expectError(t, rec, http.StatusUnauthorized, "http_error")
		})
	}
}

func TestLoginWithoutFirebase(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/auth/login", nil), rec)

	err := NewAuthHandler(nil).HandleLogin(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusServiceUnavailable {
		t.Errorf("err = %v, want 503", err)
	}
}

func TestLogoutClearsCookie(t *testing.T) {
	a := newAPI(t)
	rec := a.do(http.MethodPost, "/auth/logout", models.User{}, nil)
	expectStatus(t, rec, http.StatusOK)

	cleared := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == "session" && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("session cookie not cleared")
	}
}

func TestNotificationPreferenceEndpoints(t *testing.T) {
	a := newAPI(t)
	path := "/me/notification-preference"

	rec := a.do(http.MethodGet, path, a.donor, nil)
	expectStatus(t, rec, http.StatusOK)
	if pref := decode[models.UserNotifPreference](t, rec); pref.Channel != models.NotificationChannelEmail {
		t.Errorf("default channel = %s, want email", pref.Channel)
	}

	tests := []struct {
		name     string
		req      PreferenceRequest
		wantCode int
	}{
		{"unknown channel", PreferenceRequest{Channel: "sms"}, http.StatusBadRequest},
		{"unknown target", PreferenceRequest{Channel: models.NotificationChannelWhatsapp, WhatsappTargetType: "broadcast"}, http.StatusBadRequest},
		{"group without id", PreferenceRequest{Channel: models.NotificationChannelWhatsapp, WhatsappTargetType: models.WhatsappTargetTypeGroup}, http.StatusBadRequest},
		{"personal whatsapp", PreferenceRequest{Channel: models.NotificationChannelWhatsapp}, http.StatusOK},
		{"group whatsapp", PreferenceRequest{Channel: models.NotificationChannelWhatsapp, WhatsappTargetType: models.WhatsappTargetTypeGroup, WhatsappGroupID: "120363000000@g.us"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectStatus(t, a.do(http.MethodPut, path, a.donor, tt.req), tt.wantCode)
		})
	}

	rec = a.do(http.MethodGet, path, a.donor, nil)
	expectStatus(t, rec, http.StatusOK)
	pref := decode[models.UserNotifPreference](t, rec)
	if pref.Channel != models.NotificationChannelWhatsapp || pref.WhatsappGroupID != "120363000000@g.us" {
		t.Errorf("stored preference = %+v", pref)
	}

	var rows int64
	a.db.Model(&models.UserNotifPreference{}).Where("user_id = ?", a.donor.ID).Count(&rows)
	if rows != 1 {
		t.Errorf("preference rows = %d, want 1", rows)
	}

	expectError(t, a.do(http.MethodGet, path, models.User{}, nil), http.StatusUnauthorized, "http_error")
}
