package services

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"
)

func testEmailService(send func(string, smtp.Auth, string, []string, []byte) error) *EmailService {
	return &EmailService{
		host:     "smtp.example.com",
		port:     "587",
		user:     "ledger@example.com",
		password: "secret",
		from:     "Charity Ledger <noreply@example.com>",
		send:     send,
	}
}

func TestBuildMessage(t *testing.T) {
	s := testEmailService(nil)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	msg := string(s.buildMessage([]string{"a@example.com", "b@example.com"}, "Your receipt", "Line one\nLine two", now))

	for _, want := range []string{
		"From: Charity Ledger <noreply@example.com>\r\n",
		"To: a@example.com, b@example.com\r\n",
		"Subject: Your receipt\r\n",
		"Date: Tue, 10 Mar 2026 12:00:00 +0000\r\n",
		"\r\n\r\nLine one\r\nLine two\r\n",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestSendEmail(t *testing.T) {
	var (
		gotAddr string
		gotFrom string
		gotTo   []string
	)
	s := testEmailService(func(addr string, _ smtp.Auth, from string, to []string, _ []byte) error {
		gotAddr, gotFrom, gotTo = addr, from, to
		return nil
	})

	if err := s.SendEmail(context.Background(), []string{"donor@example.com"}, "Hi", "Body"); err != nil {
		t.Fatalf("SendEmail failed: %v", err)
	}
	if gotAddr != "smtp.example.com:587" {
		t.Errorf("addr = %q", gotAddr)
	}
	if gotFrom != "Charity Ledger <noreply@example.com>" {
		t.Errorf("from = %q", gotFrom)
	}
	if len(gotTo) != 1 || gotTo[0] != "donor@example.com" {
		t.Errorf("to = %v", gotTo)
	}
}

func TestSendEmailErrors(t *testing.T) {
	ctx := context.Background()

	unconfigured := &EmailService{}
	if unconfigured.Configured() {
		t.Error("empty service reports configured")
	}
	if err := unconfigured.SendEmail(ctx, []string{"x@example.com"}, "s", "b"); err == nil {
		t.Error("expected error without SMTP settings")
	}

	s := testEmailService(func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("connection refused")
	})
	if err := s.SendEmail(ctx, nil, "s", "b"); err == nil {
		t.Error("expected error without recipients")
	}
	if err := s.SendEmail(ctx, []string{"x@example.com"}, "s", "b"); err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("expected wrapped send error, got %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := s.SendEmail(cancelled, []string{"x@example.com"}, "s", "b"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
