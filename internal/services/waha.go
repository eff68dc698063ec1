package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// WahaService sends WhatsApp messages through a WAHA gateway
type WahaService struct {
	baseURL string
	apiKey  string
	session string
	client  *http.Client

	// pauses between the seen, typing and send calls so messages look human
	pauses [3]time.Duration
}

func NewWahaService() *WahaService {
	url := os.Getenv("WAHA_BASE_URL")
	if url == "" {
		url = "http://waha:3000"
	}
	session := os.Getenv("WAHA_SESSION")
	if session == "" {
		session = "default"
	}
	return &WahaService{
		baseURL: strings.TrimRight(url, "/"),
		apiKey:  os.Getenv("WAHA_API_KEY"),
		session: session,
		client:  &http.Client{Timeout: 15 * time.Second},
		pauses:  [3]time.Duration{100 * time.Millisecond, 150 * time.Millisecond, 50 * time.Millisecond},
	}
}

// NewWahaServiceWithURL points the service at a specific gateway without pauses
func NewWahaServiceWithURL(baseURL, apiKey string, client *http.Client) *WahaService {
	if client == nil {
		client = http.DefaultClient
	}
	return &WahaService{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		session: "default",
		client:  client,
	}
}

func (s *WahaService) makeRequest(ctx context.Context, endpoint string, payload map[string]string) error {
	payload["session"] = s.session
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("X-Api-Key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s failed with status %d: %s", endpoint, resp.StatusCode, string(body))
	}
	return nil
}

func (s *WahaService) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NormalizeChatID normalizes WhatsApp chat IDs by adding required suffixes and standardizing country codes
func NormalizeChatID(chatId string) string {
	chatId = strings.TrimSpace(chatId)

	if strings.HasSuffix(chatId, "@g.us") {
		return chatId
	}

	chatId = strings.TrimSuffix(chatId, "@c.us")
	chatId = strings.TrimPrefix(chatId, "+")

	// Indonesian local numbers start with 0
	if strings.HasPrefix(chatId, "0") {
		chatId = "62" + strings.TrimPrefix(chatId, "0")
	}

	return chatId + "@c.us"
}

// GroupChatID appends the group suffix when missing
func GroupChatID(groupID string) string {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" || strings.HasSuffix(groupID, "@g.us") {
		return groupID
	}
	return groupID + "@g.us"
}

// SendMessage sends a message the way a person would: seen, typing, stop typing, send
func (s *WahaService) SendMessage(ctx context.Context, chatId, text string) error {
	chatId = NormalizeChatID(chatId)

	steps := []struct {
		endpoint string
		payload  map[string]string
		pause    time.Duration
	}{
		{"/api/sendSeen", map[string]string{"chatId": chatId}, s.pauses[0]},
		{"/api/startTyping", map[string]string{"chatId": chatId}, s.pauses[1]},
		{"/api/stopTyping", map[string]string{"chatId": chatId}, s.pauses[2]},
		{"/api/sendText", map[string]string{"chatId": chatId, "text": text}, 0},
	}

	for _, step := range steps {
		if err := s.makeRequest(ctx, step.endpoint, step.payload); err != nil {
			return err
		}
		if err := s.pause(ctx, step.pause); err != nil {
			return err
		}
	}
	return nil
}
