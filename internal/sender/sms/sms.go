// Package sms delivers SMS notifications through the Twilio REST API.
package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const twilioAPIBase = "https://api.twilio.com/2010-04-01"

// Sender delivers SMS messages via Twilio. When no credentials are
// configured the sender logs and skips rather than failing the delivery.
type Sender struct {
	accountSID string
	authToken  string
	fromNumber string
	apiBase    string
	client     *http.Client
}

// NewSender creates an SMS sender from TWILIO_ACCOUNT_SID,
// TWILIO_AUTH_TOKEN and TWILIO_PHONE_NUMBER.
func NewSender() *Sender {
	return &Sender{
		accountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		authToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		fromNumber: os.Getenv("TWILIO_PHONE_NUMBER"),
		apiBase:    twilioAPIBase,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// IsConfigured reports whether Twilio credentials were supplied.
func (s *Sender) IsConfigured() bool {
	return s.accountSID != "" && s.authToken != ""
}

// SendSMS sends one text message. An unconfigured sender is a silent skip,
// not an error, so monitors without an SMS gateway still deliver their
// other channels cleanly.
func (s *Sender) SendSMS(ctx context.Context, to, message string) error {
	if !s.IsConfigured() {
		slog.Warn("Twilio not configured, skipping SMS", "to", to)
		return nil
	}
	if to == "" {
		return fmt.Errorf("sms recipient is required")
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", s.fromNumber)
	form.Set("Body", message)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", s.apiBase, s.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build sms request: %w", err)
	}
	req.SetBasicAuth(s.accountSID, s.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send sms: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sms gateway returned status %d: %s", resp.StatusCode, twilioError(body))
	}

	slog.Info("SMS sent", "to", to)
	return nil
}

// twilioError extracts the message field from a Twilio error response,
// falling back to the raw body.
func twilioError(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	return string(body)
}
