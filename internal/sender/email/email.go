// Package email delivers email notifications through a pluggable provider
// registry (SMTP, Resend, AWS SES).
package email

import (
	"context"
	"fmt"
	"strings"

	"github.com/filipmarinca/api-monitor/internal/sender/email/provider"
)

// Sender delivers email notifications via the configured provider chain.
type Sender struct {
	registry *provider.Registry
	from     string
}

// NewSender builds a sender with all known backends registered. The primary
// backend comes from EMAIL_PROVIDER (default "smtp"); the others act as
// fallbacks. The envelope sender comes from EMAIL_FROM.
func NewSender() *Sender {
	reg := provider.NewRegistry()
	reg.Register(provider.NewSMTPProvider())
	reg.Register(provider.NewResendProvider())
	reg.Register(provider.NewSESProvider())

	primary := provider.GetEnvOrDefault("EMAIL_PROVIDER", "smtp")
	if err := reg.SetPrimary(primary); err != nil {
		// Unknown name in the env var; the registry will fall back to
		// whatever is configured.
		reg.SetPrimary("smtp")
	}
	reg.SetFallback("resend", "ses")

	return &Sender{
		registry: reg,
		from:     provider.GetEnvOrDefault("EMAIL_FROM", "API Monitor <noreply@apimonitor.dev>"),
	}
}

// NewSenderWithRegistry builds a sender over a caller-supplied registry.
func NewSenderWithRegistry(reg *provider.Registry, from string) *Sender {
	return &Sender{registry: reg, from: from}
}

// SendEmail sends one notification email. The to value may be a
// comma-separated list of addresses.
func (s *Sender) SendEmail(ctx context.Context, to, subject, textBody, htmlBody string) error {
	if to == "" {
		return fmt.Errorf("email recipient is required")
	}

	recipients := parseRecipients(to)
	if len(recipients) == 0 {
		return fmt.Errorf("no valid email recipients provided")
	}
	for _, rcpt := range recipients {
		if !strings.Contains(rcpt, "@") {
			return fmt.Errorf("invalid email address format: %q", rcpt)
		}
	}

	req := &provider.Request{
		From:    s.from,
		To:      recipients,
		Subject: subject,
		Text:    textBody,
		HTML:    htmlBody,
	}
	if err := s.registry.Send(ctx, req); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// parseRecipients splits a comma-separated address list, dropping empties.
func parseRecipients(value string) []string {
	parts := strings.Split(value, ",")
	recipients := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			recipients = append(recipients, trimmed)
		}
	}
	return recipients
}
