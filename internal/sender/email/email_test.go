package email

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/filipmarinca/api-monitor/internal/sender/email/provider"
)

type recordingProvider struct {
	mu   sync.Mutex
	reqs []*provider.Request
}

func (r *recordingProvider) Name() string       { return "fake" }
func (r *recordingProvider) IsConfigured() bool { return true }

func (r *recordingProvider) Send(_ context.Context, req *provider.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return nil
}

func (r *recordingProvider) last() *provider.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.reqs) == 0 {
		return nil
	}
	return r.reqs[len(r.reqs)-1]
}

func newTestSender(t *testing.T) (*Sender, *recordingProvider) {
	t.Helper()
	rec := &recordingProvider{}
	reg := provider.NewRegistry()
	reg.Register(rec)
	if err := reg.SetPrimary("fake"); err != nil {
		t.Fatalf("SetPrimary: %v", err)
	}
	return NewSenderWithRegistry(reg, "API Monitor <noreply@apimonitor.dev>"), rec
}

func TestSender_SendEmail(t *testing.T) {
	s, rec := newTestSender(t)

	err := s.SendEmail(context.Background(), "oncall@example.io", "payments-api is down", "the monitor failed", "<p>the monitor failed</p>")
	if err != nil {
		t.Fatalf("SendEmail() error = %v", err)
	}

	req := rec.last()
	if req == nil {
		t.Fatal("no email was delivered")
	}
	if req.From != "API Monitor <noreply@apimonitor.dev>" {
		t.Errorf("From = %q", req.From)
	}
	if len(req.To) != 1 || req.To[0] != "oncall@example.io" {
		t.Errorf("To = %v", req.To)
	}
	if req.Subject != "payments-api is down" || req.Text != "the monitor failed" {
		t.Errorf("Subject/Text = %q / %q", req.Subject, req.Text)
	}
	if !strings.Contains(req.HTML, "<p>") {
		t.Errorf("HTML = %q", req.HTML)
	}
}

func TestSender_SendEmail_MultipleRecipients(t *testing.T) {
	s, rec := newTestSender(t)

	err := s.SendEmail(context.Background(), "oncall@example.io, backup@example.io,,  lead@example.io ", "subject", "body", "")
	if err != nil {
		t.Fatalf("SendEmail() error = %v", err)
	}

	req := rec.last()
	want := []string{"oncall@example.io", "backup@example.io", "lead@example.io"}
	if len(req.To) != len(want) {
		t.Fatalf("To = %v, want %v", req.To, want)
	}
	for i, addr := range want {
		if req.To[i] != addr {
			t.Errorf("To[%d] = %q, want %q", i, req.To[i], addr)
		}
	}
}

func TestSender_SendEmail_InvalidRecipients(t *testing.T) {
	s, rec := newTestSender(t)
	ctx := context.Background()

	tests := []struct {
		name string
		to   string
	}{
		{"empty", ""},
		{"only separators", " , , "},
		{"missing at sign", "oncall.example.io"},
		{"one bad address in list", "oncall@example.io, not-an-address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.SendEmail(ctx, tt.to, "subject", "body", ""); err == nil {
				t.Errorf("SendEmail(%q) succeeded, want error", tt.to)
			}
		})
	}
	if rec.last() != nil {
		t.Error("invalid recipients should not reach the provider")
	}
}

func TestParseRecipients(t *testing.T) {
	got := parseRecipients("a@b.io,  c@d.io ,")
	if len(got) != 2 || got[0] != "a@b.io" || got[1] != "c@d.io" {
		t.Errorf("parseRecipients() = %v", got)
	}
}
