package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/filipmarinca/api-monitor/internal/model"
	"github.com/filipmarinca/api-monitor/internal/store"
)

// fakeEmail records sent emails, optionally failing every send.
type fakeEmail struct {
	mu   sync.Mutex
	sent []string // recipients
	err  error
}

func (f *fakeEmail) SendEmail(ctx context.Context, to, subject, textBody, htmlBody string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to)
	return nil
}

type fakeWebhook struct {
	mu       sync.Mutex
	payloads []any
	err      error
}

func (f *fakeWebhook) SendWebhook(ctx context.Context, url string, payload any) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	return nil
}

type fakeSMS struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (f *fakeSMS) SendSMS(ctx context.Context, to, message string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
	return nil
}

// deliveryRepo records the AlertDelivery rows written by the dispatcher.
type deliveryRepo struct {
	mu         sync.Mutex
	deliveries []*model.AlertDelivery
	recordErr  error
}

func (r *deliveryRepo) RecordAlertDelivery(ctx context.Context, d *model.AlertDelivery) error {
	if r.recordErr != nil {
		return r.recordErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, d)
	return nil
}

func (r *deliveryRepo) byChannel(channel model.Channel) *model.AlertDelivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.deliveries {
		if d.Channel == channel {
			return d
		}
	}
	return nil
}

// The dispatcher only writes delivery records; the rest of the Repository
// surface is inert.
func (r *deliveryRepo) GetMonitor(ctx context.Context, id string) (*model.Monitor, error) {
	return nil, store.ErrNotFound
}
func (r *deliveryRepo) ListEnabledMonitors(ctx context.Context) ([]*model.Monitor, error) {
	return nil, nil
}
func (r *deliveryRepo) SaveCheck(ctx context.Context, result *model.CheckResult) (string, error) {
	return "", nil
}
func (r *deliveryRepo) ListRecentChecks(ctx context.Context, monitorID string, window time.Duration, limit int) ([]*model.Check, error) {
	return nil, nil
}
func (r *deliveryRepo) FindOpenIncident(ctx context.Context, monitorID string) (*model.Incident, error) {
	return nil, nil
}
func (r *deliveryRepo) CreateIncidentIfNoneOpen(ctx context.Context, inc *model.Incident) (bool, error) {
	return false, nil
}
func (r *deliveryRepo) ResolveIncident(ctx context.Context, incidentID string, at time.Time) (*model.Incident, error) {
	return nil, nil
}
func (r *deliveryRepo) AcknowledgeIncident(ctx context.Context, incidentID, by string, at time.Time) (*model.Incident, error) {
	return nil, nil
}
func (r *deliveryRepo) GetAlertRule(ctx context.Context, id string) (*model.AlertRule, error) {
	return nil, store.ErrNotFound
}
func (r *deliveryRepo) ListAlertRules(ctx context.Context, monitorID string) ([]*model.AlertRule, error) {
	return nil, nil
}
func (r *deliveryRepo) CountActiveIncidents(ctx context.Context) (int, error) {
	return 0, nil
}
func (r *deliveryRepo) Close() error { return nil }
