package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/filipmarinca/api-monitor/internal/model"
	"github.com/filipmarinca/api-monitor/internal/store"
)

// fakeRepo is an in-memory store.Repository for wiring the engine end to
// end without Postgres.
type fakeRepo struct {
	mu         sync.Mutex
	monitors   map[string]*model.Monitor
	rules      map[string]*model.AlertRule
	checks     []*model.Check
	incidents  map[string]*model.Incident
	deliveries []*model.AlertDelivery
	nextID     int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		monitors:  make(map[string]*model.Monitor),
		rules:     make(map[string]*model.AlertRule),
		incidents: make(map[string]*model.Incident),
	}
}

func (f *fakeRepo) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeRepo) GetMonitor(_ context.Context, id string) (*model.Monitor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mon, ok := f.monitors[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return mon, nil
}

func (f *fakeRepo) ListEnabledMonitors(_ context.Context) ([]*model.Monitor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Monitor
	for _, m := range f.monitors {
		if m.Enabled {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeRepo) SaveCheck(_ context.Context, result *model.CheckResult) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	chk := &model.Check{CheckResult: *result, ID: f.id("chk"), CreatedAt: time.Now()}
	f.checks = append(f.checks, chk)
	return chk.ID, nil
}

func (f *fakeRepo) ListRecentChecks(_ context.Context, monitorID string, window time.Duration, limit int) ([]*model.Check, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().Add(-window)
	var out []*model.Check
	for i := len(f.checks) - 1; i >= 0 && len(out) < limit; i-- {
		c := f.checks[i]
		if c.MonitorID == monitorID && c.CreatedAt.After(cutoff) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeRepo) findActive(monitorID string) *model.Incident {
	for _, inc := range f.incidents {
		if inc.MonitorID == monitorID && inc.Active() {
			return inc
		}
	}
	return nil
}

func (f *fakeRepo) FindOpenIncident(_ context.Context, monitorID string) (*model.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.findActive(monitorID), nil
}

func (f *fakeRepo) CreateIncidentIfNoneOpen(_ context.Context, inc *model.Incident) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findActive(inc.MonitorID) != nil {
		return false, nil
	}
	if inc.ID == "" {
		inc.ID = f.id("inc")
	}
	stored := *inc
	f.incidents[stored.ID] = &stored
	return true, nil
}

func (f *fakeRepo) ResolveIncident(_ context.Context, incidentID string, at time.Time) (*model.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inc, ok := f.incidents[incidentID]
	if !ok || !inc.Active() {
		return nil, nil
	}
	inc.Status = model.IncidentResolved
	inc.ResolvedAt = &at
	return inc, nil
}

func (f *fakeRepo) AcknowledgeIncident(_ context.Context, incidentID, by string, at time.Time) (*model.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inc, ok := f.incidents[incidentID]
	if !ok || inc.Status != model.IncidentOpen {
		return nil, nil
	}
	inc.Status = model.IncidentAcknowledged
	inc.AcknowledgedBy = by
	inc.AcknowledgedAt = &at
	return inc, nil
}

func (f *fakeRepo) GetAlertRule(_ context.Context, id string) (*model.AlertRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rule, ok := f.rules[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return rule, nil
}

func (f *fakeRepo) ListAlertRules(_ context.Context, monitorID string) ([]*model.AlertRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.AlertRule
	for _, r := range f.rules {
		if r.MonitorID == monitorID && r.Enabled {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRepo) RecordAlertDelivery(_ context.Context, d *model.AlertDelivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries = append(f.deliveries, d)
	return nil
}

func (f *fakeRepo) CountActiveIncidents(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, inc := range f.incidents {
		if inc.Active() {
			count++
		}
	}
	return count, nil
}

func (f *fakeRepo) Close() error { return nil }

func (f *fakeRepo) activeIncident(monitorID string) *model.Incident {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.findActive(monitorID)
}

func (f *fakeRepo) checkCount(monitorID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, c := range f.checks {
		if c.MonitorID == monitorID {
			count++
		}
	}
	return count
}

type fakeEmail struct {
	mu    sync.Mutex
	sends []string
}

func (f *fakeEmail) SendEmail(_ context.Context, to, _, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, to)
	return nil
}

func (f *fakeEmail) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

type fakeWebhook struct {
	mu    sync.Mutex
	sends []string
}

func (f *fakeWebhook) SendWebhook(_ context.Context, url string, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, url)
	return nil
}

type fakeSMS struct {
	mu    sync.Mutex
	sends []string
}

func (f *fakeSMS) SendSMS(_ context.Context, to, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, to)
	return nil
}
