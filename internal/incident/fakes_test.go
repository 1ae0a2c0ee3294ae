package incident

import (
	"context"
	"sync"
	"time"

	"github.com/filipmarinca/api-monitor/internal/model"
	"github.com/filipmarinca/api-monitor/internal/store"
)

// fakeRepo is an in-memory Repository honoring the same contracts as the
// Postgres implementation: at most one active incident per monitor, and
// no-op returns for already-settled transitions.
type fakeRepo struct {
	mu        sync.Mutex
	monitors  map[string]*model.Monitor
	checks    []*model.Check
	incidents map[string]*model.Incident
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		monitors:  make(map[string]*model.Monitor),
		incidents: make(map[string]*model.Incident),
	}
}

func (f *fakeRepo) addCheck(monitorID string, success bool, age time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks = append(f.checks, &model.Check{
		CheckResult: model.CheckResult{MonitorID: monitorID, Success: success},
		CreatedAt:   time.Now().Add(-age),
	})
}

func (f *fakeRepo) GetMonitor(ctx context.Context, id string) (*model.Monitor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.monitors[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return m, nil
}

func (f *fakeRepo) ListEnabledMonitors(ctx context.Context) ([]*model.Monitor, error) {
	return nil, nil
}

func (f *fakeRepo) SaveCheck(ctx context.Context, result *model.CheckResult) (string, error) {
	return "chk-fake", nil
}

func (f *fakeRepo) ListRecentChecks(ctx context.Context, monitorID string, window time.Duration, limit int) ([]*model.Check, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().Add(-window)
	var out []*model.Check
	// Newest first, like the SQL query.
	for i := len(f.checks) - 1; i >= 0 && len(out) < limit; i-- {
		c := f.checks[i]
		if c.MonitorID == monitorID && c.CreatedAt.After(cutoff) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeRepo) FindOpenIncident(ctx context.Context, monitorID string) (*model.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.findActive(monitorID), nil
}

func (f *fakeRepo) findActive(monitorID string) *model.Incident {
	for _, inc := range f.incidents {
		if inc.MonitorID == monitorID && inc.Active() {
			return inc
		}
	}
	return nil
}

func (f *fakeRepo) CreateIncidentIfNoneOpen(ctx context.Context, inc *model.Incident) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findActive(inc.MonitorID) != nil {
		return false, nil
	}
	cp := *inc
	f.incidents[inc.ID] = &cp
	return true, nil
}

func (f *fakeRepo) ResolveIncident(ctx context.Context, incidentID string, at time.Time) (*model.Incident, error) {
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

func (f *fakeRepo) AcknowledgeIncident(ctx context.Context, incidentID, by string, at time.Time) (*model.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inc, ok := f.incidents[incidentID]
	if !ok || inc.Status != model.IncidentOpen {
		return nil, nil
	}
	inc.Status = model.IncidentAcknowledged
	inc.AcknowledgedAt = &at
	inc.AcknowledgedBy = by
	return inc, nil
}

func (f *fakeRepo) GetAlertRule(ctx context.Context, id string) (*model.AlertRule, error) {
	return nil, store.ErrNotFound
}

func (f *fakeRepo) ListAlertRules(ctx context.Context, monitorID string) ([]*model.AlertRule, error) {
	return nil, nil
}

func (f *fakeRepo) RecordAlertDelivery(ctx context.Context, d *model.AlertDelivery) error {
	return nil
}

func (f *fakeRepo) CountActiveIncidents(ctx context.Context) (int, error) {
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

// fakePublisher records published fanout events.
type fakePublisher struct {
	mu     sync.Mutex
	topics []string
	events []any
}

func (p *fakePublisher) Publish(ctx context.Context, topic string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) count(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, t := range p.topics {
		if t == topic {
			n++
		}
	}
	return n
}
