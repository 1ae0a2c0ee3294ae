package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/filipmarinca/api-monitor/internal/alert"
	"github.com/filipmarinca/api-monitor/internal/dispatch"
	"github.com/filipmarinca/api-monitor/internal/events"
	"github.com/filipmarinca/api-monitor/internal/incident"
	"github.com/filipmarinca/api-monitor/internal/model"
	"github.com/filipmarinca/api-monitor/internal/probe"
	"github.com/filipmarinca/api-monitor/internal/queue"
)

type testEngine struct {
	engine  *Engine
	repo    *fakeRepo
	tasks   *queue.Memory
	email   *fakeEmail
	webhook *fakeWebhook
	sms     *fakeSMS
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	repo := newFakeRepo()
	tasks := queue.NewMemory()
	t.Cleanup(func() { tasks.Close() })

	email := &fakeEmail{}
	webhook := &fakeWebhook{}
	sms := &fakeSMS{}

	incidents := incident.NewManager(repo, tasks, nil, nil)
	evaluator := alert.NewEvaluator(tasks)
	dispatcher := dispatch.NewDispatcher(repo, dispatch.Senders{
		Email:   email,
		Webhook: webhook,
		SMS:     sms,
	}, nil)

	eng := New(DefaultConfig(), repo, tasks, probe.NewChecker(), incidents, evaluator, dispatcher, nil, nil)
	return &testEngine{engine: eng, repo: repo, tasks: tasks, email: email, webhook: webhook, sms: sms}
}

func probePayload(t *testing.T, monitorID, region string) []byte {
	t.Helper()
	payload, err := json.Marshal(events.ProbeTask{MonitorID: monitorID, Region: region})
	if err != nil {
		t.Fatalf("marshal probe task: %v", err)
	}
	return payload
}

func TestEngine_HandleProbeTask_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	te := newTestEngine(t)
	te.repo.monitors["mon-1"] = &model.Monitor{
		ID:             "mon-1",
		Name:           "payments-api",
		URL:            srv.URL,
		Method:         http.MethodGet,
		ExpectedStatus: http.StatusOK,
		TimeoutMs:      5000,
		Enabled:        true,
	}

	err := te.engine.HandleProbeTask(context.Background(), probePayload(t, "mon-1", "us-east"))
	if err != nil {
		t.Fatalf("HandleProbeTask() error = %v", err)
	}
	if got := te.repo.checkCount("mon-1"); got != 1 {
		t.Errorf("saved checks = %d, want 1", got)
	}
	if n := te.tasks.Len(queue.LaneIncidents); n != 0 {
		t.Errorf("incident lane = %d tasks after a passing check, want 0", n)
	}
}

func TestEngine_HandleProbeTask_FailureStreakOpensIncident(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	te := newTestEngine(t)
	te.repo.monitors["mon-1"] = &model.Monitor{
		ID:             "mon-1",
		Name:           "payments-api",
		URL:            srv.URL,
		Method:         http.MethodGet,
		ExpectedStatus: http.StatusOK,
		TimeoutMs:      5000,
		Enabled:        true,
	}

	ctx := context.Background()
	payload := probePayload(t, "mon-1", "us-east")
	for i := 0; i < 3; i++ {
		if err := te.engine.HandleProbeTask(ctx, payload); err != nil {
			t.Fatalf("HandleProbeTask() #%d error = %v", i+1, err)
		}
	}

	if n := te.tasks.Len(queue.LaneIncidents); n != 1 {
		t.Fatalf("incident lane = %d tasks after 3 failures, want 1", n)
	}
	if err := te.tasks.Consume(ctx, queue.LaneIncidents, 1, te.engine.HandleIncidentTask); err != nil {
		t.Fatalf("Consume() error = %v", err)
	}

	inc := waitForIncident(t, te.repo, "mon-1")
	if inc.Status != model.IncidentOpen {
		t.Errorf("incident status = %s, want OPEN", inc.Status)
	}
	if inc.Severity != model.SeverityHigh {
		t.Errorf("incident severity = %s, want HIGH", inc.Severity)
	}
	if !strings.Contains(inc.Title, "payments-api") {
		t.Errorf("incident title = %q, want monitor name in it", inc.Title)
	}
}

func TestEngine_HandleProbeTask_DropsUnknownMonitor(t *testing.T) {
	te := newTestEngine(t)
	if err := te.engine.HandleProbeTask(context.Background(), probePayload(t, "ghost", "")); err != nil {
		t.Errorf("HandleProbeTask() error = %v, want unknown monitor dropped", err)
	}
	if got := te.repo.checkCount("ghost"); got != 0 {
		t.Errorf("saved checks = %d, want 0", got)
	}
}

func TestEngine_HandleProbeTask_DropsDisabledMonitor(t *testing.T) {
	te := newTestEngine(t)
	te.repo.monitors["mon-1"] = &model.Monitor{ID: "mon-1", URL: "http://127.0.0.1:0", Enabled: false}

	if err := te.engine.HandleProbeTask(context.Background(), probePayload(t, "mon-1", "")); err != nil {
		t.Errorf("HandleProbeTask() error = %v, want disabled monitor dropped", err)
	}
	if got := te.repo.checkCount("mon-1"); got != 0 {
		t.Errorf("saved checks = %d, want 0", got)
	}
}

func TestEngine_HandleProbeTask_MalformedPayload(t *testing.T) {
	te := newTestEngine(t)
	err := te.engine.HandleProbeTask(context.Background(), []byte("{not json"))
	if err == nil || !strings.Contains(err.Error(), "malformed") {
		t.Errorf("HandleProbeTask() error = %v, want malformed payload error", err)
	}
}

func TestEngine_HandleProbeTask_FiresAlertRules(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	te := newTestEngine(t)
	te.repo.monitors["mon-1"] = &model.Monitor{
		ID:             "mon-1",
		Name:           "payments-api",
		URL:            srv.URL,
		Method:         http.MethodGet,
		ExpectedStatus: http.StatusOK,
		TimeoutMs:      5000,
		Enabled:        true,
	}
	te.repo.rules["rule-1"] = &model.AlertRule{
		ID:           "rule-1",
		MonitorID:    "mon-1",
		Name:         "down alert",
		Enabled:      true,
		Condition:    model.ConditionDown,
		Email:        true,
		EmailAddress: "oncall@example.io",
	}

	if err := te.engine.HandleProbeTask(context.Background(), probePayload(t, "mon-1", "us-east")); err != nil {
		t.Fatalf("HandleProbeTask() error = %v", err)
	}
	if n := te.tasks.Len(queue.LaneAlerts); n != 1 {
		t.Errorf("alert lane = %d tasks, want 1", n)
	}
}

func TestEngine_HandleAlertTask_DeliversAndEnsuresIncident(t *testing.T) {
	te := newTestEngine(t)
	te.repo.monitors["mon-1"] = &model.Monitor{ID: "mon-1", Name: "payments-api", URL: "https://payments.example.io", Enabled: true}
	te.repo.rules["rule-1"] = &model.AlertRule{
		ID:           "rule-1",
		MonitorID:    "mon-1",
		Name:         "down alert",
		Enabled:      true,
		Condition:    model.ConditionDown,
		Email:        true,
		EmailAddress: "oncall@example.io",
	}

	payload, _ := json.Marshal(events.AlertTask{RuleID: "rule-1", MonitorID: "mon-1", Message: "payments-api is down"})
	if err := te.engine.HandleAlertTask(context.Background(), payload); err != nil {
		t.Fatalf("HandleAlertTask() error = %v", err)
	}

	inc := te.repo.activeIncident("mon-1")
	if inc == nil {
		t.Fatal("no incident was opened for the alert")
	}
	if inc.Severity != model.SeverityMedium {
		t.Errorf("incident severity = %s, want MEDIUM", inc.Severity)
	}
	if inc.Title != "Alert: down alert" {
		t.Errorf("incident title = %q", inc.Title)
	}
	if te.email.count() != 1 {
		t.Errorf("email sends = %d, want 1", te.email.count())
	}

	te.repo.mu.Lock()
	deliveries := len(te.repo.deliveries)
	te.repo.mu.Unlock()
	if deliveries != 1 {
		t.Errorf("delivery records = %d, want 1", deliveries)
	}
}

func TestEngine_HandleAlertTask_DropsUnknownRule(t *testing.T) {
	te := newTestEngine(t)
	payload, _ := json.Marshal(events.AlertTask{RuleID: "ghost", MonitorID: "mon-1", Message: "msg"})
	if err := te.engine.HandleAlertTask(context.Background(), payload); err != nil {
		t.Errorf("HandleAlertTask() error = %v, want unknown rule dropped", err)
	}
	if te.email.count() != 0 {
		t.Errorf("email sends = %d, want 0", te.email.count())
	}
}

func TestEngine_HandleAlertTask_DropsDisabledRule(t *testing.T) {
	te := newTestEngine(t)
	te.repo.rules["rule-1"] = &model.AlertRule{ID: "rule-1", MonitorID: "mon-1", Enabled: false, Email: true, EmailAddress: "x@y.io"}

	payload, _ := json.Marshal(events.AlertTask{RuleID: "rule-1", MonitorID: "mon-1", Message: "msg"})
	if err := te.engine.HandleAlertTask(context.Background(), payload); err != nil {
		t.Errorf("HandleAlertTask() error = %v, want disabled rule dropped", err)
	}
	if te.email.count() != 0 {
		t.Errorf("email sends = %d, want 0", te.email.count())
	}
}

func TestEngine_HandleIncidentTask_MalformedPayload(t *testing.T) {
	te := newTestEngine(t)
	err := te.engine.HandleIncidentTask(context.Background(), []byte("nope"))
	if err == nil || !strings.Contains(err.Error(), "malformed") {
		t.Errorf("HandleIncidentTask() error = %v, want malformed payload error", err)
	}
}

func TestEngine_Run_StartsAllLanes(t *testing.T) {
	te := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := te.engine.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// With consumers live, an enqueued probe task for an unknown monitor
	// drains without leaving the lane backed up.
	if err := te.tasks.Enqueue(ctx, queue.LaneProbes, events.ProbeTask{MonitorID: "ghost"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	deadline := time.After(2 * time.Second)
	for te.tasks.Len(queue.LaneProbes) > 0 {
		select {
		case <-deadline:
			t.Fatal("probe lane did not drain")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func waitForIncident(t *testing.T, repo *fakeRepo, monitorID string) *model.Incident {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if inc := repo.activeIncident(monitorID); inc != nil {
			return inc
		}
		select {
		case <-deadline:
			t.Fatal("no incident appeared")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
