// Package incident drives the incident lifecycle: NONE → OPEN →
// ACKNOWLEDGED → RESOLVED. Detection derives the failure streak from
// persisted check history, so duplicate or out-of-order probe results cannot
// corrupt the state; creation goes through the store's conditional insert,
// so concurrent detections cannot open two incidents for one monitor.
package incident

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/filipmarinca/api-monitor/internal/events"
	"github.com/filipmarinca/api-monitor/internal/fanout"
	"github.com/filipmarinca/api-monitor/internal/metrics"
	"github.com/filipmarinca/api-monitor/internal/model"
	"github.com/filipmarinca/api-monitor/internal/queue"
	"github.com/filipmarinca/api-monitor/internal/store"
)

const (
	// streakSize is how many consecutive failed checks open an incident.
	streakSize = 3
	// lookback is the staleness guard on the streak window: checks older
	// than this do not count toward the streak.
	lookback = 5 * time.Minute
)

// Manager decides and applies incident transitions.
type Manager struct {
	repo    store.Repository
	tasks   queue.TaskQueue
	pub     fanout.Publisher
	metrics metrics.Recorder
	now     func() time.Time
}

// NewManager creates an incident manager. A nil publisher or recorder
// disables fan-out or metrics respectively.
func NewManager(repo store.Repository, tasks queue.TaskQueue, pub fanout.Publisher, rec metrics.Recorder) *Manager {
	if pub == nil {
		pub = fanout.Nop{}
	}
	if rec == nil {
		rec = metrics.NoOp{}
	}
	return &Manager{
		repo:    repo,
		tasks:   tasks,
		pub:     pub,
		metrics: rec,
		now:     time.Now,
	}
}

// HandleResult inspects one persisted probe result and enqueues the incident
// transition it implies, if any. The result must already be saved: the
// streak is computed from check history, which includes the current probe.
func (m *Manager) HandleResult(ctx context.Context, mon *model.Monitor, r *model.CheckResult) error {
	if r.Success {
		return m.handleSuccess(ctx, mon)
	}
	return m.handleFailure(ctx, mon, r)
}

func (m *Manager) handleFailure(ctx context.Context, mon *model.Monitor, r *model.CheckResult) error {
	open, err := m.repo.FindOpenIncident(ctx, mon.ID)
	if err != nil {
		return fmt.Errorf("failed to look up open incident: %w", err)
	}
	if open != nil {
		// Already tracked; further failures extend the same incident.
		return nil
	}

	recent, err := m.repo.ListRecentChecks(ctx, mon.ID, lookback, streakSize)
	if err != nil {
		return fmt.Errorf("failed to list recent checks: %w", err)
	}
	if len(recent) < streakSize {
		return nil
	}
	for _, c := range recent {
		if c.Success {
			return nil
		}
	}

	description := r.Error
	if description == "" {
		description = "Monitor check failed"
	}

	task := events.IncidentTask{
		Action:      events.ActionCreate,
		MonitorID:   mon.ID,
		Title:       fmt.Sprintf("%s is down", mon.Name),
		Description: description,
		Severity:    model.SeverityHigh,
	}
	if err := m.tasks.Enqueue(ctx, queue.LaneIncidents, task); err != nil {
		return fmt.Errorf("failed to enqueue incident creation: %w", err)
	}

	slog.Info("Failure streak detected, incident creation queued",
		"monitor_id", mon.ID,
		"streak", streakSize,
	)
	return nil
}

func (m *Manager) handleSuccess(ctx context.Context, mon *model.Monitor) error {
	open, err := m.repo.FindOpenIncident(ctx, mon.ID)
	if err != nil {
		return fmt.Errorf("failed to look up open incident: %w", err)
	}
	if open == nil {
		return nil
	}

	task := events.IncidentTask{
		Action:     events.ActionResolve,
		IncidentID: open.ID,
		MonitorID:  mon.ID,
	}
	if err := m.tasks.Enqueue(ctx, queue.LaneIncidents, task); err != nil {
		return fmt.Errorf("failed to enqueue incident resolution: %w", err)
	}

	slog.Info("Recovery detected, incident resolution queued",
		"monitor_id", mon.ID,
		"incident_id", open.ID,
	)
	return nil
}

// Apply performs one incident transition task. All transitions are
// idempotent: re-delivered tasks find the work already done and return nil.
func (m *Manager) Apply(ctx context.Context, task *events.IncidentTask) error {
	switch task.Action {
	case events.ActionCreate:
		return m.create(ctx, task)
	case events.ActionResolve:
		_, err := m.Resolve(ctx, task.IncidentID)
		return err
	case events.ActionAcknowledge:
		_, err := m.Acknowledge(ctx, task.IncidentID, task.AcknowledgedBy)
		return err
	default:
		return fmt.Errorf("malformed incident task: unknown action %q", task.Action)
	}
}

func (m *Manager) create(ctx context.Context, task *events.IncidentTask) error {
	severity := task.Severity
	if severity == "" {
		severity = model.SeverityMedium
	}

	inc := &model.Incident{
		ID:          uuid.NewString(),
		MonitorID:   task.MonitorID,
		Status:      model.IncidentOpen,
		Severity:    severity,
		Title:       task.Title,
		Description: task.Description,
		StartedAt:   m.now().UTC(),
	}

	created, err := m.repo.CreateIncidentIfNoneOpen(ctx, inc)
	if err != nil {
		return fmt.Errorf("failed to create incident: %w", err)
	}
	if !created {
		// Lost the race or a duplicate task: the incident already exists.
		slog.Debug("Incident already open, skipping create", "monitor_id", task.MonitorID)
		return nil
	}

	slog.Info("Created incident",
		"incident_id", inc.ID,
		"monitor_id", inc.MonitorID,
		"severity", inc.Severity,
	)

	m.publish(ctx, events.EventIncidentCreated, inc, true)
	m.refreshGauge(ctx)
	return nil
}

// EnsureIncident returns the monitor's active incident, creating one when
// none exists. Used by the alert path, which needs an incident to attach
// delivery records to even when the failure streak has not opened one yet.
func (m *Manager) EnsureIncident(ctx context.Context, monitorID, title, description string, severity model.Severity) (*model.Incident, error) {
	open, err := m.repo.FindOpenIncident(ctx, monitorID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up open incident: %w", err)
	}
	if open != nil {
		return open, nil
	}

	inc := &model.Incident{
		ID:          uuid.NewString(),
		MonitorID:   monitorID,
		Status:      model.IncidentOpen,
		Severity:    severity,
		Title:       title,
		Description: description,
		StartedAt:   m.now().UTC(),
	}
	created, err := m.repo.CreateIncidentIfNoneOpen(ctx, inc)
	if err != nil {
		return nil, fmt.Errorf("failed to create incident: %w", err)
	}
	if !created {
		// Lost the race: another writer opened one between the lookup and
		// the insert.
		open, err = m.repo.FindOpenIncident(ctx, monitorID)
		if err != nil {
			return nil, fmt.Errorf("failed to re-look up open incident: %w", err)
		}
		if open == nil {
			return nil, fmt.Errorf("incident for monitor %s vanished during creation race", monitorID)
		}
		return open, nil
	}

	slog.Info("Created incident for firing alert",
		"incident_id", inc.ID,
		"monitor_id", inc.MonitorID,
	)
	m.publish(ctx, events.EventIncidentCreated, inc, true)
	m.refreshGauge(ctx)
	return inc, nil
}

// Resolve transitions an OPEN or ACKNOWLEDGED incident to RESOLVED. Serves
// both the automatic recovery path and manual resolve requests. Returns
// (nil, nil) when the incident was already resolved.
func (m *Manager) Resolve(ctx context.Context, incidentID string) (*model.Incident, error) {
	inc, err := m.repo.ResolveIncident(ctx, incidentID, m.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve incident: %w", err)
	}
	if inc == nil {
		slog.Debug("Incident already resolved", "incident_id", incidentID)
		return nil, nil
	}

	slog.Info("Resolved incident",
		"incident_id", inc.ID,
		"monitor_id", inc.MonitorID,
	)

	m.publish(ctx, events.EventIncidentResolved, inc, true)
	m.refreshGauge(ctx)
	return inc, nil
}

// Acknowledge transitions an OPEN incident to ACKNOWLEDGED on behalf of a
// user. Returns (nil, nil) when the incident is not OPEN.
func (m *Manager) Acknowledge(ctx context.Context, incidentID, by string) (*model.Incident, error) {
	inc, err := m.repo.AcknowledgeIncident(ctx, incidentID, by, m.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to acknowledge incident: %w", err)
	}
	if inc == nil {
		slog.Debug("Incident not open, skipping acknowledge", "incident_id", incidentID)
		return nil, nil
	}

	slog.Info("Acknowledged incident",
		"incident_id", inc.ID,
		"monitor_id", inc.MonitorID,
		"acknowledged_by", by,
	)

	m.publish(ctx, events.EventIncidentAcknowledged, inc, false)
	return inc, nil
}

// publish sends the lifecycle event to the monitor topic and, for created
// and resolved events, the global topic. Fanout is best-effort.
func (m *Manager) publish(ctx context.Context, eventType string, inc *model.Incident, global bool) {
	event := &events.IncidentEvent{Type: eventType, Incident: inc}
	if err := m.pub.Publish(ctx, fanout.MonitorTopic(inc.MonitorID), event); err != nil {
		slog.Warn("Failed to publish incident event", "type", eventType, "error", err)
	}
	if global {
		if err := m.pub.Publish(ctx, fanout.TopicGlobal, event); err != nil {
			slog.Warn("Failed to publish global incident event", "type", eventType, "error", err)
		}
	}
}

func (m *Manager) refreshGauge(ctx context.Context) {
	count, err := m.repo.CountActiveIncidents(ctx)
	if err != nil {
		slog.Warn("Failed to count active incidents", "error", err)
		return
	}
	m.metrics.SetActiveIncidents(count)
}
