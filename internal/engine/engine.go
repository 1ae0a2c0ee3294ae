// Package engine ties the lanes together: it consumes probe, alert and
// incident tasks, runs checks, persists results, advances incident state and
// fans firing alerts out to their channels.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/filipmarinca/api-monitor/internal/alert"
	"github.com/filipmarinca/api-monitor/internal/dispatch"
	"github.com/filipmarinca/api-monitor/internal/events"
	"github.com/filipmarinca/api-monitor/internal/fanout"
	"github.com/filipmarinca/api-monitor/internal/incident"
	"github.com/filipmarinca/api-monitor/internal/metrics"
	"github.com/filipmarinca/api-monitor/internal/model"
	"github.com/filipmarinca/api-monitor/internal/probe"
	"github.com/filipmarinca/api-monitor/internal/queue"
	"github.com/filipmarinca/api-monitor/internal/store"
)

// Config bounds the per-lane consumer counts.
type Config struct {
	ProbeConcurrency    int
	AlertConcurrency    int
	IncidentConcurrency int
}

// DefaultConfig returns the standard lane concurrency.
func DefaultConfig() Config {
	return Config{
		ProbeConcurrency:    queue.DefaultProbeConcurrency,
		AlertConcurrency:    queue.DefaultAlertConcurrency,
		IncidentConcurrency: queue.DefaultIncidentConcurrency,
	}
}

// Engine consumes the three task lanes and drives the monitoring pipeline.
type Engine struct {
	cfg        Config
	repo       store.Repository
	tasks      queue.TaskQueue
	checker    *probe.Checker
	incidents  *incident.Manager
	alerts     *alert.Evaluator
	dispatcher *dispatch.Dispatcher
	pub        fanout.Publisher
	metrics    metrics.Recorder
}

// New wires an engine from its collaborators.
func New(cfg Config, repo store.Repository, tasks queue.TaskQueue, checker *probe.Checker,
	incidents *incident.Manager, alerts *alert.Evaluator, dispatcher *dispatch.Dispatcher,
	pub fanout.Publisher, rec metrics.Recorder) *Engine {
	if pub == nil {
		pub = fanout.Nop{}
	}
	if rec == nil {
		rec = metrics.NoOp{}
	}
	return &Engine{
		cfg:        cfg,
		repo:       repo,
		tasks:      tasks,
		checker:    checker,
		incidents:  incidents,
		alerts:     alerts,
		dispatcher: dispatcher,
		pub:        pub,
		metrics:    rec,
	}
}

// Run starts the lane consumers. It returns once they are running; the
// workers drain until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.tasks.Consume(ctx, queue.LaneProbes, e.cfg.ProbeConcurrency, e.HandleProbeTask); err != nil {
		return fmt.Errorf("failed to start probe consumers: %w", err)
	}
	if err := e.tasks.Consume(ctx, queue.LaneAlerts, e.cfg.AlertConcurrency, e.HandleAlertTask); err != nil {
		return fmt.Errorf("failed to start alert consumers: %w", err)
	}
	if err := e.tasks.Consume(ctx, queue.LaneIncidents, e.cfg.IncidentConcurrency, e.HandleIncidentTask); err != nil {
		return fmt.Errorf("failed to start incident consumers: %w", err)
	}

	slog.Info("engine started",
		"probe_concurrency", e.cfg.ProbeConcurrency,
		"alert_concurrency", e.cfg.AlertConcurrency,
		"incident_concurrency", e.cfg.IncidentConcurrency,
	)
	return nil
}

// HandleProbeTask runs one check for one monitor from one region, persists
// the result and feeds it to the incident manager and the alert evaluator.
// A monitor that disappeared or was disabled after the task was enqueued is
// dropped without error.
func (e *Engine) HandleProbeTask(ctx context.Context, payload []byte) error {
	var task events.ProbeTask
	if err := json.Unmarshal(payload, &task); err != nil {
		return fmt.Errorf("malformed probe task: %w", err)
	}

	mon, err := e.repo.GetMonitor(ctx, task.MonitorID)
	if errors.Is(err, store.ErrNotFound) {
		slog.Warn("probe task for unknown monitor, dropping", "monitor_id", task.MonitorID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load monitor %s: %w", task.MonitorID, err)
	}
	if !mon.Enabled {
		slog.Debug("probe task for disabled monitor, dropping", "monitor_id", mon.ID)
		return nil
	}

	region := task.Region
	if region == "" {
		region = model.DefaultRegion
	}

	result := e.checker.Check(ctx, mon, region)
	e.metrics.RecordCheck(mon.ID, region, result.Success, result.Latency())

	checkID, err := e.repo.SaveCheck(ctx, result)
	if err != nil {
		return fmt.Errorf("failed to save check for monitor %s: %w", mon.ID, err)
	}

	if err := e.pub.Publish(ctx, fanout.MonitorTopic(mon.ID), events.NewCheckCompleted(checkID, result)); err != nil {
		slog.Warn("failed to publish check event", "monitor_id", mon.ID, "error", err)
	}

	if err := e.incidents.HandleResult(ctx, mon, result); err != nil {
		return fmt.Errorf("failed to advance incident state for monitor %s: %w", mon.ID, err)
	}

	rules, err := e.repo.ListAlertRules(ctx, mon.ID)
	if err != nil {
		return fmt.Errorf("failed to list alert rules for monitor %s: %w", mon.ID, err)
	}
	if fired := e.alerts.Evaluate(ctx, mon, rules, result); fired > 0 {
		slog.Info("alert rules fired",
			"monitor_id", mon.ID,
			"region", region,
			"fired", fired,
		)
	}
	return nil
}

// HandleAlertTask delivers one firing rule: it secures an active incident
// for the monitor, then fans the message out over the rule's channels. Rules
// deleted or disabled after enqueue are dropped.
func (e *Engine) HandleAlertTask(ctx context.Context, payload []byte) error {
	var task events.AlertTask
	if err := json.Unmarshal(payload, &task); err != nil {
		return fmt.Errorf("malformed alert task: %w", err)
	}

	rule, err := e.repo.GetAlertRule(ctx, task.RuleID)
	if errors.Is(err, store.ErrNotFound) {
		slog.Warn("alert task for unknown rule, dropping", "rule_id", task.RuleID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load alert rule %s: %w", task.RuleID, err)
	}
	if !rule.Enabled {
		slog.Debug("alert task for disabled rule, dropping", "rule_id", rule.ID)
		return nil
	}

	mon, err := e.repo.GetMonitor(ctx, task.MonitorID)
	if errors.Is(err, store.ErrNotFound) {
		slog.Warn("alert task for unknown monitor, dropping", "monitor_id", task.MonitorID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load monitor %s: %w", task.MonitorID, err)
	}

	inc, err := e.incidents.EnsureIncident(ctx, mon.ID,
		fmt.Sprintf("Alert: %s", rule.Name), task.Message, model.SeverityMedium)
	if err != nil {
		return fmt.Errorf("failed to ensure incident for monitor %s: %w", mon.ID, err)
	}

	incidentID := ""
	if inc != nil {
		incidentID = inc.ID
	}

	outcomes := e.dispatcher.Dispatch(ctx, rule, mon, incidentID, task.Message)
	for _, o := range outcomes {
		if o.Err != nil {
			slog.Warn("alert channel delivery failed",
				"rule_id", rule.ID,
				"channel", o.Channel,
				"recipient", o.Recipient,
				"error", o.Err,
			)
		}
	}
	return nil
}

// HandleIncidentTask applies one incident lifecycle transition.
func (e *Engine) HandleIncidentTask(ctx context.Context, payload []byte) error {
	var task events.IncidentTask
	if err := json.Unmarshal(payload, &task); err != nil {
		return fmt.Errorf("malformed incident task: %w", err)
	}
	return e.incidents.Apply(ctx, &task)
}
