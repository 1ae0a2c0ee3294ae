// Package alert evaluates alert rules against probe results and submits one
// notification job per firing rule. Rules are independent: a single probe
// may fire zero, one, or many of them.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/filipmarinca/api-monitor/internal/events"
	"github.com/filipmarinca/api-monitor/internal/model"
	"github.com/filipmarinca/api-monitor/internal/queue"
)

// Predicate decides whether a CUSTOM rule fires for a probe result and, when
// it does, supplies the notification message.
type Predicate func(m *model.Monitor, r *model.CheckResult) (bool, string)

// Evaluator applies a monitor's alert rules to each probe result and
// enqueues an alert task for every rule that fires.
type Evaluator struct {
	tasks queue.TaskQueue

	mu         sync.RWMutex
	predicates map[string]Predicate // keyed by rule name
}

// NewEvaluator creates an Evaluator submitting notification jobs to the
// alert lane.
func NewEvaluator(tasks queue.TaskQueue) *Evaluator {
	return &Evaluator{
		tasks:      tasks,
		predicates: make(map[string]Predicate),
	}
}

// RegisterPredicate installs the predicate backing CUSTOM rules with the
// given rule name. A CUSTOM rule without a registered predicate never fires.
func (e *Evaluator) RegisterPredicate(ruleName string, p Predicate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.predicates[ruleName] = p
}

// Evaluate runs every enabled rule against the probe result and enqueues one
// alert task per firing rule. Returns the number of rules that fired.
func (e *Evaluator) Evaluate(ctx context.Context, m *model.Monitor, rules []*model.AlertRule, r *model.CheckResult) int {
	fired := 0
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}

		ok, message := e.EvaluateRule(m, rule, r)
		if !ok {
			continue
		}

		task := events.AlertTask{
			RuleID:    rule.ID,
			MonitorID: m.ID,
			Message:   message,
		}
		if err := e.tasks.Enqueue(ctx, queue.LaneAlerts, task); err != nil {
			slog.Error("Failed to enqueue alert task",
				"rule_id", rule.ID,
				"monitor_id", m.ID,
				"error", err,
			)
			continue
		}
		fired++

		slog.Info("Alert rule fired",
			"rule_id", rule.ID,
			"condition", rule.Condition,
			"monitor_id", m.ID,
		)
	}
	return fired
}

// EvaluateRule decides whether one rule fires for a probe result. It is a
// pure function of the monitor snapshot, the rule, and the result.
func (e *Evaluator) EvaluateRule(m *model.Monitor, rule *model.AlertRule, r *model.CheckResult) (bool, string) {
	switch rule.Condition {
	case model.ConditionDown:
		if !r.Success {
			reason := r.Error
			if reason == "" {
				reason = "check failed"
			}
			return true, fmt.Sprintf("Monitor %s is down: %s", m.Name, reason)
		}

	case model.ConditionSlow:
		// A SLOW rule without a threshold never fires.
		if rule.Threshold > 0 && r.LatencyMs > int64(rule.Threshold) {
			return true, fmt.Sprintf("Monitor %s is slow: %dms (threshold: %dms)", m.Name, r.LatencyMs, rule.Threshold)
		}

	case model.ConditionStatusCode:
		if r.StatusCode != 0 && m.ExpectedStatus != 0 && r.StatusCode != m.ExpectedStatus {
			return true, fmt.Sprintf("Monitor %s returned unexpected status: %d (expected: %d)", m.Name, r.StatusCode, m.ExpectedStatus)
		}

	case model.ConditionSSLExpiry:
		if r.SSLExpiresAt == nil {
			return false, ""
		}
		threshold := rule.Threshold
		if threshold <= 0 {
			threshold = model.DefaultSSLExpiryDays
		}
		days := time.Until(*r.SSLExpiresAt).Hours() / 24
		if days < float64(threshold) {
			return true, fmt.Sprintf("SSL certificate for %s expires in %d days", m.Name, int(math.Floor(days)))
		}

	case model.ConditionCustom:
		e.mu.RLock()
		p, ok := e.predicates[rule.Name]
		e.mu.RUnlock()
		if !ok {
			return false, ""
		}
		return p(m, r)

	default:
		slog.Warn("Unknown alert condition, skipping",
			"rule_id", rule.ID,
			"condition", rule.Condition,
		)
	}
	return false, ""
}
