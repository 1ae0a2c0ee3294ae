// Package events defines the payloads exchanged over the task queue lanes
// and published to the real-time fanout.
package events

import (
	"time"

	"github.com/filipmarinca/api-monitor/internal/model"
)

// Incident task actions.
const (
	ActionCreate      = "create"
	ActionResolve     = "resolve"
	ActionAcknowledge = "acknowledge"
)

// Fanout event types. Topic-scoped per monitor plus a global topic.
const (
	EventCheckCompleted       = "check:completed"
	EventIncidentCreated      = "incident:created"
	EventIncidentResolved     = "incident:resolved"
	EventIncidentAcknowledged = "incident:acknowledged"
)

// ProbeTask asks the probe lane to run one check for a monitor from one
// region. Produced by the scheduler, one task per region per tick.
type ProbeTask struct {
	MonitorID string `json:"monitor_id"`
	Region    string `json:"region"`
}

// PartitionKey keys probe tasks by monitor so checks for one monitor land on
// one partition.
func (t ProbeTask) PartitionKey() string { return t.MonitorID }

// AlertTask carries one firing alert rule to the alert lane. The dispatcher
// reads the channel flags from the rule itself.
type AlertTask struct {
	RuleID    string `json:"rule_id"`
	MonitorID string `json:"monitor_id"`
	Message   string `json:"message"`
}

// PartitionKey keys alert tasks by monitor.
func (t AlertTask) PartitionKey() string { return t.MonitorID }

// IncidentTask asks the incident lane to apply one lifecycle transition.
// Create tasks identify the monitor; resolve and acknowledge tasks identify
// the incident and carry the monitor for partitioning.
type IncidentTask struct {
	Action         string         `json:"action"`
	IncidentID     string         `json:"incident_id,omitempty"`
	MonitorID      string         `json:"monitor_id,omitempty"`
	Title          string         `json:"title,omitempty"`
	Description    string         `json:"description,omitempty"`
	Severity       model.Severity `json:"severity,omitempty"`
	AcknowledgedBy string         `json:"acknowledged_by,omitempty"`
}

// PartitionKey keys incident transitions by monitor so transitions for one
// monitor are applied by one consumer at a time.
func (t IncidentTask) PartitionKey() string { return t.MonitorID }

// CheckCompleted is published to the monitor's fanout topic after every
// persisted check.
type CheckCompleted struct {
	Type       string    `json:"type"`
	MonitorID  string    `json:"monitor_id"`
	CheckID    string    `json:"check_id"`
	Region     string    `json:"region"`
	Success    bool      `json:"success"`
	StatusCode int       `json:"status_code,omitempty"`
	LatencyMs  int64     `json:"latency_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// IncidentEvent is published on every incident lifecycle transition, both to
// the monitor's topic and to the global topic.
type IncidentEvent struct {
	Type     string          `json:"type"`
	Incident *model.Incident `json:"incident"`
}

// NewCheckCompleted builds the fanout event for a persisted check.
func NewCheckCompleted(checkID string, r *model.CheckResult) *CheckCompleted {
	return &CheckCompleted{
		Type:       EventCheckCompleted,
		MonitorID:  r.MonitorID,
		CheckID:    checkID,
		Region:     r.Region,
		Success:    r.Success,
		StatusCode: r.StatusCode,
		LatencyMs:  r.LatencyMs,
		Timestamp:  r.RequestedAt,
	}
}
