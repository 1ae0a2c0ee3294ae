// Package store provides durable persistence for monitors, checks,
// incidents, alert rules, and delivery records. The datastore is the single
// source of truth for "is there an open incident": incident creation is a
// conditional write so concurrent writers cannot open duplicates.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/filipmarinca/api-monitor/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Repository is the storage collaborator the engine writes through.
type Repository interface {
	// GetMonitor returns the latest snapshot of a monitor.
	// Returns ErrNotFound when the monitor does not exist.
	GetMonitor(ctx context.Context, id string) (*model.Monitor, error)

	// ListEnabledMonitors returns all monitors with the enabled flag set.
	ListEnabledMonitors(ctx context.Context) ([]*model.Monitor, error)

	// SaveCheck persists a probe result and returns the new check ID.
	SaveCheck(ctx context.Context, result *model.CheckResult) (string, error)

	// ListRecentChecks returns up to limit checks for a monitor created
	// within the trailing window, newest first.
	ListRecentChecks(ctx context.Context, monitorID string, window time.Duration, limit int) ([]*model.Check, error)

	// FindOpenIncident returns the monitor's OPEN or ACKNOWLEDGED incident,
	// or (nil, nil) when there is none.
	FindOpenIncident(ctx context.Context, monitorID string) (*model.Incident, error)

	// CreateIncidentIfNoneOpen atomically inserts the incident unless the
	// monitor already has one in OPEN or ACKNOWLEDGED. Returns false when
	// the insert was skipped because an active incident exists.
	CreateIncidentIfNoneOpen(ctx context.Context, inc *model.Incident) (bool, error)

	// ResolveIncident transitions an OPEN or ACKNOWLEDGED incident to
	// RESOLVED. Returns (nil, nil) when the incident was already resolved,
	// making resolution idempotent under duplicate deliveries.
	ResolveIncident(ctx context.Context, incidentID string, at time.Time) (*model.Incident, error)

	// AcknowledgeIncident transitions an OPEN incident to ACKNOWLEDGED.
	// Returns (nil, nil) when the incident is not OPEN.
	AcknowledgeIncident(ctx context.Context, incidentID, by string, at time.Time) (*model.Incident, error)

	// GetAlertRule returns one alert rule. Returns ErrNotFound when the
	// rule does not exist.
	GetAlertRule(ctx context.Context, id string) (*model.AlertRule, error)

	// ListAlertRules returns the enabled alert rules attached to a monitor.
	ListAlertRules(ctx context.Context, monitorID string) ([]*model.AlertRule, error)

	// RecordAlertDelivery appends one delivery-attempt record.
	RecordAlertDelivery(ctx context.Context, d *model.AlertDelivery) error

	// CountActiveIncidents counts incidents in OPEN or ACKNOWLEDGED.
	CountActiveIncidents(ctx context.Context) (int, error)

	// Close releases the underlying connection.
	Close() error
}
