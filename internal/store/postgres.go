package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/filipmarinca/api-monitor/internal/model"
)

// uniqueViolation is the Postgres error code raised by the partial unique
// index on active incidents when two writers race the conditional insert.
const uniqueViolation = "23505"

// DB is a Postgres-backed Repository.
type DB struct {
	conn *sql.DB
}

// NewDB opens a Postgres connection using the provided DSN and verifies it
// with a ping.
func NewDB(dsn string) (*DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("Successfully connected to PostgreSQL database")

	return &DB{conn: conn}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.conn != nil {
		slog.Info("Closing database connection")
		return db.conn.Close()
	}
	return nil
}

// marshalJSONB serializes a string map for JSONB storage. Nil or empty maps
// become NULL.
func marshalJSONB(m map[string]string) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal map: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalJSONB(s sql.NullString) map[string]string {
	if !s.Valid || s.String == "" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		slog.Warn("Failed to unmarshal JSONB column", "error", err)
		return nil
	}
	return m
}

const monitorColumns = `monitor_id, name, url, method, headers, body, expected_status,
	validate_ssl, json_schema, body_regex, interval_ms, timeout_ms, regions, enabled,
	created_at, updated_at`

func scanMonitor(row interface{ Scan(...any) error }) (*model.Monitor, error) {
	var (
		m              model.Monitor
		headers        sql.NullString
		body           sql.NullString
		expectedStatus sql.NullInt64
		jsonSchema     sql.NullString
		bodyRegex      sql.NullString
	)
	err := row.Scan(
		&m.ID,
		&m.Name,
		&m.URL,
		&m.Method,
		&headers,
		&body,
		&expectedStatus,
		&m.ValidateSSL,
		&jsonSchema,
		&bodyRegex,
		&m.IntervalMs,
		&m.TimeoutMs,
		pq.Array(&m.Regions),
		&m.Enabled,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Headers = unmarshalJSONB(headers)
	m.Body = body.String
	m.ExpectedStatus = int(expectedStatus.Int64)
	m.JSONSchema = jsonSchema.String
	m.BodyRegex = bodyRegex.String
	return &m, nil
}

// GetMonitor returns the latest snapshot of a monitor.
func (db *DB) GetMonitor(ctx context.Context, id string) (*model.Monitor, error) {
	query := `SELECT ` + monitorColumns + ` FROM monitors WHERE monitor_id = $1`
	m, err := scanMonitor(db.conn.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("monitor %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get monitor: %w", err)
	}
	return m, nil
}

// ListEnabledMonitors returns all enabled monitors.
func (db *DB) ListEnabledMonitors(ctx context.Context) ([]*model.Monitor, error) {
	query := `SELECT ` + monitorColumns + ` FROM monitors WHERE enabled ORDER BY created_at`
	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled monitors: %w", err)
	}
	defer rows.Close()

	var monitors []*model.Monitor
	for rows.Next() {
		m, err := scanMonitor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan monitor row: %w", err)
		}
		monitors = append(monitors, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate monitor rows: %w", err)
	}
	return monitors, nil
}

// SaveCheck persists a probe result and returns the new check ID.
func (db *DB) SaveCheck(ctx context.Context, result *model.CheckResult) (string, error) {
	headers, err := marshalJSONB(result.ResponseHeaders)
	if err != nil {
		return "", err
	}

	var statusCode sql.NullInt64
	if result.StatusCode != 0 {
		statusCode = sql.NullInt64{Int64: int64(result.StatusCode), Valid: true}
	}
	var probeErr sql.NullString
	if result.Error != "" {
		probeErr = sql.NullString{String: result.Error, Valid: true}
	}
	var sslExpiresAt sql.NullTime
	if result.SSLExpiresAt != nil {
		sslExpiresAt = sql.NullTime{Time: *result.SSLExpiresAt, Valid: true}
	}
	var responseBody sql.NullString
	if result.ResponseBody != "" {
		responseBody = sql.NullString{String: result.ResponseBody, Valid: true}
	}

	query := `
		INSERT INTO checks (monitor_id, region, requested_at, success, status_code,
			latency_ms, error, ssl_valid, ssl_expires_at, response_headers, response_body)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING check_id
	`
	var checkID string
	err = db.conn.QueryRowContext(ctx, query,
		result.MonitorID,
		result.Region,
		result.RequestedAt,
		result.Success,
		statusCode,
		result.LatencyMs,
		probeErr,
		result.SSLValid,
		sslExpiresAt,
		headers,
		responseBody,
	).Scan(&checkID)
	if err != nil {
		return "", fmt.Errorf("failed to save check: %w", err)
	}
	return checkID, nil
}

// ListRecentChecks returns up to limit checks for a monitor created within
// the trailing window, newest first.
func (db *DB) ListRecentChecks(ctx context.Context, monitorID string, window time.Duration, limit int) ([]*model.Check, error) {
	query := `
		SELECT check_id, monitor_id, region, requested_at, success, status_code,
			latency_ms, error, ssl_valid, ssl_expires_at, created_at
		FROM checks
		WHERE monitor_id = $1 AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT $3
	`
	cutoff := time.Now().Add(-window)
	rows, err := db.conn.QueryContext(ctx, query, monitorID, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent checks: %w", err)
	}
	defer rows.Close()

	var checks []*model.Check
	for rows.Next() {
		var (
			c            model.Check
			statusCode   sql.NullInt64
			probeErr     sql.NullString
			sslExpiresAt sql.NullTime
		)
		err := rows.Scan(
			&c.ID,
			&c.MonitorID,
			&c.Region,
			&c.RequestedAt,
			&c.Success,
			&statusCode,
			&c.LatencyMs,
			&probeErr,
			&c.SSLValid,
			&sslExpiresAt,
			&c.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan check row: %w", err)
		}
		c.StatusCode = int(statusCode.Int64)
		c.Error = probeErr.String
		if sslExpiresAt.Valid {
			t := sslExpiresAt.Time
			c.SSLExpiresAt = &t
		}
		checks = append(checks, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate check rows: %w", err)
	}
	return checks, nil
}

const incidentColumns = `incident_id, monitor_id, status, severity, title, description,
	started_at, acknowledged_at, acknowledged_by, resolved_at`

func scanIncident(row interface{ Scan(...any) error }) (*model.Incident, error) {
	var (
		inc            model.Incident
		description    sql.NullString
		acknowledgedAt sql.NullTime
		acknowledgedBy sql.NullString
		resolvedAt     sql.NullTime
	)
	err := row.Scan(
		&inc.ID,
		&inc.MonitorID,
		&inc.Status,
		&inc.Severity,
		&inc.Title,
		&description,
		&inc.StartedAt,
		&acknowledgedAt,
		&acknowledgedBy,
		&resolvedAt,
	)
	if err != nil {
		return nil, err
	}
	inc.Description = description.String
	inc.AcknowledgedBy = acknowledgedBy.String
	if acknowledgedAt.Valid {
		t := acknowledgedAt.Time
		inc.AcknowledgedAt = &t
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		inc.ResolvedAt = &t
	}
	return &inc, nil
}

// FindOpenIncident returns the monitor's OPEN or ACKNOWLEDGED incident, or
// (nil, nil) when there is none.
func (db *DB) FindOpenIncident(ctx context.Context, monitorID string) (*model.Incident, error) {
	query := `
		SELECT ` + incidentColumns + `
		FROM incidents
		WHERE monitor_id = $1 AND status IN ('OPEN', 'ACKNOWLEDGED')
		ORDER BY started_at DESC
		LIMIT 1
	`
	inc, err := scanIncident(db.conn.QueryRowContext(ctx, query, monitorID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find open incident: %w", err)
	}
	return inc, nil
}

// CreateIncidentIfNoneOpen atomically inserts the incident unless the
// monitor already has an active one. The WHERE NOT EXISTS guard plus the
// partial unique index on (monitor_id) for active incidents make the
// existence check and the insert a single serialized decision: the losing
// writer of a race sees either zero rows inserted or a unique violation, and
// both are reported as created=false.
func (db *DB) CreateIncidentIfNoneOpen(ctx context.Context, inc *model.Incident) (bool, error) {
	var description sql.NullString
	if inc.Description != "" {
		description = sql.NullString{String: inc.Description, Valid: true}
	}

	query := `
		INSERT INTO incidents (incident_id, monitor_id, status, severity, title, description, started_at)
		SELECT $1, $2, 'OPEN', $3, $4, $5, $6
		WHERE NOT EXISTS (
			SELECT 1 FROM incidents
			WHERE monitor_id = $2 AND status IN ('OPEN', 'ACKNOWLEDGED')
		)
	`
	res, err := db.conn.ExecContext(ctx, query,
		inc.ID,
		inc.MonitorID,
		inc.Severity,
		inc.Title,
		description,
		inc.StartedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
			return false, nil
		}
		return false, fmt.Errorf("failed to create incident: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return rows == 1, nil
}

// ResolveIncident transitions an OPEN or ACKNOWLEDGED incident to RESOLVED.
// Returns (nil, nil) when the incident was already resolved.
func (db *DB) ResolveIncident(ctx context.Context, incidentID string, at time.Time) (*model.Incident, error) {
	query := `
		UPDATE incidents
		SET status = 'RESOLVED', resolved_at = $2
		WHERE incident_id = $1 AND status IN ('OPEN', 'ACKNOWLEDGED')
		RETURNING ` + incidentColumns
	inc, err := scanIncident(db.conn.QueryRowContext(ctx, query, incidentID, at))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve incident: %w", err)
	}
	return inc, nil
}

// AcknowledgeIncident transitions an OPEN incident to ACKNOWLEDGED.
// Returns (nil, nil) when the incident is not OPEN.
func (db *DB) AcknowledgeIncident(ctx context.Context, incidentID, by string, at time.Time) (*model.Incident, error) {
	query := `
		UPDATE incidents
		SET status = 'ACKNOWLEDGED', acknowledged_at = $2, acknowledged_by = $3
		WHERE incident_id = $1 AND status = 'OPEN'
		RETURNING ` + incidentColumns
	inc, err := scanIncident(db.conn.QueryRowContext(ctx, query, incidentID, at, by))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to acknowledge incident: %w", err)
	}
	return inc, nil
}

const alertRuleColumns = `rule_id, monitor_id, name, enabled, condition, threshold,
	consecutive_fails, email, email_address, webhook, webhook_url, sms, sms_number`

func scanAlertRule(row interface{ Scan(...any) error }) (*model.AlertRule, error) {
	var (
		r            model.AlertRule
		threshold    sql.NullInt64
		emailAddress sql.NullString
		webhookURL   sql.NullString
		smsNumber    sql.NullString
	)
	err := row.Scan(
		&r.ID,
		&r.MonitorID,
		&r.Name,
		&r.Enabled,
		&r.Condition,
		&threshold,
		&r.ConsecutiveFails,
		&r.Email,
		&emailAddress,
		&r.Webhook,
		&webhookURL,
		&r.SMS,
		&smsNumber,
	)
	if err != nil {
		return nil, err
	}
	r.Threshold = int(threshold.Int64)
	r.EmailAddress = emailAddress.String
	r.WebhookURL = webhookURL.String
	r.SMSNumber = smsNumber.String
	return &r, nil
}

// GetAlertRule returns one alert rule.
func (db *DB) GetAlertRule(ctx context.Context, id string) (*model.AlertRule, error) {
	query := `SELECT ` + alertRuleColumns + ` FROM alert_rules WHERE rule_id = $1`
	r, err := scanAlertRule(db.conn.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("alert rule %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert rule: %w", err)
	}
	return r, nil
}

// ListAlertRules returns the enabled alert rules attached to a monitor.
func (db *DB) ListAlertRules(ctx context.Context, monitorID string) ([]*model.AlertRule, error) {
	query := `SELECT ` + alertRuleColumns + ` FROM alert_rules WHERE monitor_id = $1 AND enabled`
	rows, err := db.conn.QueryContext(ctx, query, monitorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert rules: %w", err)
	}
	defer rows.Close()

	var rules []*model.AlertRule
	for rows.Next() {
		r, err := scanAlertRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert rule row: %w", err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alert rule rows: %w", err)
	}
	return rules, nil
}

// RecordAlertDelivery appends one delivery-attempt record.
func (db *DB) RecordAlertDelivery(ctx context.Context, d *model.AlertDelivery) error {
	var deliveryErr sql.NullString
	if d.Error != "" {
		deliveryErr = sql.NullString{String: d.Error, Valid: true}
	}
	var sentAt sql.NullTime
	if d.SentAt != nil {
		sentAt = sql.NullTime{Time: *d.SentAt, Valid: true}
	}

	query := `
		INSERT INTO alert_deliveries (delivery_id, incident_id, channel, recipient, status, error, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := db.conn.ExecContext(ctx, query,
		d.ID,
		d.IncidentID,
		d.Channel,
		d.Recipient,
		d.Status,
		deliveryErr,
		sentAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record alert delivery: %w", err)
	}
	return nil
}

// CountActiveIncidents counts incidents in OPEN or ACKNOWLEDGED.
func (db *DB) CountActiveIncidents(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM incidents WHERE status IN ('OPEN', 'ACKNOWLEDGED')`
	if err := db.conn.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count active incidents: %w", err)
	}
	return count, nil
}
