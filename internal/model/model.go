// Package model defines the core domain types shared across the engine:
// monitors, check results, incidents, alert rules, and delivery records.
package model

import "time"

// DefaultRegion is used when a monitor has no regions configured.
const DefaultRegion = "us-east"

// Monitor is an immutable-per-version snapshot of a monitored HTTP endpoint.
// The engine only reads monitors; ownership of the config lives with the
// monitor-management service.
type Monitor struct {
	ID             string
	Name           string
	URL            string
	Method         string
	Headers        map[string]string
	Body           string
	ExpectedStatus int // 0 means no status expectation
	ValidateSSL    bool
	JSONSchema     string // raw JSON schema document, empty means no schema validation
	BodyRegex      string // empty means no regex validation
	IntervalMs     int
	TimeoutMs      int
	Regions        []string
	Enabled        bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Interval returns the probe interval as a duration.
func (m *Monitor) Interval() time.Duration {
	return time.Duration(m.IntervalMs) * time.Millisecond
}

// Timeout returns the per-probe timeout as a duration.
func (m *Monitor) Timeout() time.Duration {
	return time.Duration(m.TimeoutMs) * time.Millisecond
}

// ProbeRegions returns the regions to probe from, falling back to the
// default region when none are configured.
func (m *Monitor) ProbeRegions() []string {
	if len(m.Regions) == 0 {
		return []string{DefaultRegion}
	}
	return m.Regions
}

// CheckResult is the outcome of a single probe against a monitor from one
// region. Transport failures are captured in Error, never raised.
type CheckResult struct {
	MonitorID       string
	Region          string
	RequestedAt     time.Time
	Success         bool
	StatusCode      int // 0 when no response was received
	LatencyMs       int64
	Error           string
	SSLValid        bool
	SSLExpiresAt    *time.Time // nil when TLS info was not captured
	ResponseHeaders map[string]string
	ResponseBody    string // truncated, see probe.MaxBodyCapture
}

// Latency returns the measured round trip as a duration.
func (r *CheckResult) Latency() time.Duration {
	return time.Duration(r.LatencyMs) * time.Millisecond
}

// Check is a persisted CheckResult.
type Check struct {
	CheckResult
	ID        string
	CreatedAt time.Time
}

// IncidentStatus is the lifecycle state of an incident.
type IncidentStatus string

const (
	IncidentOpen         IncidentStatus = "OPEN"
	IncidentAcknowledged IncidentStatus = "ACKNOWLEDGED"
	IncidentResolved     IncidentStatus = "RESOLVED"
)

// Severity classifies how serious an incident is.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Incident tracks a period during which a monitor is considered down.
// At most one incident per monitor may be OPEN or ACKNOWLEDGED at a time;
// the store enforces this with a conditional insert.
type Incident struct {
	ID             string
	MonitorID      string
	Status         IncidentStatus
	Severity       Severity
	Title          string
	Description    string
	StartedAt      time.Time
	AcknowledgedAt *time.Time
	AcknowledgedBy string
	ResolvedAt     *time.Time
}

// Active reports whether the incident is still open or acknowledged.
func (i *Incident) Active() bool {
	return i.Status == IncidentOpen || i.Status == IncidentAcknowledged
}

// AlertCondition selects which signal an alert rule reacts to.
type AlertCondition string

const (
	ConditionDown       AlertCondition = "DOWN"
	ConditionSlow       AlertCondition = "SLOW"
	ConditionStatusCode AlertCondition = "STATUS_CODE"
	ConditionSSLExpiry  AlertCondition = "SSL_EXPIRY"
	ConditionCustom     AlertCondition = "CUSTOM"
)

// DefaultSSLExpiryDays is the SSL_EXPIRY threshold used when a rule does
// not set one.
const DefaultSSLExpiryDays = 30

// AlertRule maps a condition on probe results to notification channels.
// Rules are owned by the rule-management service and read-only here.
type AlertRule struct {
	ID        string
	MonitorID string
	Name      string
	Enabled   bool
	Condition AlertCondition
	// Threshold is milliseconds for SLOW and days for SSL_EXPIRY.
	// 0 means unset: SLOW never fires, SSL_EXPIRY falls back to
	// DefaultSSLExpiryDays.
	Threshold        int
	ConsecutiveFails int

	Email        bool
	EmailAddress string
	Webhook      bool
	WebhookURL   string
	SMS          bool
	SMSNumber    string
}

// Channel identifies a notification delivery channel.
type Channel string

const (
	ChannelEmail   Channel = "EMAIL"
	ChannelWebhook Channel = "WEBHOOK"
	ChannelSMS     Channel = "SMS"
)

// DeliveryStatus is the outcome of one notification delivery attempt.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "PENDING"
	DeliverySent      DeliveryStatus = "SENT"
	DeliveryDelivered DeliveryStatus = "DELIVERED"
	DeliveryFailed    DeliveryStatus = "FAILED"
)

// AlertDelivery is an append-only record of one channel delivery attempt.
type AlertDelivery struct {
	ID         string
	IncidentID string
	Channel    Channel
	Recipient  string
	Status     DeliveryStatus
	Error      string
	SentAt     *time.Time
	CreatedAt  time.Time
}
