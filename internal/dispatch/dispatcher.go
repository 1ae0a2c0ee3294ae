// Package dispatch fans a firing alert rule out to its enabled notification
// channels. Channels settle independently: one AlertDelivery record is
// written per attempt, and a failing channel never blocks or rolls back the
// others. Sender errors are recorded and logged, not re-raised.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/filipmarinca/api-monitor/internal/metrics"
	"github.com/filipmarinca/api-monitor/internal/model"
	"github.com/filipmarinca/api-monitor/internal/sender/email"
	"github.com/filipmarinca/api-monitor/internal/sender/webhook"
	"github.com/filipmarinca/api-monitor/internal/store"
)

// EmailSender delivers one email notification.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, textBody, htmlBody string) error
}

// WebhookSender delivers one webhook notification.
type WebhookSender interface {
	SendWebhook(ctx context.Context, url string, payload any) error
}

// SMSSender delivers one SMS notification.
type SMSSender interface {
	SendSMS(ctx context.Context, to, message string) error
}

// Senders bundles the channel transports the dispatcher fans out to.
type Senders struct {
	Email   EmailSender
	Webhook WebhookSender
	SMS     SMSSender
}

// Outcome is the settled result of one channel attempt.
type Outcome struct {
	Channel   model.Channel
	Recipient string
	Err       error
}

// Dispatcher sends notifications and records delivery outcomes.
type Dispatcher struct {
	repo    store.Repository
	senders Senders
	metrics metrics.Recorder
	now     func() time.Time
}

// NewDispatcher creates a dispatcher. A nil recorder disables metrics.
func NewDispatcher(repo store.Repository, senders Senders, rec metrics.Recorder) *Dispatcher {
	if rec == nil {
		rec = metrics.NoOp{}
	}
	return &Dispatcher{
		repo:    repo,
		senders: senders,
		metrics: rec,
		now:     time.Now,
	}
}

// Dispatch sends the message over every channel the rule enables and returns
// the settled outcome per channel. Each attempt writes exactly one
// AlertDelivery record regardless of how the other channels fare.
func (d *Dispatcher) Dispatch(ctx context.Context, rule *model.AlertRule, mon *model.Monitor, incidentID, message string) []Outcome {
	type attempt struct {
		channel   model.Channel
		recipient string
		send      func(context.Context) error
	}

	var attempts []attempt

	if rule.Email && rule.EmailAddress != "" {
		to := rule.EmailAddress
		attempts = append(attempts, attempt{
			channel:   model.ChannelEmail,
			recipient: to,
			send: func(ctx context.Context) error {
				subject := fmt.Sprintf("Alert: %s", mon.Name)
				html := email.BuildAlertHTML(mon.Name, message, d.now().UTC())
				return d.senders.Email.SendEmail(ctx, to, subject, message, html)
			},
		})
	}

	if rule.Webhook && rule.WebhookURL != "" {
		url := rule.WebhookURL
		attempts = append(attempts, attempt{
			channel:   model.ChannelWebhook,
			recipient: url,
			send: func(ctx context.Context) error {
				payload := webhook.BuildPayload(url, mon.ID, mon.Name, mon.URL, message, d.now().UTC())
				return d.senders.Webhook.SendWebhook(ctx, url, payload)
			},
		})
	}

	if rule.SMS && rule.SMSNumber != "" {
		to := rule.SMSNumber
		attempts = append(attempts, attempt{
			channel:   model.ChannelSMS,
			recipient: to,
			send: func(ctx context.Context) error {
				return d.senders.SMS.SendSMS(ctx, to, fmt.Sprintf("Alert: %s - %s", mon.Name, message))
			},
		})
	}

	if len(attempts) == 0 {
		slog.Warn("Firing rule has no enabled channels",
			"rule_id", rule.ID,
			"monitor_id", mon.ID,
		)
		return nil
	}

	outcomes := make([]Outcome, len(attempts))
	var wg sync.WaitGroup
	for i, a := range attempts {
		wg.Add(1)
		go func(i int, a attempt) {
			defer wg.Done()
			err := a.send(ctx)
			outcomes[i] = Outcome{Channel: a.channel, Recipient: a.recipient, Err: err}
			d.record(ctx, incidentID, a.channel, a.recipient, err)
		}(i, a)
	}
	wg.Wait()

	return outcomes
}

// record writes the append-only delivery record for one channel attempt.
func (d *Dispatcher) record(ctx context.Context, incidentID string, channel model.Channel, recipient string, sendErr error) {
	delivery := &model.AlertDelivery{
		ID:         uuid.NewString(),
		IncidentID: incidentID,
		Channel:    channel,
		Recipient:  recipient,
	}

	if sendErr != nil {
		delivery.Status = model.DeliveryFailed
		delivery.Error = sendErr.Error()
		slog.Error("Notification delivery failed",
			"channel", channel,
			"recipient", recipient,
			"incident_id", incidentID,
			"error", sendErr,
		)
	} else {
		now := d.now().UTC()
		delivery.Status = model.DeliverySent
		delivery.SentAt = &now
		slog.Info("Notification delivered",
			"channel", channel,
			"recipient", recipient,
			"incident_id", incidentID,
		)
	}

	d.metrics.RecordDelivery(string(channel), sendErr == nil)

	if err := d.repo.RecordAlertDelivery(ctx, delivery); err != nil {
		slog.Error("Failed to record alert delivery",
			"channel", channel,
			"incident_id", incidentID,
			"error", err,
		)
	}
}
