// Package fanout publishes real-time engine events to per-monitor topics and
// a global topic. Delivery is fire-and-forget: subscribers that miss an
// event catch up from the datastore.
package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// TopicGlobal receives every incident lifecycle event in addition to the
// per-monitor topic.
const TopicGlobal = "global"

// MonitorTopic returns the topic scoped to one monitor.
func MonitorTopic(monitorID string) string {
	return "monitor:" + monitorID
}

// Publisher is the real-time fanout collaborator.
type Publisher interface {
	// Publish sends event to topic. No delivery guarantee.
	Publish(ctx context.Context, topic string, event any) error

	// Close releases publisher resources.
	Close() error
}

// Redis publishes events over Redis pub/sub channels, one channel per topic.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis creates a Redis-backed publisher. All channels are prefixed so
// multiple environments can share one Redis.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "events:"
	}
	return &Redis{client: client, prefix: prefix}
}

// Publish serializes event as JSON and publishes it to the topic's channel.
func (r *Redis) Publish(ctx context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal fanout event: %w", err)
	}
	if err := r.client.Publish(ctx, r.prefix+topic, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Close is a no-op; the Redis client is shared and closed by its owner.
func (r *Redis) Close() error {
	return nil
}

// Nop discards every event. Used in tests and when no Redis is configured.
type Nop struct{}

// Publish discards the event.
func (Nop) Publish(ctx context.Context, topic string, event any) error {
	slog.Debug("Discarding fanout event", "topic", topic)
	return nil
}

// Close is a no-op.
func (Nop) Close() error { return nil }
