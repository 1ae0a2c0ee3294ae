// Package queue provides the at-least-once task queue the engine components
// hand work to each other through. Lanes are independent: each has its own
// backlog and its own concurrency bound.
package queue

import "context"

// Lane names. One Kafka topic (or one in-memory channel) per lane.
const (
	LaneProbes    = "probe.tasks"
	LaneAlerts    = "alert.tasks"
	LaneIncidents = "incident.tasks"
)

// Default per-lane concurrency bounds.
const (
	DefaultProbeConcurrency    = 10
	DefaultAlertConcurrency    = 5
	DefaultIncidentConcurrency = 5
)

// Handler processes one task payload. Returning an error signals the queue
// to retry the delivery with backoff; returning nil acknowledges it.
type Handler func(ctx context.Context, payload []byte) error

// TaskQueue is the abstract at-least-once queue between engine stages.
// Implementations must tolerate duplicate deliveries; downstream effects
// are idempotent.
type TaskQueue interface {
	// Enqueue serializes payload as JSON and appends it to the lane.
	Enqueue(ctx context.Context, lane string, payload any) error

	// Consume runs concurrency workers draining the lane until ctx is
	// cancelled. Failed handler invocations are retried with backoff and
	// re-delivered, never silently dropped.
	Consume(ctx context.Context, lane string, concurrency int, h Handler) error

	// Close releases queue resources.
	Close() error
}
