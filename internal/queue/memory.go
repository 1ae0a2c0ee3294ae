package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/filipmarinca/api-monitor/internal/retry"
)

const defaultMemoryBacklog = 1024

// Memory is a channel-backed TaskQueue for single-process deployments and
// tests. Delivery is at-least-once: a payload whose handler keeps failing is
// re-appended to the lane tail instead of being dropped.
type Memory struct {
	mu       sync.Mutex
	lanes    map[string]chan []byte
	backlog  int
	retryCfg retry.Config
	closed   bool
}

// NewMemory creates an in-memory task queue.
func NewMemory() *Memory {
	return &Memory{
		lanes:    make(map[string]chan []byte),
		backlog:  defaultMemoryBacklog,
		retryCfg: retry.DefaultConfig(),
	}
}

func (m *Memory) lane(name string) chan []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.lanes[name]
	if !ok {
		ch = make(chan []byte, m.backlog)
		m.lanes[name] = ch
	}
	return ch
}

// Enqueue serializes payload as JSON and appends it to the lane.
func (m *Memory) Enqueue(ctx context.Context, lane string, payload any) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("queue is closed")
	}
	m.mu.Unlock()

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal task payload: %w", err)
	}

	select {
	case m.lane(lane) <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("lane %s backlog full", lane)
	}
}

// Consume runs concurrency workers draining the lane until ctx is cancelled.
func (m *Memory) Consume(ctx context.Context, lane string, concurrency int, h Handler) error {
	if concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", concurrency)
	}

	ch := m.lane(lane)
	for i := 0; i < concurrency; i++ {
		go m.work(ctx, lane, ch, h)
	}
	return nil
}

func (m *Memory) work(ctx context.Context, lane string, ch chan []byte, h Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-ch:
			m.process(ctx, lane, ch, payload, h)
		}
	}
}

// process runs the handler with in-place retries. If the payload still fails
// after the retry budget it goes back to the lane tail so it is delivered
// again later rather than lost.
func (m *Memory) process(ctx context.Context, lane string, ch chan []byte, payload []byte, h Handler) {
	err := retry.WithRetry(ctx, m.retryCfg, "consume "+lane, func() error {
		return h(ctx, payload)
	})
	if err == nil || ctx.Err() != nil {
		return
	}

	if !retry.IsRetryable(err) {
		// Permanent failure: redelivery cannot help, record and drop.
		slog.Error("Task failed permanently",
			"lane", lane,
			"error", err,
		)
		return
	}

	slog.Warn("Task failed after retries, re-enqueueing",
		"lane", lane,
		"error", err,
	)
	select {
	case ch <- payload:
	case <-ctx.Done():
	case <-time.After(time.Second):
		slog.Error("Lane backlog full, task dropped",
			"lane", lane,
			"error", err,
		)
	}
}

// Close marks the queue closed for further enqueues. Workers stop when the
// context passed to Consume is cancelled.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Len reports the current backlog of a lane. Intended for tests.
func (m *Memory) Len(lane string) int {
	return len(m.lane(lane))
}
