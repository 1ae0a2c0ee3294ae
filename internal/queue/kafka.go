package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/filipmarinca/api-monitor/internal/retry"
)

// Kafka reader/writer tuning shared by all lanes.
const (
	maxPollWait    = 500 * time.Millisecond
	commitInterval = 0 // synchronous commits, at-least-once
	writeTimeout   = 10 * time.Second
)

// Kafka is a TaskQueue backed by one Kafka topic per lane. Consumers join a
// shared consumer group so multiple engine instances can split partitions.
type Kafka struct {
	brokers  []string
	groupID  string
	retryCfg retry.Config

	mu      sync.Mutex
	writers map[string]*kafka.Writer
	readers []*kafka.Reader
}

// NewKafka creates a Kafka-backed task queue. brokers is a comma-separated
// broker list.
func NewKafka(brokers, groupID string) (*Kafka, error) {
	if brokers == "" {
		return nil, fmt.Errorf("brokers cannot be empty")
	}
	if groupID == "" {
		return nil, fmt.Errorf("groupID cannot be empty")
	}

	brokerList := strings.Split(brokers, ",")
	for i := range brokerList {
		brokerList[i] = strings.TrimSpace(brokerList[i])
	}

	slog.Info("Initializing Kafka task queue",
		"brokers", brokerList,
		"group_id", groupID,
	)

	return &Kafka{
		brokers:  brokerList,
		groupID:  groupID,
		retryCfg: retry.DefaultConfig(),
		writers:  make(map[string]*kafka.Writer),
	}, nil
}

func (k *Kafka) writer(lane string) *kafka.Writer {
	k.mu.Lock()
	defer k.mu.Unlock()
	w, ok := k.writers[lane]
	if !ok {
		w = &kafka.Writer{
			Addr:         kafka.TCP(k.brokers...),
			Topic:        lane,
			Balancer:     &kafka.Hash{}, // key-based partitioning
			WriteTimeout: writeTimeout,
			RequiredAcks: kafka.RequireOne,
			Async:        false, // synchronous writes for error handling
		}
		k.writers[lane] = w
	}
	return w
}

// Enqueue serializes payload as JSON and writes it to the lane's topic.
func (k *Kafka) Enqueue(ctx context.Context, lane string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal task payload: %w", err)
	}

	msg := kafka.Message{
		Value: data,
		Time:  time.Now(),
	}
	if keyed, ok := payload.(interface{ PartitionKey() string }); ok {
		msg.Key = []byte(keyed.PartitionKey())
	}

	if err := k.writer(lane).WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write task to lane %s: %w", lane, err)
	}
	return nil
}

// Consume starts concurrency readers on the lane's topic, all in the shared
// consumer group, and drains it until ctx is cancelled.
func (k *Kafka) Consume(ctx context.Context, lane string, concurrency int, h Handler) error {
	if concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", concurrency)
	}

	for i := 0; i < concurrency; i++ {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:        k.brokers,
			Topic:          lane,
			GroupID:        k.groupID,
			MinBytes:       1,
			MaxBytes:       10e6,
			MaxWait:        maxPollWait,
			CommitInterval: commitInterval,
			StartOffset:    kafka.FirstOffset,
		})

		k.mu.Lock()
		k.readers = append(k.readers, reader)
		k.mu.Unlock()

		go k.work(ctx, lane, reader, h)
	}

	slog.Info("Kafka lane consumers started",
		"lane", lane,
		"concurrency", concurrency,
		"group_id", k.groupID,
	)
	return nil
}

func (k *Kafka) work(ctx context.Context, lane string, reader *kafka.Reader, h Handler) {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("Failed to fetch task", "lane", lane, "error", err)
			continue
		}

		k.process(ctx, lane, msg.Value, h)

		// Commit only after the task was handled (or re-enqueued): if we
		// crash before this point the message is redelivered.
		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			slog.Error("Failed to commit offset", "lane", lane, "error", err)
		}
	}
}

// process runs the handler with in-place retries. A task that keeps failing
// with a transient error is appended back to the lane tail so the offset can
// advance without losing the task.
func (k *Kafka) process(ctx context.Context, lane string, payload []byte, h Handler) {
	err := retry.WithRetry(ctx, k.retryCfg, "consume "+lane, func() error {
		return h(ctx, payload)
	})
	if err == nil || ctx.Err() != nil {
		return
	}

	if !retry.IsRetryable(err) {
		slog.Error("Task failed permanently", "lane", lane, "error", err)
		return
	}

	slog.Warn("Task failed after retries, re-enqueueing", "lane", lane, "error", err)
	if enqErr := k.enqueueRaw(ctx, lane, payload); enqErr != nil {
		slog.Error("Failed to re-enqueue task", "lane", lane, "error", enqErr)
	}
}

func (k *Kafka) enqueueRaw(ctx context.Context, lane string, payload []byte) error {
	return k.writer(lane).WriteMessages(ctx, kafka.Message{
		Value: payload,
		Time:  time.Now(),
	})
}

// Close closes all writers and readers.
func (k *Kafka) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	var firstErr error
	for lane, w := range k.writers {
		if err := w.Close(); err != nil {
			slog.Error("Error closing Kafka writer", "lane", lane, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	for _, r := range k.readers {
		if err := r.Close(); err != nil {
			slog.Error("Error closing Kafka reader", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
