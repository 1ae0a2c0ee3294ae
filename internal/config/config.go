// Package config provides configuration parsing and validation for the
// monitoring engine.
package config

import (
	"fmt"
	"time"
)

// Queue backend names.
const (
	QueueKafka  = "kafka"
	QueueMemory = "memory"
)

// Config holds all configuration parameters for the engine.
type Config struct {
	DatabaseURL         string
	QueueBackend        string
	KafkaBrokers        string
	ConsumerGroupID     string
	RedisAddr           string
	ProbeConcurrency    int
	AlertConcurrency    int
	IncidentConcurrency int
	SyncInterval        time.Duration
}

// Validate checks that all required configuration fields are set and have
// valid values. Returns an error if validation fails, nil otherwise.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("database-url cannot be empty")
	}
	switch c.QueueBackend {
	case QueueKafka:
		if c.KafkaBrokers == "" {
			return fmt.Errorf("kafka-brokers cannot be empty when queue-backend is kafka")
		}
		if c.ConsumerGroupID == "" {
			return fmt.Errorf("consumer-group-id cannot be empty when queue-backend is kafka")
		}
	case QueueMemory:
	default:
		return fmt.Errorf("queue-backend must be %q or %q, got %q", QueueKafka, QueueMemory, c.QueueBackend)
	}
	if c.ProbeConcurrency <= 0 {
		return fmt.Errorf("probe-concurrency must be > 0")
	}
	if c.AlertConcurrency <= 0 {
		return fmt.Errorf("alert-concurrency must be > 0")
	}
	if c.IncidentConcurrency <= 0 {
		return fmt.Errorf("incident-concurrency must be > 0")
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync-interval must be > 0")
	}
	return nil
}
