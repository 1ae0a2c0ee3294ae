// Package metrics collects probe, incident, and delivery metrics and reports
// them to Redis for centralized access. Writes are best-effort; a metrics
// outage never affects the engine.
package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// metricsKey is the Redis key the engine's metrics are written under.
	metricsKey = "metrics:engine"
	// metricsTTL is how long metrics stay in Redis if not refreshed.
	metricsTTL = 2 * time.Minute
	// defaultReportInterval is the default interval for writing to Redis.
	defaultReportInterval = 30 * time.Second
)

// latencyBuckets are upper bounds in milliseconds for probe latency counts.
var latencyBuckets = []int64{50, 100, 200, 500, 1000, 2000, 5000, 10000}

// Recorder is the write-only metrics sink the engine components report to.
type Recorder interface {
	// RecordCheck counts one probe outcome and observes its latency.
	RecordCheck(monitorID, region string, success bool, latency time.Duration)

	// RecordDelivery counts one notification delivery attempt per channel.
	RecordDelivery(channel string, ok bool)

	// SetActiveMonitors sets the scheduled-monitor gauge.
	SetActiveMonitors(n int)

	// SetActiveIncidents sets the open-incident gauge.
	SetActiveIncidents(n int)
}

// Snapshot is the JSON document written to Redis.
type Snapshot struct {
	StartedAt   time.Time `json:"started_at"`
	LastUpdated time.Time `json:"last_updated"`

	ChecksTotal    uint64 `json:"checks_total"`
	ChecksFailed   uint64 `json:"checks_failed"`
	ChecksByRegion map[string]uint64 `json:"checks_by_region,omitempty"`

	// LatencyBucketsMs maps each bucket upper bound to the count of probes
	// at or under it, plus an "inf" overflow bucket.
	LatencyBucketsMs map[string]uint64 `json:"latency_buckets_ms"`

	DeliveriesSent   uint64 `json:"deliveries_sent"`
	DeliveriesFailed uint64 `json:"deliveries_failed"`

	ActiveMonitors  int64 `json:"active_monitors"`
	ActiveIncidents int64 `json:"active_incidents"`
}

// Collector accumulates counters in memory and periodically reports them to
// Redis.
type Collector struct {
	redis          *redis.Client
	startedAt      time.Time
	reportInterval time.Duration

	checksTotal      atomic.Uint64
	checksFailed     atomic.Uint64
	deliveriesSent   atomic.Uint64
	deliveriesFailed atomic.Uint64
	activeMonitors   atomic.Int64
	activeIncidents  atomic.Int64

	buckets  []atomic.Uint64 // len(latencyBuckets)+1, last is overflow
	regionMu sync.Mutex
	byRegion map[string]uint64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCollector creates a metrics collector reporting to the given Redis
// client.
func NewCollector(client *redis.Client) *Collector {
	return &Collector{
		redis:          client,
		startedAt:      time.Now().UTC(),
		reportInterval: defaultReportInterval,
		buckets:        make([]atomic.Uint64, len(latencyBuckets)+1),
		byRegion:       make(map[string]uint64),
		stopCh:         make(chan struct{}),
	}
}

// SetReportInterval sets the interval for writing metrics to Redis.
func (c *Collector) SetReportInterval(interval time.Duration) {
	c.reportInterval = interval
}

// Start begins the periodic metrics reporting.
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.reportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				c.write(context.Background()) // final write
				return
			case <-c.stopCh:
				c.write(context.Background())
				return
			case <-ticker.C:
				c.write(ctx)
			}
		}
	}()
}

// Stop stops the reporting loop.
func (c *Collector) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

// RecordCheck counts one probe outcome and observes its latency.
func (c *Collector) RecordCheck(monitorID, region string, success bool, latency time.Duration) {
	c.checksTotal.Add(1)
	if !success {
		c.checksFailed.Add(1)
	}

	ms := latency.Milliseconds()
	idx := len(latencyBuckets)
	for i, bound := range latencyBuckets {
		if ms <= bound {
			idx = i
			break
		}
	}
	c.buckets[idx].Add(1)

	c.regionMu.Lock()
	c.byRegion[region]++
	c.regionMu.Unlock()
}

// RecordDelivery counts one notification delivery attempt.
func (c *Collector) RecordDelivery(channel string, ok bool) {
	if ok {
		c.deliveriesSent.Add(1)
	} else {
		c.deliveriesFailed.Add(1)
	}
}

// SetActiveMonitors sets the scheduled-monitor gauge.
func (c *Collector) SetActiveMonitors(n int) {
	c.activeMonitors.Store(int64(n))
}

// SetActiveIncidents sets the open-incident gauge.
func (c *Collector) SetActiveIncidents(n int) {
	c.activeIncidents.Store(int64(n))
}

// GetSnapshot returns current metrics without writing to Redis.
func (c *Collector) GetSnapshot() *Snapshot {
	buckets := make(map[string]uint64, len(latencyBuckets)+1)
	for i, bound := range latencyBuckets {
		buckets[formatBound(bound)] = c.buckets[i].Load()
	}
	buckets["inf"] = c.buckets[len(latencyBuckets)].Load()

	c.regionMu.Lock()
	byRegion := make(map[string]uint64, len(c.byRegion))
	for region, n := range c.byRegion {
		byRegion[region] = n
	}
	c.regionMu.Unlock()

	return &Snapshot{
		StartedAt:        c.startedAt,
		LastUpdated:      time.Now().UTC(),
		ChecksTotal:      c.checksTotal.Load(),
		ChecksFailed:     c.checksFailed.Load(),
		ChecksByRegion:   byRegion,
		LatencyBucketsMs: buckets,
		DeliveriesSent:   c.deliveriesSent.Load(),
		DeliveriesFailed: c.deliveriesFailed.Load(),
		ActiveMonitors:   c.activeMonitors.Load(),
		ActiveIncidents:  c.activeIncidents.Load(),
	}
}

func formatBound(bound int64) string {
	return "le_" + strconv.FormatInt(bound, 10)
}

func (c *Collector) write(ctx context.Context) {
	if c.redis == nil {
		return
	}

	data, err := json.Marshal(c.GetSnapshot())
	if err != nil {
		slog.Error("Failed to marshal metrics", "error", err)
		return
	}

	if err := c.redis.Set(ctx, metricsKey, data, metricsTTL).Err(); err != nil {
		slog.Error("Failed to write metrics to Redis", "error", err)
		return
	}

	slog.Debug("Metrics written to Redis", "key", metricsKey)
}

// NoOp discards all metrics. Used in tests.
type NoOp struct{}

// RecordCheck discards the observation.
func (NoOp) RecordCheck(monitorID, region string, success bool, latency time.Duration) {}

// RecordDelivery discards the observation.
func (NoOp) RecordDelivery(channel string, ok bool) {}

// SetActiveMonitors discards the gauge value.
func (NoOp) SetActiveMonitors(n int) {}

// SetActiveIncidents discards the gauge value.
func (NoOp) SetActiveIncidents(n int) {}
