// Package schedule runs the recurring probe loop. Each enabled monitor owns
// one cron entry firing at its configured interval; every tick fans one
// ProbeTask per region out onto the probe lane.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/filipmarinca/api-monitor/internal/events"
	"github.com/filipmarinca/api-monitor/internal/metrics"
	"github.com/filipmarinca/api-monitor/internal/model"
	"github.com/filipmarinca/api-monitor/internal/queue"
)

const enqueueTimeout = 5 * time.Second

// Scheduler maps monitors onto cron entries and enqueues probe tasks on
// every tick.
type Scheduler struct {
	cron    *cron.Cron
	tasks   queue.TaskQueue
	metrics metrics.Recorder

	mu       sync.Mutex
	monitors map[string]*model.Monitor
	entries  map[string]cron.EntryID
}

// New creates a scheduler. Call Start to begin ticking.
func New(tasks queue.TaskQueue, rec metrics.Recorder) *Scheduler {
	if rec == nil {
		rec = metrics.NoOp{}
	}
	return &Scheduler{
		cron:     cron.New(),
		tasks:    tasks,
		metrics:  rec,
		monitors: make(map[string]*model.Monitor),
		entries:  make(map[string]cron.EntryID),
	}
}

// Start begins firing scheduled entries.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("scheduler started")
}

// Stop halts the ticker and waits for in-flight ticks to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	slog.Info("scheduler stopped")
}

// Schedule adds or replaces the entry for a monitor. Rescheduling is atomic:
// the old entry is removed and the new one added under one lock, so no tick
// fires at the stale interval in between. Disabled monitors are removed.
func (s *Scheduler) Schedule(m *model.Monitor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !m.Enabled {
		s.remove(m.ID)
		return nil
	}
	return s.addOrUpdate(m)
}

// Unschedule removes the entry for a monitor, if any.
func (s *Scheduler) Unschedule(monitorID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(monitorID)
}

// Sync reconciles the scheduler against the full monitor set: enabled
// monitors get entries at their current interval, everything else is
// removed. Used at startup and on configuration reload.
func (s *Scheduler) Sync(monitors []*model.Monitor) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := make(map[string]bool)
	for _, m := range monitors {
		if !m.Enabled {
			continue
		}
		active[m.ID] = true
		if err := s.addOrUpdate(m); err != nil {
			slog.Error("failed to schedule monitor", "monitor_id", m.ID, "error", err)
		}
	}

	for id := range s.entries {
		if !active[id] {
			s.remove(id)
		}
	}

	s.metrics.SetActiveMonitors(len(s.entries))
}

// Len returns the number of scheduled monitors.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// addOrUpdate installs the cron entry for a monitor, replacing any existing
// one. Caller holds the lock.
func (s *Scheduler) addOrUpdate(m *model.Monitor) error {
	if m.Interval() <= 0 {
		return fmt.Errorf("monitor %s has no probe interval", m.ID)
	}
	if old, ok := s.entries[m.ID]; ok {
		s.cron.Remove(old)
		delete(s.entries, m.ID)
	}

	id := m.ID
	spec := fmt.Sprintf("@every %s", m.Interval())
	entryID, err := s.cron.AddFunc(spec, func() {
		s.tick(id)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule monitor %s with %q: %w", m.ID, spec, err)
	}

	s.entries[m.ID] = entryID
	s.monitors[m.ID] = m
	s.metrics.SetActiveMonitors(len(s.entries))

	slog.Debug("scheduled monitor",
		"monitor_id", m.ID,
		"interval", m.Interval(),
		"regions", m.ProbeRegions(),
	)
	return nil
}

// remove drops a monitor's entry. Caller holds the lock.
func (s *Scheduler) remove(monitorID string) {
	if entryID, ok := s.entries[monitorID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, monitorID)
	}
	delete(s.monitors, monitorID)
	s.metrics.SetActiveMonitors(len(s.entries))
}

// tick enqueues one probe task per region for the monitor. A failed enqueue
// for one region does not block the others; the next tick retries naturally.
func (s *Scheduler) tick(monitorID string) {
	s.mu.Lock()
	m := s.monitors[monitorID]
	s.mu.Unlock()

	if m == nil {
		slog.Warn("tick for unknown monitor", "monitor_id", monitorID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
	defer cancel()

	for _, region := range m.ProbeRegions() {
		task := events.ProbeTask{MonitorID: m.ID, Region: region}
		if err := s.tasks.Enqueue(ctx, queue.LaneProbes, task); err != nil {
			slog.Error("failed to enqueue probe task",
				"monitor_id", m.ID,
				"region", region,
				"error", err,
			)
		}
	}
}
