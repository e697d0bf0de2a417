package util

import (
	"sort"
	"sync"
	"time"
)

// PerfEnabled turns stage timing on; it follows debug mode by default
var PerfEnabled bool

// PerfMetric aggregates the timings recorded under one name
type PerfMetric struct {
	Name      string
	Last      time.Duration
	Count     int64
	TotalTime time.Duration
}

// PerfTracker collects stage timings for one process
type PerfTracker struct {
	mu      sync.RWMutex
	metrics map[string]*PerfMetric
	started time.Time
}

var (
	globalPerf     *PerfTracker
	globalPerfOnce sync.Once
)

// GetPerfTracker returns the global performance tracker
func GetPerfTracker() *PerfTracker {
	globalPerfOnce.Do(func() {
		globalPerf = NewPerfTracker()
	})
	return globalPerf
}

// NewPerfTracker returns an empty tracker
func NewPerfTracker() *PerfTracker {
	return &PerfTracker{
		metrics: make(map[string]*PerfMetric),
		started: time.Now(),
	}
}

// Timer represents an active timing operation
type Timer struct {
	name    string
	start   time.Time
	tracker *PerfTracker
}

// StartTimer starts a new timer for the given operation name. It returns nil
// when timing is disabled; all Timer methods accept a nil receiver.
func StartTimer(name string) *Timer {
	if !PerfEnabled {
		return nil
	}
	return &Timer{
		name:    name,
		start:   time.Now(),
		tracker: GetPerfTracker(),
	}
}

// Stop stops the timer and records the duration
func (t *Timer) Stop() time.Duration {
	if t == nil {
		return 0
	}
	duration := time.Since(t.start)
	t.tracker.Record(t.name, duration)
	return duration
}

// StopAndLog stops the timer and logs the duration
func (t *Timer) StopAndLog() time.Duration {
	if t == nil {
		return 0
	}
	duration := t.Stop()
	Debug("stage timing", "stage", t.name, "took", duration)
	return duration
}

// Record records a metric with the given name and duration
func (pt *PerfTracker) Record(name string, duration time.Duration) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	metric, exists := pt.metrics[name]
	if !exists {
		metric = &PerfMetric{Name: name}
		pt.metrics[name] = metric
	}
	metric.Count++
	metric.TotalTime += duration
	metric.Last = duration
}

// Metrics returns a snapshot sorted by total time, slowest first
func (pt *PerfTracker) Metrics() []PerfMetric {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	out := make([]PerfMetric, 0, len(pt.metrics))
	for _, m := range pt.metrics {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TotalTime > out[j].TotalTime
	})
	return out
}

// LogReport writes every metric at debug level
func (pt *PerfTracker) LogReport() {
	for _, m := range pt.Metrics() {
		Debug("perf", "stage", m.Name, "count", m.Count, "total", m.TotalTime, "last", m.Last)
	}
	Debug("perf", "uptime", time.Since(pt.started))
}
