// Package profiler - stage timings and counters for a selection run.
package profiler

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Profiler tracks how long each named stage of a run takes, plus custom metrics. It is safe for
// concurrent use.
type Profiler struct {
	mu        sync.Mutex
	startTime time.Time
	seq       int

	stages  map[string]*TimeTracker
	metrics map[string]*MetricTracker
}

// TimeTracker tracks operation timing statistics.
type TimeTracker struct {
	Name      string
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
	Count     int64

	order int
}

// Average returns the mean duration of the operation.
func (t TimeTracker) Average() time.Duration {
	if t.Count == 0 {
		return 0
	}
	return t.TotalTime / time.Duration(t.Count)
}

// MetricTracker tracks statistics for a custom metric.
type MetricTracker struct {
	Name  string
	Sum   float64
	Min   float64
	Max   float64
	Count int64
}

// Average returns the mean recorded value.
func (m MetricTracker) Average() float64 {
	if m.Count == 0 {
		return 0
	}
	return m.Sum / float64(m.Count)
}

// New creates a profiler whose uptime starts now.
func New() *Profiler {
	return &Profiler{
		startTime: time.Now(),
		stages:    make(map[string]*TimeTracker),
		metrics:   make(map[string]*MetricTracker),
	}
}

// StartOperation begins timing an operation.
//
// Arguments:
// - name: The name of the operation to track
//
// Returns:
// - A function to call when the operation completes
func (p *Profiler) StartOperation(name string) func() {
	start := time.Now()
	return func() {
		p.recordOperationTime(name, time.Since(start))
	}
}

func (p *Profiler) recordOperationTime(name string, duration time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tracker, exists := p.stages[name]
	if !exists {
		p.seq++
		tracker = &TimeTracker{
			Name:    name,
			MinTime: duration,
			MaxTime: duration,
			order:   p.seq,
		}
		p.stages[name] = tracker
	}

	tracker.TotalTime += duration
	tracker.Count++
	if duration < tracker.MinTime {
		tracker.MinTime = duration
	}
	if duration > tracker.MaxTime {
		tracker.MaxTime = duration
	}
}

// RecordMetric records a value for a named metric.
func (p *Profiler) RecordMetric(name string, value float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tracker, exists := p.metrics[name]
	if !exists {
		tracker = &MetricTracker{Name: name, Min: value, Max: value}
		p.metrics[name] = tracker
	}
	tracker.Sum += value
	tracker.Count++
	if value < tracker.Min {
		tracker.Min = value
	}
	if value > tracker.Max {
		tracker.Max = value
	}
}

// Stages returns a snapshot of every stage in first-completed order.
func (p *Profiler) Stages() []TimeTracker {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]TimeTracker, 0, len(p.stages))
	for _, t := range p.stages {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].order < out[j].order })
	return out
}

// Metrics returns a snapshot of every metric sorted by name.
func (p *Profiler) Metrics() []MetricTracker {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]MetricTracker, 0, len(p.metrics))
	for _, m := range p.metrics {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Uptime returns the time since the profiler was created.
func (p *Profiler) Uptime() time.Duration {
	return time.Since(p.startTime)
}

// Log emits one Info line per stage and metric, then the memory totals.
func (p *Profiler) Log(logger zerolog.Logger) {
	for _, s := range p.Stages() {
		logger.Info().
			Str("stage", s.Name).
			Dur("total", s.TotalTime).
			Dur("avg", s.Average()).
			Int64("count", s.Count).
			Msg("stage timing")
	}
	for _, m := range p.Metrics() {
		logger.Info().
			Str("metric", m.Name).
			Float64("avg", m.Average()).
			Float64("min", m.Min).
			Float64("max", m.Max).
			Int64("samples", m.Count).
			Msg("metric")
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	logger.Debug().
		Dur("uptime", p.Uptime()).
		Str("total_alloc", formatBytes(mem.TotalAlloc)).
		Str("sys", formatBytes(mem.Sys)).
		Uint32("gc_cycles", mem.NumGC).
		Msg("runtime")
}

// formatBytes formats byte counts in human-readable format.
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
