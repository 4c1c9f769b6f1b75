package schedule

import (
	"sync"
	"time"
)

// TickSnapshot summarises observed task durations.
type TickSnapshot struct {
	Samples int
	Average time.Duration
	Max     time.Duration
	Last    time.Duration
}

// TickMonitor accumulates timing statistics for a periodic task.
type TickMonitor struct {
	mu      sync.Mutex
	samples int
	total   time.Duration
	max     time.Duration
	last    time.Duration
}

// NewTickMonitor constructs an empty monitor.
func NewTickMonitor() *TickMonitor {
	return &TickMonitor{}
}

// Observe records the duration of a completed run.
func (m *TickMonitor) Observe(duration time.Duration) {
	if m == nil || duration < 0 {
		return
	}
	m.mu.Lock()
	m.samples++
	m.total += duration
	if duration > m.max {
		m.max = duration
	}
	m.last = duration
	m.mu.Unlock()
}

// Snapshot returns a copy of the aggregated statistics.
func (m *TickMonitor) Snapshot() TickSnapshot {
	if m == nil {
		return TickSnapshot{}
	}
	m.mu.Lock()
	samples, total, max, last := m.samples, m.total, m.max, m.last
	m.mu.Unlock()

	average := time.Duration(0)
	if samples > 0 {
		average = total / time.Duration(samples)
	}
	return TickSnapshot{Samples: samples, Average: average, Max: max, Last: last}
}

// Reset clears the accumulated statistics.
func (m *TickMonitor) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.samples, m.total, m.max, m.last = 0, 0, 0, 0
	m.mu.Unlock()
}
