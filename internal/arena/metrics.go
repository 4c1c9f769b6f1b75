package arena

import (
	"sync"

	"blobarena/server/internal/game"
)

// MetricsSnapshot is a point-in-time copy of the hub counters.
type MetricsSnapshot struct {
	Accepted   map[game.MessageType]uint64
	Rejected   map[game.RejectReason]uint64
	Malformed  uint64
	Throttled  uint64
	Broadcasts uint64
	SendDrops  uint64
	Flushes    uint64
	Evictions  uint64
}

// Metrics stores hub counters for the operational endpoints.
type Metrics struct {
	mu         sync.RWMutex
	accepted   map[game.MessageType]uint64
	rejected   map[game.RejectReason]uint64
	malformed  uint64
	throttled  uint64
	broadcasts uint64
	sendDrops  uint64
	flushes    uint64
	evictions  uint64
}

func newMetrics() *Metrics {
	return &Metrics{
		accepted: make(map[game.MessageType]uint64),
		rejected: make(map[game.RejectReason]uint64),
	}
}

func (m *Metrics) accept(msgType game.MessageType) {
	m.mu.Lock()
	m.accepted[msgType]++
	m.mu.Unlock()
}

func (m *Metrics) reject(reason game.RejectReason) {
	if reason == "" {
		return
	}
	m.mu.Lock()
	m.rejected[reason]++
	m.mu.Unlock()
}

func (m *Metrics) add(counter *uint64, delta uint64) {
	m.mu.Lock()
	*counter += delta
	m.mu.Unlock()
}

// Snapshot clones the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	snapshot := MetricsSnapshot{
		Accepted:   make(map[game.MessageType]uint64, len(m.accepted)),
		Rejected:   make(map[game.RejectReason]uint64, len(m.rejected)),
		Malformed:  m.malformed,
		Throttled:  m.throttled,
		Broadcasts: m.broadcasts,
		SendDrops:  m.sendDrops,
		Flushes:    m.flushes,
		Evictions:  m.evictions,
	}
	for msgType, count := range m.accepted {
		snapshot.Accepted[msgType] = count
	}
	for reason, count := range m.rejected {
		snapshot.Rejected[reason] = count
	}
	return snapshot
}
