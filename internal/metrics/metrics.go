// Package metrics provides lock-free counters and latency histograms for
// engine observability.
//
// Counters are uint64 slots incremented atomically; the validate-latency
// histogram uses 8 fixed buckets (≤1ms … +Inf). Both are allocation-free
// on the write path. Export (Prometheus text format) lives in the root
// package and reads Snapshot values; this package performs no I/O and
// imports no sibling package.
package metrics

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one counter slot.
type MetricID int

// Counter identifiers. MetricIDCount must stay last.
const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricValidateSuccess
	MetricValidateFailure
	MetricTokenRevoked
	MetricLogout
	MetricLogoutAll
	MetricPermissionAllowed
	MetricPermissionDenied
	MetricProvisionSuccess
	MetricProvisionFailure
	MetricGrantToggled
	MetricPasswordReset

	MetricIDCount
)

// LatencyBuckets are the histogram upper bounds for validate latency.
var LatencyBuckets = []time.Duration{
	time.Millisecond,
	2 * time.Millisecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	// implicit +Inf
}

// Config controls the metrics surface.
type Config struct {
	Enabled bool
}

// Metrics holds the counter slots. All methods are safe for concurrent
// use; a nil or disabled Metrics is a no-op.
type Metrics struct {
	enabled  bool
	counters [MetricIDCount]atomic.Uint64
	latency  [8]atomic.Uint64
}

// New creates a Metrics instance. When cfg.Enabled is false every
// operation is a no-op and Snapshot returns empty maps.
func New(cfg Config) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

// Inc increments one counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id < 0 || id >= MetricIDCount {
		return
	}
	m.counters[id].Add(1)
}

// ObserveLatency records a validate-path duration.
func (m *Metrics) ObserveLatency(d time.Duration) {
	if m == nil || !m.enabled {
		return
	}
	for i, bound := range LatencyBuckets {
		if d <= bound {
			m.latency[i].Add(1)
			return
		}
	}
	m.latency[len(LatencyBuckets)].Add(1) // +Inf
}

// Snapshot is a point-in-time copy of all metrics.
type Snapshot struct {
	Counters map[MetricID]uint64
	Latency  []uint64 // non-cumulative bucket counts, +Inf last
}

// Snapshot copies every counter atomically (per slot).
func (m *Metrics) Snapshot() Snapshot {
	snap := Snapshot{Counters: make(map[MetricID]uint64, MetricIDCount)}
	if m == nil || !m.enabled {
		return snap
	}
	for id := MetricID(0); id < MetricIDCount; id++ {
		snap.Counters[id] = m.counters[id].Load()
	}
	snap.Latency = make([]uint64, len(m.latency))
	for i := range m.latency {
		snap.Latency[i] = m.latency[i].Load()
	}
	return snap
}
