// Package obs holds the hand-rolled atomic-counter metrics the teacher's
// internal/obs package already provided — kept deliberately free of a
// metrics-vendor SDK (no dependency in the teacher's go.mod covers one),
// matching the teacher's own choice to roll its own counters instead of
// pulling in Prometheus. Adapted from internal/obs/metrics.go: the event
// taxonomy is swapped from market-data/order-flow event types to the
// replacement-cycle outcomes the executor, settlement planner and
// orchestrator emit.
package obs

import (
	"sync/atomic"
	"time"
)

// EventKind enumerates the countable outcomes a replacement cycle emits.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventSubmitSuccess
	EventSubmitFailure
	EventSubmitDenied
	EventCancelSuccess
	EventCancelFailure
	EventCancelRetried
	EventCancelLogicalSuccess
	EventSTPPeelStarted
	EventSTPPeelFinished
	EventSettlementPlanIssued
	EventSettlementPlanEmpty
	EventSettlementUnbalanced
	EventTokenRefreshed
	EventTokenRefreshFailed
	eventKindCount
)

// Metrics collects lightweight counters and latency stats. The zero value
// is usable; every method is nil-safe so callers may leave Metrics unwired.
type Metrics struct {
	eventCounts [eventKindCount]uint64

	cycleLatency  LatencyStats
	submitLatency LatencyStats
	cancelLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	EventCounts   map[EventKind]uint64
	CycleLatency  LatencySnapshot
	SubmitLatency LatencySnapshot
	CancelLatency LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// Inc increments one event counter.
func (m *Metrics) Inc(kind EventKind) {
	if m == nil {
		return
	}
	idx := int(kind)
	if idx >= 0 && idx < len(m.eventCounts) {
		atomic.AddUint64(&m.eventCounts[idx], 1)
	}
}

// ObserveCycle measures one full replacement-pipeline latency
// (strategy_lock acquire through release).
func (m *Metrics) ObserveCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.cycleLatency.Observe(d)
}

// ObserveSubmit measures one submit call's latency.
func (m *Metrics) ObserveSubmit(d time.Duration) {
	if m == nil {
		return
	}
	m.submitLatency.Observe(d)
}

// ObserveCancel measures one cancel call's latency.
func (m *Metrics) ObserveCancel(d time.Duration) {
	if m == nil {
		return
	}
	m.cancelLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	eventCounts := make(map[EventKind]uint64)
	for i := range m.eventCounts {
		if v := atomic.LoadUint64(&m.eventCounts[i]); v > 0 {
			eventCounts[EventKind(i)] = v
		}
	}
	return Snapshot{
		EventCounts:   eventCounts,
		CycleLatency:  m.cycleLatency.Snapshot(),
		SubmitLatency: m.submitLatency.Snapshot(),
		CancelLatency: m.cancelLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
