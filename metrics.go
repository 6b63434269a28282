package goLink

import "sync/atomic"

// MetricID defines a public type used by goLink APIs.
//
// MetricID instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricID uint16

const (
	// MetricLinkStarted is an exported constant or variable used by the link engine.
	MetricLinkStarted MetricID = iota
	// MetricLinkSucceeded is an exported constant or variable used by the link engine.
	MetricLinkSucceeded
	// MetricLinkFailed is an exported constant or variable used by the link engine.
	MetricLinkFailed
	// MetricLinkDuplicate is an exported constant or variable used by the link engine.
	MetricLinkDuplicate
	// MetricCodeRejected is an exported constant or variable used by the link engine.
	MetricCodeRejected
	// MetricCodeExpired is an exported constant or variable used by the link engine.
	MetricCodeExpired
	// MetricPasswordRequired is an exported constant or variable used by the link engine.
	MetricPasswordRequired
	// MetricPasswordRejected is an exported constant or variable used by the link engine.
	MetricPasswordRejected
	// MetricPasswordLockout is an exported constant or variable used by the link engine.
	MetricPasswordLockout
	// MetricFloodCooldown is an exported constant or variable used by the link engine.
	MetricFloodCooldown
	// MetricWebLoginStarted is an exported constant or variable used by the link engine.
	MetricWebLoginStarted
	// MetricWebLoginAuthorized is an exported constant or variable used by the link engine.
	MetricWebLoginAuthorized
	// MetricWebLoginExpired is an exported constant or variable used by the link engine.
	MetricWebLoginExpired
	// MetricWebLoginCancelled is an exported constant or variable used by the link engine.
	MetricWebLoginCancelled
	// MetricWebLoginTicks is an exported constant or variable used by the link engine.
	MetricWebLoginTicks
	// MetricConnectSuccess is an exported constant or variable used by the link engine.
	MetricConnectSuccess
	// MetricConnectRetry is an exported constant or variable used by the link engine.
	MetricConnectRetry
	// MetricConnectFailure is an exported constant or variable used by the link engine.
	MetricConnectFailure
	// MetricConnectFastPath is an exported constant or variable used by the link engine.
	MetricConnectFastPath
	// MetricConnectCoalesced is an exported constant or variable used by the link engine.
	MetricConnectCoalesced
	// MetricSessionRevoked is an exported constant or variable used by the link engine.
	MetricSessionRevoked
	// MetricProtectedViolation is an exported constant or variable used by the link engine.
	MetricProtectedViolation
	// MetricOwnershipTransfer is an exported constant or variable used by the link engine.
	MetricOwnershipTransfer
	// MetricActiveSwitched is an exported constant or variable used by the link engine.
	MetricActiveSwitched
	// MetricAccountDeleted is an exported constant or variable used by the link engine.
	MetricAccountDeleted
	// MetricPendingEvicted is an exported constant or variable used by the link engine.
	MetricPendingEvicted
	// MetricPostLinkFailed is an exported constant or variable used by the link engine.
	MetricPostLinkFailed

	metricIDCount
)

// Metrics holds in-process atomic counters. When disabled, all operations
// are no-ops and Snapshot returns empty maps.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]atomic.Uint64
}

// NewMetrics creates a [Metrics] instance configured by the given
// [MetricsConfig].
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

// Inc increments the counter for id. No-op when disabled or out of range.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	m.counters[id].Add(1)
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

// Snapshot returns a deep copy of the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{Counters: make(map[MetricID]uint64)}
	if m == nil || !m.enabled {
		return snap
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		if v := m.counters[id].Load(); v != 0 {
			snap.Counters[id] = v
		}
	}
	return snap
}
