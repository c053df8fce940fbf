package firmcore

import "sync/atomic"

// Metrics tracks operational counters for a running kernel instance.
// Every field is an atomic counter because the scheduler, ADC and SPI
// ISRs increment these from a different execution context than the
// foreground loop that reads them.
type Metrics struct {
	// Scheduler.
	SchedQueueFull   atomic.Uint64 // Schedule() calls that found no free slot
	SchedExecCount   atomic.Uint64 // tasks executed to completion

	// Process framework.
	EventRingOverflow atomic.Uint64 // Post() calls dropped because the ring was full
	EventsExecuted    atomic.Uint64 // events delivered to a process thread

	// ADC engine.
	ADCMeasurements [ADCChannelsMax]atomic.Uint64 // completed (post-oversample) measurements, per channel

	// SPI master.
	SpimQueueFull     atomic.Uint64
	SpimSlaveNotReady atomic.Uint64
	SpimCRCFailures   atomic.Uint64

	// SPI slave.
	SpisCRCFailures atomic.Uint64
	SpisAborted     atomic.Uint64
	SpisCompleted   atomic.Uint64
}

// NewMetrics returns a zeroed Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// MetricsSnapshot is a point-in-time copy of Metrics suitable for
// logging or assertions without racing the live counters.
type MetricsSnapshot struct {
	SchedQueueFull    uint64
	SchedExecCount    uint64
	EventRingOverflow uint64
	EventsExecuted    uint64
	ADCMeasurements   [ADCChannelsMax]uint64
	SpimQueueFull     uint64
	SpimSlaveNotReady uint64
	SpimCRCFailures   uint64
	SpisCRCFailures   uint64
	SpisAborted       uint64
	SpisCompleted     uint64
}

// Snapshot takes a consistent-enough point-in-time copy of m. Individual
// fields may be read microseconds apart, which is fine for diagnostics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var snap MetricsSnapshot
	snap.SchedQueueFull = m.SchedQueueFull.Load()
	snap.SchedExecCount = m.SchedExecCount.Load()
	snap.EventRingOverflow = m.EventRingOverflow.Load()
	snap.EventsExecuted = m.EventsExecuted.Load()
	for i := range m.ADCMeasurements {
		snap.ADCMeasurements[i] = m.ADCMeasurements[i].Load()
	}
	snap.SpimQueueFull = m.SpimQueueFull.Load()
	snap.SpimSlaveNotReady = m.SpimSlaveNotReady.Load()
	snap.SpimCRCFailures = m.SpimCRCFailures.Load()
	snap.SpisCRCFailures = m.SpisCRCFailures.Load()
	snap.SpisAborted = m.SpisAborted.Load()
	snap.SpisCompleted = m.SpisCompleted.Load()
	return snap
}

// Reset zeroes every counter. Useful in tests that want a clean slate
// between scenarios sharing one kernel instance.
func (m *Metrics) Reset() {
	m.SchedQueueFull.Store(0)
	m.SchedExecCount.Store(0)
	m.EventRingOverflow.Store(0)
	m.EventsExecuted.Store(0)
	for i := range m.ADCMeasurements {
		m.ADCMeasurements[i].Store(0)
	}
	m.SpimQueueFull.Store(0)
	m.SpimSlaveNotReady.Store(0)
	m.SpimCRCFailures.Store(0)
	m.SpisCRCFailures.Store(0)
	m.SpisAborted.Store(0)
	m.SpisCompleted.Store(0)
}
