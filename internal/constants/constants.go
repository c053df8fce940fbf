package constants

import "time"

// Arena and ring capacities.
//
// The core never allocates after setup: every list node, event slot and
// transfer buffer below is carved out of a fixed-size array at construction
// time. Sizing these too small surfaces as StatusQueueFull at runtime
// rather than silent growth.
const (
	// SchedTasksMax is the number of TaskSlots in the scheduler arena.
	SchedTasksMax = 8

	// EventQueueSize is the capacity of the event ring that a process
	// engine shares among all of its processes.
	// Must be a power of two so index wraparound is a mask, not a modulo.
	EventQueueSize = 16

	// ADCChannelsMax is the number of physical ADC channel indices (0-7);
	// it sizes the per-channel measurement counters. It does not bound how
	// many channel entries the ADC engine holds enabled at once.
	ADCChannelsMax = 8

	// SpimQueueDepth is the depth of the SPI master's transaction FIFO.
	SpimQueueDepth = 4

	// SpisRxBufSize is the SPI slave's receive payload buffer size.
	SpisRxBufSize = 64

	// SpisTxBufSize is the SPI slave's response payload buffer size.
	SpisTxBufSize = 64

	// LLPMaxPayloadBytes bounds a single framed link-layer message.
	LLPMaxPayloadBytes = 64
)

// Link-layer protocol timing.
//
// The framed SPI master waits a fixed number of scheduler ticks between
// bytes to give the slave's foreground loop time to prepare the next byte,
// and after sending its request polls until the slave stops answering with
// a sentinel "not ready yet" byte and sends the response type byte, rather
// than trusting a fixed latency. These numbers mirror
// the original firmware's inter-byte delay constants.
const (
	// LLPTxDelay is the delay after writing a byte before the next byte
	// may be shifted out, expressed in scheduler ticks.
	LLPTxDelay = 2

	// LLPRxDelay is the wait, in scheduler ticks, before each poll of the
	// slave's response byte.
	LLPRxDelay = 50

	// LLPMaxRxDelay bounds the number of TYPE_RX_PROCESSING polls the
	// master tolerates before giving up with StatusNoResponse. Stored in
	// the low nibble of a flags byte on real hardware, so capped at 15.
	LLPMaxRxDelay = 15
)

// HostClockTick is the nominal wall-clock duration of one Tick when the
// core is driven by the timerfd-backed hal/hostclock harness rather than
// real hardware. Real hardware derives this from a timer prescaler
// instead; this value exists purely for the host simulation path.
const HostClockTick = 100 * time.Microsecond
