package firmcore

import "github.com/benchlab/firmcore/internal/constants"

// Re-exported tunables. All are compile-time constants: every arena and
// ring in the core is fixed-capacity, sized here rather than grown at
// runtime.
const (
	SchedTasksMax     = constants.SchedTasksMax
	EventQueueSize     = constants.EventQueueSize
	ADCChannelsMax     = constants.ADCChannelsMax
	SpimQueueDepth     = constants.SpimQueueDepth
	SpisRxBufSize      = constants.SpisRxBufSize
	SpisTxBufSize      = constants.SpisTxBufSize
	LLPMaxPayloadBytes = constants.LLPMaxPayloadBytes
	LLPTxDelay         = constants.LLPTxDelay
	LLPRxDelay         = constants.LLPRxDelay
	LLPMaxRxDelay      = constants.LLPMaxRxDelay
)
