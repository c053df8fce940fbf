// Package spis implements the SPI slave side of the link-layer protocol:
// a single in-flight transfer driven directly by the hardware's
// transfer-complete interrupt, with the client's reply delivered
// out-of-band through a process event.
package spis

import (
	"github.com/benchlab/firmcore"
	"github.com/benchlab/firmcore/internal/crc16"
	"github.com/benchlab/firmcore/internal/hal"
	"github.com/benchlab/firmcore/internal/logging"
	"github.com/benchlab/firmcore/process"
)

// Reserved LLP type bytes, shared with the master's wire format.
const (
	TypeRxProcessing       byte = 0xF0
	TypeErrCRCFailure      byte = 0xF1
	TypeErrMessageTooLarge byte = 0xF2
)

// state is the closed set of resumption points the transfer-complete ISR
// dispatches on. The numeric ordering matters: OnSlaveSelectChanged uses
// a range guard (stateWaitCallback <= s < stateCompleted) to detect a
// premature SS release during the client's turnaround.
type state int

const (
	stateReady state = iota
	stateRxSize
	stateRxPayload
	stateRxFooter0
	stateRxFooter1
	stateWaitCallback
	stateTxSize
	stateTxPayload
	stateTxFooter0
	stateTxFooter1
	stateCompleted
	stateDraining
	stateAbortedAwaitingCallback
)

// Engine owns the single in-flight slave transfer. It has no process of
// its own: the transfer-complete and slave-select interrupts drive its
// state machine directly, and it notifies a caller-registered process
// when a request has arrived or a response has gone out.
type Engine struct {
	cs      hal.CriticalSection
	hw      hal.SPISlaveHardware
	procs   *process.Engine
	client  *process.Process
	log     *logging.Logger
	metrics *firmcore.Metrics

	state state
	crc   uint16

	reqType  byte
	rxBuf    []byte
	rxSize   int
	received int

	txType      byte
	txBuf       []byte
	txIndex     int
	txRemaining int

	drainCode byte
}

// New constructs an Engine with a receive buffer of the given capacity
// (the core's default is firmcore.SpisRxBufSize).
func New(cs hal.CriticalSection, hw hal.SPISlaveHardware, rxBufSize int, metrics *firmcore.Metrics, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.Default()
	}
	if metrics == nil {
		metrics = firmcore.NewMetrics()
	}
	e := &Engine{cs: cs, hw: hw, rxBuf: make([]byte, rxBufSize), log: log, metrics: metrics}
	// Preload the padding byte so the first byte of the very first
	// transfer already reads back TypeRxProcessing: the master checks
	// this on every request-phase byte, including the first.
	hw.SetResponseByte(TypeRxProcessing)
	return e
}

// Attach registers the process notified of KindSPISMessageReceived and
// KindSPISResponseTransmitted/KindSPISResponseError events. client must
// already be started on procs.
func (e *Engine) Attach(procs *process.Engine, client *process.Process) {
	e.procs = procs
	e.client = client
}

// Request returns the payload received from the master for the transfer
// currently awaiting a reply, valid only between a KindSPISMessageReceived
// notification and the matching SendResponse call.
func (e *Engine) Request() (reqType byte, payload []byte) {
	token := e.cs.Enter()
	defer e.cs.Exit(token)
	return e.reqType, e.rxBuf[:e.received]
}

// OnTransferComplete is the transfer-complete ISR: data is the byte the
// master just clocked in, and before returning the slave arms whatever
// byte it should shift out on the master's next clock.
func (e *Engine) OnTransferComplete(data byte) {
	token := e.cs.Enter()
	defer e.cs.Exit(token)

	switch e.state {
	case stateReady:
		e.reqType = data
		e.crc = crc16.Initial()
		e.crc = crc16.Update(e.crc, data)
		e.hw.SetResponseByte(TypeRxProcessing)
		e.state = stateRxSize

	case stateRxSize:
		if int(data) > len(e.rxBuf) {
			e.metrics.SpisAborted.Add(1)
			e.endTransfer(TypeErrMessageTooLarge)
			return
		}
		e.crc = crc16.Update(e.crc, data)
		e.rxSize = int(data)
		e.received = 0
		e.hw.SetResponseByte(TypeRxProcessing)
		e.state = stateRxPayload

	case stateRxPayload:
		if e.received < e.rxSize {
			e.rxBuf[e.received] = data
			e.received++
			e.crc = crc16.Update(e.crc, data)
			e.hw.SetResponseByte(TypeRxProcessing)
			return
		}
		e.handleRxFooter0(data)

	case stateRxFooter0:
		e.handleRxFooter0(data)

	case stateRxFooter1:
		if byte(e.crc&0xFF) != data {
			e.metrics.SpisCRCFailures.Add(1)
			e.endTransfer(TypeErrCRCFailure)
			return
		}
		e.hw.SetResponseByte(TypeRxProcessing)
		e.state = stateWaitCallback
		e.notifyClient(process.KindSPISMessageReceived)

	case stateWaitCallback:
		// The client hasn't replied yet; keep reporting the padding
		// byte so the master's rx_delay_remaining policy keeps polling.
		e.hw.SetResponseByte(TypeRxProcessing)

	case stateTxSize:
		size := byte(e.txRemaining)
		e.crc = crc16.Update(e.crc, size)
		e.hw.SetResponseByte(size)
		e.txIndex = 0
		if e.txRemaining > 0 {
			e.state = stateTxPayload
		} else {
			e.state = stateTxFooter0
		}

	case stateTxPayload:
		b := e.txBuf[e.txIndex]
		e.crc = crc16.Update(e.crc, b)
		e.hw.SetResponseByte(b)
		e.txIndex++
		e.txRemaining--
		if e.txRemaining == 0 {
			e.state = stateTxFooter0
		}

	case stateTxFooter0:
		e.hw.SetResponseByte(byte(e.crc >> 8))
		e.state = stateTxFooter1

	case stateTxFooter1:
		e.hw.SetResponseByte(byte(e.crc & 0xFF))
		e.state = stateCompleted

	case stateCompleted:
		e.metrics.SpisCompleted.Add(1)
		e.endTransfer(TypeRxProcessing)
		e.notifyClient(process.KindSPISResponseTransmitted)

	case stateDraining, stateAbortedAwaitingCallback:
		e.hw.SetResponseByte(e.drainCode)
	}
}

// handleRxFooter0 is split out of the RxPayload case because a
// zero-length payload falls straight from RxSize into the footer with no
// intervening RxPayload byte, the same "fall through" the state diagram
// calls for.
func (e *Engine) handleRxFooter0(data byte) {
	if byte(e.crc>>8) != data {
		e.metrics.SpisCRCFailures.Add(1)
		e.endTransfer(TypeErrCRCFailure)
		return
	}
	e.received++
	e.hw.SetResponseByte(TypeRxProcessing)
	e.state = stateRxFooter1
}

// endTransfer loads code as the terminal byte and parks the state at
// Draining so every subsequent poll keeps reporting it until the master
// releases SS.
func (e *Engine) endTransfer(code byte) {
	e.drainCode = code
	e.hw.SetResponseByte(code)
	e.state = stateDraining
	if code != TypeRxProcessing {
		e.log.Warnf("spis: transfer ended with error code=%#x", code)
	}
}

// OnSlaveSelectChanged is the slave-select pin-change ISR. asserted is
// true while the master holds the line low (transfer active); a
// transition to false is the master releasing SS.
func (e *Engine) OnSlaveSelectChanged(asserted bool) {
	if asserted {
		return
	}
	token := e.cs.Enter()
	defer e.cs.Exit(token)

	if e.state >= stateWaitCallback && e.state < stateCompleted {
		awaitingCallback := e.state == stateWaitCallback
		e.metrics.SpisAborted.Add(1)
		if awaitingCallback {
			e.state = stateAbortedAwaitingCallback
		} else {
			e.state = stateReady
			e.hw.SetResponseByte(TypeRxProcessing)
		}
		e.notifyClient(process.KindSPISResponseError)
		return
	}
	if e.state != stateAbortedAwaitingCallback {
		e.state = stateReady
		e.hw.SetResponseByte(TypeRxProcessing)
	}
}

// SendResponse is the client's reply entry point, called from foreground
// code (typically the process notified of KindSPISMessageReceived).
// respType must not collide with the reserved padding/error range.
func (e *Engine) SendResponse(respType byte, payload []byte) error {
	token := e.cs.Enter()
	defer e.cs.Exit(token)

	if e.state == stateAbortedAwaitingCallback {
		if e.hw.SlaveSelected() {
			e.state = stateDraining
		} else {
			e.state = stateReady
			e.hw.SetResponseByte(TypeRxProcessing)
		}
		return firmcore.New("spis_send_response", firmcore.StatusNoTrxInProgress, "transfer aborted before reply")
	}
	if e.state != stateWaitCallback {
		return firmcore.New("spis_send_response", firmcore.StatusNoTrxInProgress, "no transfer awaiting a response")
	}
	if respType >= TypeRxProcessing {
		return firmcore.New("spis_send_response", firmcore.StatusInvalidType, "response type collides with reserved range")
	}
	if len(payload) > firmcore.LLPMaxPayloadBytes {
		return firmcore.New("spis_send_response", firmcore.StatusMessageTooLarge, "response payload exceeds LLP_MAX_PAYLOAD_BYTES")
	}

	e.txType = respType
	e.txBuf = payload
	e.txRemaining = len(payload)
	e.crc = crc16.Initial()
	e.crc = crc16.Update(e.crc, respType)
	e.hw.SetResponseByte(respType)
	e.state = stateTxSize
	return nil
}

func (e *Engine) notifyClient(kind process.Kind) {
	if e.procs != nil && e.client != nil {
		e.procs.Post(e.client, kind, nil)
	}
}
