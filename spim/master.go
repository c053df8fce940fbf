package spim

import (
	"github.com/benchlab/firmcore"
	"github.com/benchlab/firmcore/internal/crc16"
	"github.com/benchlab/firmcore/internal/hal"
	"github.com/benchlab/firmcore/internal/logging"
	"github.com/benchlab/firmcore/process"
	"github.com/benchlab/firmcore/scheduler"
)

// kindContinue wakes the master process, either because a new
// transaction was queued while it was idle or because a scheduled
// inter-byte delay has elapsed.
const kindContinue = process.KindUserBase + 1

// Resumption points for Engine.thread. Sub-progress within a phase
// (payload index, rolling CRC) is tracked on Engine itself, the same way
// the original firmware promotes loop locals to static storage.
const (
	stateIdle process.StateTag = iota
	stateFramedSendSize
	stateFramedSendPayload
	stateFramedSendCRCHi
	stateFramedSendCRCLo
	stateFramedFirstRxWait
	stateFramedPoll
	stateFramedRxSize
	stateFramedRxPayload
	stateFramedRxFooter0
	stateFramedRxFooter1
)

// NewSimpleTransaction builds an unframed byte-stream transfer. RxBuf is
// filled from the wire as tx bytes (or, once tx is exhausted, dummy
// bytes) are clocked; its length is the total number of bytes to
// receive.
func NewSimpleTransaction(ss hal.Pin, tx []byte, rxBuf []byte, owner *process.Process, data any) *Transaction {
	return &Transaction{Kind: KindSimple, SS: ss, Tx: tx, RxBuf: rxBuf, owner: owner, Data: data}
}

// NewFramedTransaction builds a link-layer-protocol request. rxPayload's
// capacity bounds the largest response accepted before
// StatusResponseTooLarge.
func NewFramedTransaction(ss hal.Pin, txType byte, txPayload []byte, rxPayload []byte, owner *process.Process, data any) *Transaction {
	return &Transaction{Kind: KindFramed, SS: ss, TxType: txType, TxPayload: txPayload, RxPayload: rxPayload, owner: owner, Data: data}
}

// Engine owns the master transaction FIFO and the single process driving
// it to completion, byte by byte.
type Engine struct {
	cs      hal.CriticalSection
	hw      hal.SPIMasterHardware
	sched   *scheduler.Scheduler
	procs   *process.Engine
	log     *logging.Logger
	metrics *firmcore.Metrics
	self    *process.Process

	queueDepth int
	qLen       int
	head, tail *Transaction
	cur        *Transaction

	payloadIndex     int
	crc              uint16
	rxCRC            uint16
	rxCRCHi          byte
	rxDelayRemaining int
}

// New constructs an Engine bound to the given hardware and scheduler,
// with a transaction FIFO bounded to queueDepth entries (the core's
// default is firmcore.SpimQueueDepth). Attach must be called once to
// register its process before Queue is used.
func New(cs hal.CriticalSection, hw hal.SPIMasterHardware, sched *scheduler.Scheduler, queueDepth int, metrics *firmcore.Metrics, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.Default()
	}
	if metrics == nil {
		metrics = firmcore.NewMetrics()
	}
	return &Engine{cs: cs, hw: hw, sched: sched, queueDepth: queueDepth, log: log, metrics: metrics}
}

// Attach registers the engine's driving process on procs.
func (e *Engine) Attach(procs *process.Engine) error {
	e.procs = procs
	e.self = process.New(e.thread)
	return procs.Start(e.self)
}

// Queue appends trx to the FIFO and wakes the driving process if idle.
func (e *Engine) Queue(trx *Transaction) error {
	token := e.cs.Enter()
	if trx.queued {
		e.cs.Exit(token)
		return firmcore.New("spim_queue", firmcore.StatusAlreadyQueued, "transaction already queued")
	}
	if e.qLen >= e.queueDepth {
		e.cs.Exit(token)
		e.metrics.SpimQueueFull.Add(1)
		return firmcore.New("spim_queue", firmcore.StatusQueueFull, "transaction queue full")
	}
	trx.queued = true
	trx.next = nil
	e.qLen++
	if e.tail == nil {
		e.head = trx
		e.tail = trx
	} else {
		e.tail.next = trx
		e.tail = trx
	}
	e.cs.Exit(token)

	if e.procs != nil && e.self != nil {
		return e.procs.Post(e.self, kindContinue, nil)
	}
	return nil
}

func (e *Engine) scheduleDelay(ticks uint16, next process.StateTag) (process.StateTag, process.Wait) {
	e.sched.Schedule(ticks, func(any) {
		e.procs.Post(e.self, kindContinue, nil)
	}, nil)
	return next, process.WaitFor(kindContinue)
}

// thread is the master's process body, dispatched purely on its own
// resumption state: every wake, whatever the triggering event, means
// either "a transaction was just queued" (stateIdle) or "the scheduled
// inter-byte delay has elapsed" (every other state).
func (e *Engine) thread(p *process.Process, ev process.Event) (process.StateTag, process.Wait) {
	switch p.State() {
	case stateIdle:
		return e.pickNext()
	case stateFramedSendSize:
		return e.framedSendSize()
	case stateFramedSendPayload:
		return e.framedSendPayload()
	case stateFramedSendCRCHi:
		return e.framedSendCRCHi()
	case stateFramedSendCRCLo:
		return e.framedSendCRCLo()
	case stateFramedFirstRxWait, stateFramedPoll:
		return e.pollResponseType()
	case stateFramedRxSize:
		return e.framedRxSize()
	case stateFramedRxPayload:
		return e.framedRxPayload()
	case stateFramedRxFooter0:
		return e.framedRxFooter0()
	case stateFramedRxFooter1:
		return e.framedRxFooter1()
	default:
		return stateIdle, process.WaitFor(kindContinue)
	}
}

// pickNext pulls the queue head, if any, and begins clocking it: a
// Simple transfer runs to completion synchronously (its only timing
// requirement is the hardware's own transfer-complete latency, modeled
// as TransferByte returning synchronously); a Framed transfer starts the
// inter-byte-delay state machine.
func (e *Engine) pickNext() (process.StateTag, process.Wait) {
	token := e.cs.Enter()
	trx := e.head
	e.cs.Exit(token)
	if trx == nil {
		return stateIdle, process.WaitFor(kindContinue)
	}
	trx.inTransmission = true
	e.hw.BeginTransfer(trx.SS)

	if trx.Kind == KindSimple {
		e.runSimple(trx)
		return stateIdle, process.WaitFor(kindContinue)
	}

	e.cur = trx
	e.crc = crc16.Initial()
	e.crc = crc16.Update(e.crc, trx.TxType)
	rx := e.hw.TransferByte(trx.TxType)
	if rx != TypeRxProcessing {
		e.abort(firmcore.StatusSlaveNotReady, process.KindSPIMErrorSlaveNotReady)
		return stateIdle, process.WaitFor(kindContinue)
	}
	return e.scheduleDelay(firmcore.LLPTxDelay, stateFramedSendSize)
}

// runSimple clocks trx's tx bytes (padding with dummy bytes once tx is
// exhausted if rx still wants more) with no inter-byte delay, since a
// Simple transfer has no timing contract beyond the hardware's own
// transfer-complete latency.
func (e *Engine) runSimple(trx *Transaction) {
	total := len(trx.Tx)
	if len(trx.RxBuf) > total {
		total = len(trx.RxBuf)
	}
	for i := 0; i < total; i++ {
		var txByte byte
		if i < len(trx.Tx) {
			txByte = trx.Tx[i]
		}
		rxByte := e.hw.TransferByte(txByte)
		if i < len(trx.RxBuf) {
			trx.RxBuf[i] = rxByte
			trx.RxN++
		}
	}
	e.hw.EndTransfer(trx.SS)
	e.finish(trx, process.KindSPIMCompletedSuccessfully)
}

func (e *Engine) framedSendSize() (process.StateTag, process.Wait) {
	size := byte(len(e.cur.TxPayload))
	rx := e.hw.TransferByte(size)
	e.crc = crc16.Update(e.crc, size)
	if rx != TypeRxProcessing {
		e.abort(firmcore.StatusSlaveNotReady, process.KindSPIMErrorSlaveNotReady)
		return stateIdle, process.WaitFor(kindContinue)
	}
	e.payloadIndex = 0
	if len(e.cur.TxPayload) == 0 {
		return e.scheduleDelay(firmcore.LLPTxDelay, stateFramedSendCRCHi)
	}
	return e.scheduleDelay(firmcore.LLPTxDelay, stateFramedSendPayload)
}

func (e *Engine) framedSendPayload() (process.StateTag, process.Wait) {
	b := e.cur.TxPayload[e.payloadIndex]
	rx := e.hw.TransferByte(b)
	e.crc = crc16.Update(e.crc, b)
	if rx != TypeRxProcessing {
		e.abort(firmcore.StatusSlaveNotReady, process.KindSPIMErrorSlaveNotReady)
		return stateIdle, process.WaitFor(kindContinue)
	}
	e.payloadIndex++
	if e.payloadIndex < len(e.cur.TxPayload) {
		return e.scheduleDelay(firmcore.LLPTxDelay, stateFramedSendPayload)
	}
	return e.scheduleDelay(firmcore.LLPTxDelay, stateFramedSendCRCHi)
}

func (e *Engine) framedSendCRCHi() (process.StateTag, process.Wait) {
	rx := e.hw.TransferByte(byte(e.crc >> 8))
	if rx != TypeRxProcessing {
		e.abort(firmcore.StatusSlaveNotReady, process.KindSPIMErrorSlaveNotReady)
		return stateIdle, process.WaitFor(kindContinue)
	}
	return e.scheduleDelay(firmcore.LLPTxDelay, stateFramedSendCRCLo)
}

func (e *Engine) framedSendCRCLo() (process.StateTag, process.Wait) {
	rx := e.hw.TransferByte(byte(e.crc & 0xFF))
	if rx != TypeRxProcessing {
		e.abort(firmcore.StatusSlaveNotReady, process.KindSPIMErrorSlaveNotReady)
		return stateIdle, process.WaitFor(kindContinue)
	}
	e.rxDelayRemaining = firmcore.LLPMaxRxDelay
	return e.scheduleDelay(firmcore.LLPRxDelay, stateFramedFirstRxWait)
}

// pollResponseType clocks a dummy byte and inspects the slave's reply.
// While the slave is still reporting TypeRxProcessing it is not yet
// ready; the poll repeats until rxDelayRemaining is exhausted
// (StatusNoResponse) or a real type byte arrives, which is classified
// per the reserved type-byte ranges.
func (e *Engine) pollResponseType() (process.StateTag, process.Wait) {
	rxType := e.hw.TransferByte(0)
	if rxType == TypeRxProcessing {
		e.rxDelayRemaining--
		if e.rxDelayRemaining <= 0 {
			e.abort(firmcore.StatusNoResponse, process.KindSPIMErrorNoResponse)
			return stateIdle, process.WaitFor(kindContinue)
		}
		return e.scheduleDelay(firmcore.LLPRxDelay, stateFramedPoll)
	}

	e.cur.RxType = rxType
	switch {
	case rxType == TypeErrCRCFailure:
		e.abort(firmcore.StatusResponseCRCFailure, process.KindSPIMErrorResponseCRCFailure)
		return stateIdle, process.WaitFor(kindContinue)
	case rxType == TypeErrMessageTooLarge:
		e.abort(firmcore.StatusResponseTooLarge, process.KindSPIMErrorResponseTooLarge)
		return stateIdle, process.WaitFor(kindContinue)
	case rxType > TypeRxProcessing:
		e.abort(firmcore.StatusSlave, process.KindSPIMErrorSlave)
		return stateIdle, process.WaitFor(kindContinue)
	}
	return e.scheduleDelay(firmcore.LLPRxDelay, stateFramedRxSize)
}

func (e *Engine) framedRxSize() (process.StateTag, process.Wait) {
	size := e.hw.TransferByte(0)
	if int(size) > len(e.cur.RxPayload) {
		e.abort(firmcore.StatusResponseTooLarge, process.KindSPIMErrorResponseTooLarge)
		return stateIdle, process.WaitFor(kindContinue)
	}
	e.cur.RxSize = int(size)
	e.rxCRC = crc16.Initial()
	e.rxCRC = crc16.Update(e.rxCRC, e.cur.RxType)
	e.rxCRC = crc16.Update(e.rxCRC, size)
	e.payloadIndex = 0
	if e.cur.RxSize == 0 {
		return e.scheduleDelay(firmcore.LLPRxDelay, stateFramedRxFooter0)
	}
	return e.scheduleDelay(firmcore.LLPRxDelay, stateFramedRxPayload)
}

func (e *Engine) framedRxPayload() (process.StateTag, process.Wait) {
	b := e.hw.TransferByte(0)
	e.cur.RxPayload[e.payloadIndex] = b
	e.rxCRC = crc16.Update(e.rxCRC, b)
	e.payloadIndex++
	if e.payloadIndex < e.cur.RxSize {
		return e.scheduleDelay(firmcore.LLPRxDelay, stateFramedRxPayload)
	}
	return e.scheduleDelay(firmcore.LLPRxDelay, stateFramedRxFooter0)
}

func (e *Engine) framedRxFooter0() (process.StateTag, process.Wait) {
	e.rxCRCHi = e.hw.TransferByte(0)
	return e.scheduleDelay(firmcore.LLPRxDelay, stateFramedRxFooter1)
}

func (e *Engine) framedRxFooter1() (process.StateTag, process.Wait) {
	lo := e.hw.TransferByte(0)
	got := uint16(e.rxCRCHi)<<8 | uint16(lo)
	if got != e.rxCRC {
		e.abort(firmcore.StatusResponseCRCFailure, process.KindSPIMErrorResponseCRCFailure)
		return stateIdle, process.WaitFor(kindContinue)
	}
	e.finish(e.cur, process.KindSPIMCompletedSuccessfully)
	return stateIdle, process.WaitFor(kindContinue)
}

// finish raises SS, clears trx's in-flight flags, unlinks it from the
// queue head, and notifies its owner. One failed or completed transfer
// never stalls the ones behind it.
func (e *Engine) finish(trx *Transaction, kind process.Kind) {
	token := e.cs.Enter()
	e.hw.EndTransfer(trx.SS)
	trx.queued = false
	trx.inTransmission = false
	if e.head == trx {
		e.head = trx.next
		if e.head == nil {
			e.tail = nil
		}
		e.qLen--
	}
	trx.next = nil
	e.cur = nil
	e.cs.Exit(token)

	if trx.owner != nil && e.procs != nil {
		e.procs.Post(trx.owner, kind, trx)
	}
}

func (e *Engine) abort(status firmcore.Status, kind process.Kind) {
	switch status {
	case firmcore.StatusSlaveNotReady:
		e.metrics.SpimSlaveNotReady.Add(1)
	case firmcore.StatusResponseCRCFailure:
		e.metrics.SpimCRCFailures.Add(1)
	}
	e.log.Warnf("spim: transfer aborted: status=%s", status)
	e.finish(e.cur, kind)
}
