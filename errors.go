// Package firmcore implements the core of a lab-bench power-supply
// controller's firmware: a tick-accurate task scheduler, a cooperative
// protothread process framework, a multiplexed ADC acquisition engine, and
// a framed SPI master/slave link-layer protocol.
package firmcore

import (
	"errors"
	"fmt"
)

// Status is the high-level error taxonomy every API surface in the core
// reports explicitly; the runtime never panics or blocks on an error path.
type Status string

const (
	// Capacity.
	StatusQueueFull Status = "queue full"

	// Already-present / not-present.
	StatusAlreadyStarted Status = "already started"
	StatusNotStarted     Status = "not started"
	StatusAlreadyQueued  Status = "already queued"
	StatusAlreadyInList  Status = "already in list"

	// Argument validation.
	StatusInvalidChannel       Status = "invalid channel"
	StatusInvalidNbOversamples Status = "invalid number of oversamples"
	StatusInvalidSkip          Status = "invalid skip mask"
	StatusBufIsNull            Status = "buffer is null"
	StatusCallbackIsNull       Status = "callback is null"
	StatusInvalidType          Status = "invalid type"
	StatusNoTrxInProgress      Status = "no transaction in progress"

	// Protocol.
	StatusCRCFailure         Status = "crc failure"
	StatusMessageTooLarge    Status = "message too large"
	StatusResponseTooLarge   Status = "response too large"
	StatusResponseCRCFailure Status = "response crc failure"
	StatusNoResponse         Status = "no response"
	StatusSlaveNotReady      Status = "slave not ready"
	StatusSlave              Status = "slave error"
)

// Error is a structured error carrying the operation, status code and
// whatever tick/queue context is available.
type Error struct {
	Op     string // operation that failed, e.g. "schedule", "adc_enable"
	Status Status
	Tick   int64 // -1 if not applicable
	Queue  int   // -1 if not applicable
	Msg    string
	Inner  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Status)
	}
	switch {
	case e.Tick >= 0:
		return fmt.Sprintf("firmcore: %s: %s (tick=%d)", e.Op, msg, e.Tick)
	case e.Queue >= 0:
		return fmt.Sprintf("firmcore: %s: %s (queue=%d)", e.Op, msg, e.Queue)
	case e.Op != "":
		return fmt.Sprintf("firmcore: %s: %s", e.Op, msg)
	default:
		return fmt.Sprintf("firmcore: %s", msg)
	}
}

func (e *Error) Unwrap() error { return e.Inner }

// Is supports errors.Is against both *Error (compared by Status) and a
// bare Status sentinel produced by Status.Err().
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if s, ok := target.(statusError); ok {
		return e.Status == Status(s)
	}
	if te, ok := target.(*Error); ok {
		return e.Status == te.Status
	}
	return false
}

// statusError lets a bare Status be used as an errors.Is target, e.g.
// errors.Is(err, firmcore.StatusQueueFull.Err()).
type statusError Status

func (s statusError) Error() string { return string(s) }

// Err wraps a Status as a comparable sentinel error.
func (s Status) Err() error { return statusError(s) }

// New creates a structured error with no tick/queue context.
func New(op string, status Status, msg string) *Error {
	return &Error{Op: op, Status: status, Tick: -1, Queue: -1, Msg: msg}
}

// NewAtTick creates a structured error scoped to a scheduler/ADC pipeline
// tick.
func NewAtTick(op string, status Status, tick uint16, msg string) *Error {
	return &Error{Op: op, Status: status, Tick: int64(tick), Queue: -1, Msg: msg}
}

// NewForQueue creates a structured error scoped to an SPI transaction
// queue position.
func NewForQueue(op string, status Status, queue int, msg string) *Error {
	return &Error{Op: op, Status: status, Tick: -1, Queue: queue, Msg: msg}
}

// Wrap attaches operation context to an inner error, preserving status if
// the inner error is already a structured *Error.
func Wrap(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	var e *Error
	if errors.As(inner, &e) {
		return &Error{Op: op, Status: e.Status, Tick: e.Tick, Queue: e.Queue, Msg: e.Msg, Inner: inner}
	}
	return &Error{Op: op, Status: StatusSlave, Tick: -1, Queue: -1, Msg: inner.Error(), Inner: inner}
}

// Is reports whether err carries the given status code.
func Is(err error, status Status) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Status == status
	}
	return errors.Is(err, status.Err())
}
