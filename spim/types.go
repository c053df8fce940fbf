// Package spim implements the SPI master: a FIFO transaction queue driven
// by a single process, supporting both a plain byte-stream transfer and
// the framed, CRC-protected link-layer protocol (LLP) with its
// handshake-strict inter-byte timing.
package spim

import (
	"github.com/benchlab/firmcore/internal/hal"
	"github.com/benchlab/firmcore/process"
)

// Reserved LLP type bytes. TypeRxProcessing is the slave's padding byte
// while it is still preparing a response; values above it are errors,
// satisfying a single greater-than comparison for classification.
const (
	TypeRxProcessing           byte = 0xF0
	TypeErrCRCFailure          byte = 0xF1
	TypeErrMessageTooLarge     byte = 0xF2
	TypeErrSlaveNotReady       byte = 0xF3
	TypeErrSlaveResponseInvalid byte = 0xF4
)

// Kind distinguishes the two transaction flavors a Transaction can carry.
type Kind int

const (
	// KindSimple is a plain byte-stream transfer with no framing.
	KindSimple Kind = iota
	// KindFramed is a link-layer-protocol exchange.
	KindFramed
)

// Transaction is one queued SPI master transfer. Exactly one field group
// (Tx/RxBuf for Simple, TxType/TxPayload/RxType/RxPayload for Framed) is
// meaningful depending on Kind.
type Transaction struct {
	Kind Kind
	SS   hal.Pin
	Data any // opaque payload handed back unchanged in the completion event

	// Simple transfer fields.
	Tx    []byte
	RxBuf []byte
	RxN   int // number of bytes actually clocked into RxBuf

	// Framed (LLP) transfer fields.
	TxType    byte
	TxPayload []byte
	RxType    byte
	RxPayload []byte // caller-supplied buffer; capacity bounds the response
	RxSize    int    // bytes actually received into RxPayload

	owner          *process.Process
	queued         bool
	inTransmission bool
	next           *Transaction
}

// IsQueued reports whether t is currently on the master's FIFO.
func (t *Transaction) IsQueued() bool { return t.queued }

// IsInTransmission reports whether t is the transaction currently being
// clocked.
func (t *Transaction) IsInTransmission() bool { return t.inTransmission }
