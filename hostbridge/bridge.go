// Package hostbridge drives the SPI master link-layer protocol over a
// USB-serial-to-SPI adapter, for exercising the framed protocol (spec.md
// §4.E, §6) against physical bench hardware rather than a fake. Grounded
// on other_examples' amken3d-gopper host transport: a host-side
// io.ReadWriteCloser wrapping a serial port, one byte exchanged per call
// rather than gopper's own framed-message batching, since this bridge
// only needs to stand in for hal.SPIMasterHardware's single-byte
// TransferByte primitive — framing and CRC stay entirely in spim.Engine.
package hostbridge

import (
	"fmt"

	"github.com/tarm/serial"

	"github.com/benchlab/firmcore/internal/hal"
)

// Config names the serial device the adapter enumerates as and the baud
// rate it was flashed to run at.
type Config struct {
	Device string
	Baud   int
}

// DefaultConfig returns the bridge firmware's documented defaults.
func DefaultConfig(device string) Config {
	return Config{Device: device, Baud: 115200}
}

// Bridge implements hal.SPIMasterHardware by forwarding every
// TransferByte call across a serial link to a USB-SPI adapter: it writes
// the outgoing byte and reads back whatever the adapter clocked in from
// the remote SPI slave. BeginTransfer/EndTransfer toggle the
// caller-supplied chip-select pin directly, exactly as the in-process
// hal.SPIMasterHardware implementations do — the adapter's own SS line
// is not involved, it exists purely to turn bytes into SPI clock edges.
type Bridge struct {
	port *serial.Port
}

// Open opens the serial device named in cfg and returns a Bridge ready
// to be handed to spim.New as its hal.SPIMasterHardware.
func Open(cfg Config) (*Bridge, error) {
	port, err := serial.OpenPort(&serial.Config{Name: cfg.Device, Baud: cfg.Baud})
	if err != nil {
		return nil, fmt.Errorf("hostbridge: open %s: %w", cfg.Device, err)
	}
	return &Bridge{port: port}, nil
}

// BeginTransfer asserts ss. The adapter itself is stateless between
// transfers; chip-select is entirely the caller's GPIO concern.
func (b *Bridge) BeginTransfer(ss hal.Pin) {
	ss.Low()
}

// EndTransfer deasserts ss.
func (b *Bridge) EndTransfer(ss hal.Pin) {
	ss.High()
}

// TransferByte writes out and reads back exactly one byte from the
// adapter, blocking until the reply arrives. A transport error is
// treated as the slave clocking in zero, the same fallback
// FakeSPIMasterHardware uses when nothing is armed — during the request
// phase the master's LLP handshake classifies an unexpected zero as
// StatusSlaveNotReady rather than the bridge inventing its own error
// channel.
func (b *Bridge) TransferByte(out byte) byte {
	if _, err := b.port.Write([]byte{out}); err != nil {
		return 0
	}
	buf := make([]byte, 1)
	if n, err := b.port.Read(buf); err != nil || n != 1 {
		return 0
	}
	return buf[0]
}

// Close releases the underlying serial port.
func (b *Bridge) Close() error {
	return b.port.Close()
}

var _ hal.SPIMasterHardware = (*Bridge)(nil)
