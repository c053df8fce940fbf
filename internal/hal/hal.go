// Package hal defines the hardware collaborator interfaces the core
// depends on but never implements itself: a timer/counter, an ADC
// multiplexer, two SPI shift-register peripherals, a critical-section
// primitive and a GPIO pin. Real targets implement these against AVR
// registers; tests and host tooling implement them against fakes or
// Linux syscalls.
package hal

import "periph.io/x/conn/v3/physic"

// CriticalSection disables and restores whatever stands in for interrupts
// in the calling environment, the same role ATOMIC_BLOCK plays in the
// original firmware. Implementations must nest safely.
type CriticalSection interface {
	// Enter disables interrupts and returns a token that must be passed
	// to Exit to restore the prior state.
	Enter() (token uint32)
	Exit(token uint32)
}

// TimerHardware is the free-running hardware counter the scheduler and
// clock are built on: an 8-bit counter plus a compare-match interrupt.
type TimerHardware interface {
	// Counter returns the current hardware counter value.
	Counter() uint8

	// SetCompare programs the compare register; a compare-match interrupt
	// fires when Counter reaches this value.
	SetCompare(v uint8)

	// Frequency reports the timer's tick rate, used only to translate
	// Tick-domain durations into physical time for logging/diagnostics.
	Frequency() physic.Frequency
}

// ADCHardware is the analog-to-digital converter peripheral: a channel
// multiplexer and a single conversion register.
type ADCHardware interface {
	// SelectChannel programs the MUX for the next conversion.
	SelectChannel(channel int)

	// StartConversion begins a conversion on the currently selected
	// channel.
	StartConversion()

	// Result returns the last completed conversion's raw value.
	Result() uint16

	// SetDigitalInputEnabled toggles the digital input buffer on a pin
	// shared with an analog channel; disabling it reduces analog noise
	// and power draw while the channel is sampled.
	SetDigitalInputEnabled(channel int, enabled bool)
}

// SPIMasterHardware is the shift register driving a framed or simple SPI
// transfer as bus master.
type SPIMasterHardware interface {
	// BeginTransfer asserts the given pin as slave-select.
	BeginTransfer(ss Pin)

	// EndTransfer deasserts the slave-select pin.
	EndTransfer(ss Pin)

	// TransferByte shifts out b and returns the byte shifted in.
	TransferByte(b byte) byte
}

// SPISlaveHardware is the shift register servicing a transfer as bus
// slave, driven by the remote master's clock.
type SPISlaveHardware interface {
	// SetResponseByte arms the next byte to shift out when the master
	// next clocks the bus.
	SetResponseByte(b byte)

	// LastReceived returns the byte most recently shifted in.
	LastReceived() byte

	// SlaveSelected reports whether the slave-select pin is currently
	// asserted by the master.
	SlaveSelected() bool
}

// Pin is a single digital GPIO line, the minimal surface the core needs
// for slave-select signaling.
type Pin interface {
	High()
	Low()
	Read() bool
}
