//go:build linux

// Package hostclock implements hal.TimerHardware against a Linux
// timerfd instead of a real AVR 8-bit compare-match timer, so the
// scheduler can be driven by wall-clock time on a development host
// (hardware-in-the-loop simulation, not part of the core itself —
// spec.md §1 places the timer/interrupt hardware out of scope). Grounded
// on the teacher's direct golang.org/x/sys/unix use for low-level kernel
// interaction (internal/queue/runner.go's mmap/ioctl calls against the
// ublk char device).
package hostclock

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"periph.io/x/conn/v3/physic"

	"github.com/benchlab/firmcore/internal/hal"
)

// Timer is a hal.TimerHardware backed by a periodic timerfd. Every
// expiration of the underlying fd increments an 8-bit counter and, when
// it matches the last-programmed compare value, invokes OnCompareMatch
// synchronously on the reader goroutine — standing in for the real
// compare-match interrupt vector.
type Timer struct {
	fd   int
	freq physic.Frequency

	counter atomic.Uint32 // low 8 bits are the logical hardware counter
	compare atomic.Uint32

	onCompareMatch func()

	mu      sync.Mutex
	closed  bool
	stopped chan struct{}
	done    chan struct{}
}

// New creates a Timer that fires every tickPeriod, calling onCompareMatch
// (which must be safe to call from a goroutine other than the one that
// created the Timer) whenever the counter reaches the programmed compare
// value. tickPeriod should match internal/constants.HostClockTick unless the
// caller deliberately wants a different host-simulated tick rate.
func New(tickPeriod time.Duration, onCompareMatch func()) (*Timer, error) {
	if tickPeriod <= 0 {
		return nil, fmt.Errorf("hostclock: tick period must be positive")
	}
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, 0)
	if err != nil {
		return nil, fmt.Errorf("hostclock: timerfd_create: %w", err)
	}

	spec := unix.NsecToTimespec(tickPeriod.Nanoseconds())
	it := &unix.ItimerSpec{Interval: spec, Value: spec}
	if err := unix.TimerfdSettime(fd, 0, it, nil); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("hostclock: timerfd_settime: %w", err)
	}

	t := &Timer{
		fd:             fd,
		freq:           physic.Frequency(time.Second/tickPeriod) * physic.Hertz,
		onCompareMatch: onCompareMatch,
		stopped:        make(chan struct{}),
		done:           make(chan struct{}),
	}
	t.compare.Store(0xff)
	go t.readLoop()
	return t, nil
}

// Counter returns the current 8-bit logical hardware counter.
func (t *Timer) Counter() uint8 {
	return uint8(t.counter.Load())
}

// SetCompare programs the value the counter must reach for
// onCompareMatch to fire again.
func (t *Timer) SetCompare(v uint8) {
	t.compare.Store(uint32(v))
}

// Frequency reports the nominal tick rate timerfd was armed with.
func (t *Timer) Frequency() physic.Frequency {
	return t.freq
}

// readLoop blocks on the timerfd and advances the counter once per
// expiration reported, firing onCompareMatch on every match the same
// way a real compare-match ISR would, one match at a time even if the
// host scheduler coalesced several expirations into one read.
func (t *Timer) readLoop() {
	defer close(t.done)
	buf := make([]byte, 8)
	for {
		n, err := unix.Read(t.fd, buf)
		select {
		case <-t.stopped:
			return
		default:
		}
		if err != nil || n != 8 {
			continue
		}
		expirations := binary.LittleEndian.Uint64(buf)
		for i := uint64(0); i < expirations; i++ {
			newVal := uint8(t.counter.Add(1))
			if newVal == uint8(t.compare.Load()) && t.onCompareMatch != nil {
				t.onCompareMatch()
			}
		}
	}
}

// Close stops the read loop and releases the underlying timerfd.
func (t *Timer) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	close(t.stopped)
	err := unix.Close(t.fd)
	<-t.done
	return err
}

var _ hal.TimerHardware = (*Timer)(nil)
