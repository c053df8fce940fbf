// Package tick defines the scheduler's 16-bit wrapping time domain: a
// Tick wraps every 65536 units, and every comparison between two ticks
// must use signed-difference arithmetic so that a timer that has wrapped
// around still compares correctly against one that hasn't yet.
package tick

// Tick is one prescaled timer cycle. Arithmetic on Tick wraps silently,
// the same way the underlying 16-bit hardware-derived counter does.
type Tick uint16

// Add returns t + delta, wrapping on overflow.
func (t Tick) Add(delta uint16) Tick {
	return t + Tick(delta)
}

// Sub returns the signed difference t - u as an int16, the primitive
// every ordering comparison below is built from. It tolerates wraparound
// as long as the true distance between t and u is less than half the
// domain (32768 ticks), which every caller in this codebase guarantees by
// construction (deadlines are always scheduled well within that window).
func (t Tick) Sub(u Tick) int16 {
	return int16(t - u)
}

// Before reports whether t precedes u.
func (t Tick) Before(u Tick) bool {
	return t.Sub(u) < 0
}

// After reports whether t follows u.
func (t Tick) After(u Tick) bool {
	return t.Sub(u) > 0
}

// AtOrBefore reports whether t precedes or equals u.
func (t Tick) AtOrBefore(u Tick) bool {
	return t.Sub(u) <= 0
}

// Since returns how many ticks have elapsed from u to t, which may be
// negative if u is actually after t.
func (t Tick) Since(u Tick) int16 {
	return t.Sub(u)
}
