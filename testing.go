package firmcore

import (
	"sync"

	"periph.io/x/conn/v3/physic"

	"github.com/benchlab/firmcore/internal/hal"
)

// FakePin is an in-memory hal.Pin for tests.
type FakePin struct {
	mu    sync.Mutex
	level bool
}

func (p *FakePin) High()      { p.mu.Lock(); defer p.mu.Unlock(); p.level = true }
func (p *FakePin) Low()       { p.mu.Lock(); defer p.mu.Unlock(); p.level = false }
func (p *FakePin) Read() bool { p.mu.Lock(); defer p.mu.Unlock(); return p.level }

// FakeCriticalSection is a hal.CriticalSection for single-goroutine tests
// that counts Enter calls and tracks nesting depth: Enter returns the depth
// it found and Exit restores it, the way saving and restoring the interrupt
// mask lets an ISR-driven path nest inside another critical section. It
// does not exclude other goroutines.
type FakeCriticalSection struct {
	mu      sync.Mutex
	entries int
	depth   int
}

func (c *FakeCriticalSection) Enter() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries++
	c.depth++
	return uint32(c.depth - 1)
}

func (c *FakeCriticalSection) Exit(token uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.depth = int(token)
}

// Entries returns how many times Enter has been called, for tests that
// want to assert a code path took the lock.
func (c *FakeCriticalSection) Entries() int {
	return c.entries
}

var _ hal.CriticalSection = (*FakeCriticalSection)(nil)

// FakeTimerHardware is a hal.TimerHardware double driven entirely by
// test code calling Advance; it never fires on its own.
type FakeTimerHardware struct {
	mu      sync.Mutex
	counter uint8
	compare uint8
	freq    physic.Frequency
}

// NewFakeTimerHardware returns a FakeTimerHardware at counter 0 running
// at the given nominal frequency (purely descriptive; it does not
// self-advance).
func NewFakeTimerHardware(freq physic.Frequency) *FakeTimerHardware {
	return &FakeTimerHardware{freq: freq}
}

func (f *FakeTimerHardware) Counter() uint8 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counter
}

func (f *FakeTimerHardware) SetCompare(v uint8) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.compare = v
}

func (f *FakeTimerHardware) Compare() uint8 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.compare
}

func (f *FakeTimerHardware) Frequency() physic.Frequency {
	return f.freq
}

// Advance increments the counter by n one step at a time. In CTC mode a
// real AVR timer resets its counter to 0 on every compare match, so this
// fake does the same: a match zeroes the counter before the next
// increment, the same way repeated Schedule/OnCompareMatch cycles would
// see a fresh countdown toward the newly programmed compare value.
func (f *FakeTimerHardware) Advance(n uint8) (matched bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := uint8(0); i < n; i++ {
		f.counter++
		if f.counter == f.compare {
			matched = true
			f.counter = 0
		}
	}
	return matched
}

var _ hal.TimerHardware = (*FakeTimerHardware)(nil)

// FakeADCHardware is a hal.ADCHardware double; test code pushes
// conversion results via SetNextResult and reads back the selected
// channel and digital-input state.
type FakeADCHardware struct {
	mu                  sync.Mutex
	selectedChannel     int
	nextResult          uint16
	digitalInputEnabled map[int]bool
	conversionsStarted  int
}

func NewFakeADCHardware() *FakeADCHardware {
	return &FakeADCHardware{digitalInputEnabled: make(map[int]bool)}
}

func (a *FakeADCHardware) SelectChannel(channel int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.selectedChannel = channel
}

func (a *FakeADCHardware) StartConversion() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.conversionsStarted++
}

func (a *FakeADCHardware) Result() uint16 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nextResult
}

func (a *FakeADCHardware) SetDigitalInputEnabled(channel int, enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.digitalInputEnabled[channel] = enabled
}

// SetNextResult arms the value Result() will return for the next
// conversion.
func (a *FakeADCHardware) SetNextResult(v uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextResult = v
}

func (a *FakeADCHardware) SelectedChannel() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.selectedChannel
}

func (a *FakeADCHardware) DigitalInputEnabled(channel int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.digitalInputEnabled[channel]
}

func (a *FakeADCHardware) ConversionsStarted() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conversionsStarted
}

var _ hal.ADCHardware = (*FakeADCHardware)(nil)

// FakeSPIMasterHardware is a hal.SPIMasterHardware double backed by a
// scripted response queue: each TransferByte call pops the next armed
// response, or returns 0 if none is armed.
type FakeSPIMasterHardware struct {
	mu         sync.Mutex
	sent       []byte
	responses  []byte
	ssAsserted bool
}

func NewFakeSPIMasterHardware() *FakeSPIMasterHardware {
	return &FakeSPIMasterHardware{}
}

func (m *FakeSPIMasterHardware) BeginTransfer(ss hal.Pin) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ss.Low()
	m.ssAsserted = true
}

func (m *FakeSPIMasterHardware) EndTransfer(ss hal.Pin) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ss.High()
	m.ssAsserted = false
}

func (m *FakeSPIMasterHardware) TransferByte(b byte) byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, b)
	if len(m.responses) == 0 {
		return 0
	}
	r := m.responses[0]
	m.responses = m.responses[1:]
	return r
}

// QueueResponses arms the bytes the slave side will return, in order.
func (m *FakeSPIMasterHardware) QueueResponses(bytes ...byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, bytes...)
}

// Sent returns every byte shifted out so far.
func (m *FakeSPIMasterHardware) Sent() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, len(m.sent))
	copy(out, m.sent)
	return out
}

var _ hal.SPIMasterHardware = (*FakeSPIMasterHardware)(nil)

// FakeSPISlaveHardware is a hal.SPISlaveHardware double; test code
// drives SlaveSelect and ClockIn to simulate the remote master.
type FakeSPISlaveHardware struct {
	mu           sync.Mutex
	response     byte
	lastReceived byte
	selected     bool
}

func NewFakeSPISlaveHardware() *FakeSPISlaveHardware {
	return &FakeSPISlaveHardware{}
}

func (s *FakeSPISlaveHardware) SetResponseByte(b byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.response = b
}

func (s *FakeSPISlaveHardware) LastReceived() byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReceived
}

// NextArmed returns whatever byte SetResponseByte last set, for tests
// that want to inspect what the slave will shift out on the next clock
// without driving a full ClockIn round trip.
func (s *FakeSPISlaveHardware) NextArmed() byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.response
}

func (s *FakeSPISlaveHardware) SlaveSelected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// SetSlaveSelect simulates the master asserting or releasing the
// slave-select line.
func (s *FakeSPISlaveHardware) SetSlaveSelect(asserted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = asserted
}

// ClockIn simulates one SPI clock transaction: the master shifts in b
// and receives back whatever response byte was last armed.
func (s *FakeSPISlaveHardware) ClockIn(b byte) byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastReceived = b
	return s.response
}

var _ hal.SPISlaveHardware = (*FakeSPISlaveHardware)(nil)
