// Package scheduler implements the tick-accurate task scheduler: a
// fixed-capacity arena of task slots, each on exactly one of a free,
// waiting (deadline-ordered) or ready (FIFO) singly-linked list, driven by
// a hardware timer's compare-match interrupt.
package scheduler

import (
	"github.com/benchlab/firmcore"
	"github.com/benchlab/firmcore/internal/hal"
	"github.com/benchlab/firmcore/internal/logging"
	"github.com/benchlab/firmcore/tick"
)

// Task is the callback a scheduled TaskSlot invokes when its deadline
// elapses.
type Task func(data any)

// ExecResult reports what Exec did.
type ExecResult int

const (
	// Idle means the ready list was empty; no task ran.
	Idle ExecResult = iota
	// Executed means the ready head ran to completion.
	Executed
)

// taskSlot is one arena entry. It is always linked into exactly one of
// free, waiting or ready.
type taskSlot struct {
	deadline tick.Tick
	task     Task
	data     any
	inUse    bool
	next     *taskSlot
}

// Handle identifies a scheduled task slot. It exists for API symmetry
// with other subsystems; the scheduler has no cancellation, so a Handle
// cannot be used to unschedule anything (§5 "Cancellation and timeouts").
type Handle struct {
	slot *taskSlot
}

// Config sizes the scheduler's arena at construction. All scheduler
// state is fixed-capacity; there is no growth path.
type Config struct {
	TasksMax int
}

// DefaultConfig returns the tunables named in the core's configuration
// knobs: an 8-slot task arena.
func DefaultConfig() Config {
	return Config{TasksMax: firmcore.SchedTasksMax}
}

// Scheduler owns the task arena and the next-interrupt bookkeeping. A
// zero Scheduler is not usable; construct with New.
type Scheduler struct {
	cfg   Config
	cs    hal.CriticalSection
	timer hal.TimerHardware
	log   *logging.Logger

	slots []taskSlot

	free    *taskSlot
	waiting *taskSlot // head, ordered by deadline ascending

	readyHead *taskSlot
	readyTail *taskSlot

	nextInterruptTick tick.Tick
	compareValue      uint8 // last value written to timer.SetCompare
	metrics           *firmcore.Metrics
}

// New constructs a Scheduler with its own arena of cfg.TasksMax slots,
// all initially free, parked to never fire until the first Schedule call.
func New(cfg Config, cs hal.CriticalSection, timer hal.TimerHardware, metrics *firmcore.Metrics, log *logging.Logger) *Scheduler {
	if log == nil {
		log = logging.Default()
	}
	if metrics == nil {
		metrics = firmcore.NewMetrics()
	}
	s := &Scheduler{
		cfg:          cfg,
		cs:           cs,
		timer:        timer,
		log:          log,
		slots:        make([]taskSlot, cfg.TasksMax),
		metrics:      metrics,
		compareValue: 0xff,
	}
	for i := range s.slots {
		s.slots[i].next = s.free
		s.free = &s.slots[i]
	}
	s.timer.SetCompare(s.compareValue)
	return s
}

// currentTick derives logical "now" from the next scheduled interrupt
// tick minus however many hardware ticks remain before that interrupt
// fires, the same derivation the original firmware uses.
func (s *Scheduler) currentTick() tick.Tick {
	remaining := s.compareValue - s.timer.Counter()
	return s.nextInterruptTick - tick.Tick(remaining)
}

// Schedule pops a free slot and arms it to run fn(data) after the given
// number of ticks, or immediately (onto the ready tail) if ticks==0.
func (s *Scheduler) Schedule(ticks uint16, fn Task, data any) (Handle, error) {
	token := s.cs.Enter()
	defer s.cs.Exit(token)

	slot := s.free
	if slot == nil {
		s.metrics.SchedQueueFull.Add(1)
		s.log.Warn("schedule: no free task slots")
		return Handle{}, firmcore.New("schedule", firmcore.StatusQueueFull, "no free task slots")
	}
	s.free = slot.next
	slot.next = nil
	slot.task = fn
	slot.data = data
	slot.inUse = true

	if ticks == 0 {
		s.appendReady(slot)
		return Handle{slot: slot}, nil
	}

	now := s.currentTick()
	deadline := now.Add(ticks)
	slot.deadline = deadline
	wasHead := s.waiting == nil || deadline.Before(s.waiting.deadline)
	s.insertWaiting(slot)

	if wasHead && deadline.Before(s.nextInterruptTick) {
		s.program(now, deadline)
	}
	return Handle{slot: slot}, nil
}

// insertWaiting inserts slot into the deadline-ordered waiting list.
func (s *Scheduler) insertWaiting(slot *taskSlot) {
	if s.waiting == nil || slot.deadline.Before(s.waiting.deadline) {
		slot.next = s.waiting
		s.waiting = slot
		return
	}
	cur := s.waiting
	for cur.next != nil && !slot.deadline.Before(cur.next.deadline) {
		cur = cur.next
	}
	slot.next = cur.next
	cur.next = slot
}

func (s *Scheduler) appendReady(slot *taskSlot) {
	slot.next = nil
	if s.readyTail == nil {
		s.readyHead = slot
		s.readyTail = slot
		return
	}
	s.readyTail.next = slot
	s.readyTail = slot
}

// program reprograms the compare register so the next interrupt fires at
// deadline, clamped to the timer's 8-bit maximum.
func (s *Scheduler) program(now, deadline tick.Tick) {
	const timerMax = 0xff
	counter := s.timer.Counter()
	delta := deadline.Sub(now)
	if delta < 0 {
		delta = 0
	}
	if limit := int16(timerMax) - int16(counter); delta > limit {
		delta = limit
		deadline = now.Add(uint16(limit))
	}
	s.nextInterruptTick = deadline
	s.compareValue = counter + uint8(delta)
	s.timer.SetCompare(s.compareValue)
}

// parkAtMax programs the compare register as far out as possible because
// there is nothing waiting; used when the waiting list drains to empty.
func (s *Scheduler) parkAtMax(now tick.Tick) {
	s.program(now, now.Add(0xff))
}

// OnCompareMatch is the compare-match ISR entry point: every waiting node
// whose deadline has elapsed is moved to ready, in deadline order, and
// the compare is reprogrammed for the new head of waiting (or parked at
// the timer maximum if waiting is now empty).
func (s *Scheduler) OnCompareMatch() {
	token := s.cs.Enter()
	defer s.cs.Exit(token)

	now := s.nextInterruptTick
	for s.waiting != nil && s.waiting.deadline.AtOrBefore(now) {
		due := s.waiting
		s.waiting = due.next
		s.appendReady(due)
	}
	if s.waiting == nil {
		s.parkAtMax(now)
		return
	}
	s.program(now, s.waiting.deadline)
}

// Exec pops the ready head, if any, and runs its callback to completion,
// then returns the slot to free. Exactly one task runs per call.
func (s *Scheduler) Exec() ExecResult {
	token := s.cs.Enter()
	slot := s.readyHead
	if slot == nil {
		s.cs.Exit(token)
		return Idle
	}
	s.readyHead = slot.next
	if s.readyHead == nil {
		s.readyTail = nil
	}
	s.cs.Exit(token)

	fn, data := slot.task, slot.data
	fn(data)

	token = s.cs.Enter()
	slot.task = nil
	slot.data = nil
	slot.inUse = false
	slot.next = s.free
	s.free = slot
	s.cs.Exit(token)

	s.metrics.SchedExecCount.Add(1)
	return Executed
}

// Pending reports whether any task is waiting or ready. kernel.Step does
// not consult it; it decides whether to idle from Exec's result instead.
func (s *Scheduler) Pending() bool {
	token := s.cs.Enter()
	defer s.cs.Exit(token)
	return s.waiting != nil || s.readyHead != nil
}
