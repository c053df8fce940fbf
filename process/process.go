// Package process implements the cooperative, stackless coroutine
// framework: processes are resumed at a labelled point via an explicit
// state tag, driven by events delivered through a bounded FIFO ring
// shared with interrupt handlers.
package process

import (
	"github.com/benchlab/firmcore"
	"github.com/benchlab/firmcore/internal/hal"
	"github.com/benchlab/firmcore/internal/logging"
)

// StateTag is a process's resumption point. Zero is always the initial
// state; a Thread function receiving StateTag(0) is being started fresh.
// Threads that need to survive across yields store whatever locals they
// need alongside the Process (in an embedding struct or a side map),
// the same way the original firmware promotes "static" locals into the
// process record.
type StateTag int

// Thread is a process's body. It runs until its next yield point,
// returning the StateTag to resume at on the next matching event. The
// returned Wait describes what the engine should deliver next.
type Thread func(p *Process, ev Event) (StateTag, Wait)

// WaitKind selects what condition ends a process's current suspension.
type WaitKind int

const (
	// WaitAny resumes on the next event of any kind.
	WaitAny WaitKind = iota
	// WaitKinds resumes only on an event whose Kind is in the given set.
	WaitKinds
	// WaitUntil resumes once Predicate returns true, re-evaluated every
	// time an event is dispatched to this process.
	WaitUntil
)

// Wait describes a process's suspension request, returned from Thread
// alongside the next StateTag.
type Wait struct {
	Kind      WaitKind
	Kinds     []Kind
	Predicate func() bool
}

func waitAny() Wait { return Wait{Kind: WaitAny} }

// WaitFor suspends until an event matching one of kinds is dispatched.
// With no kinds it resumes on the next event of any kind.
func WaitFor(kinds ...Kind) Wait {
	if len(kinds) == 0 {
		return waitAny()
	}
	return Wait{Kind: WaitKinds, Kinds: kinds}
}

// WaitUntilTrue suspends, re-checking pred on every dispatched event,
// until pred returns true.
func WaitUntilTrue(pred func() bool) Wait { return Wait{Kind: WaitUntil, Predicate: pred} }

// Process is a long-lived cooperative agent. Thread-specific persistent
// state belongs on an embedding struct that holds a *Process, not inside
// this one — Process only tracks engine bookkeeping.
type Process struct {
	thread  Thread
	state   StateTag
	wait    Wait
	started bool
	next    *Process
}

// New creates a Process bound to the given thread body. It is not linked
// into any Engine until Start is called.
func New(thread Thread) *Process {
	return &Process{thread: thread, wait: waitAny()}
}

// State returns the process's current resumption tag, for thread bodies
// that want to preserve it unchanged across an event they don't act on.
func (p *Process) State() StateTag { return p.state }

// matches reports whether ev should be dispatched to p given its current
// wait request.
func (p *Process) matches(ev Event) bool {
	switch p.wait.Kind {
	case WaitAny:
		return true
	case WaitKinds:
		for _, k := range p.wait.Kinds {
			if k == ev.Kind {
				return true
			}
		}
		return false
	case WaitUntil:
		return p.wait.Predicate == nil || p.wait.Predicate()
	default:
		return true
	}
}

// Engine owns the global process list and the shared event ring.
type Engine struct {
	cs      hal.CriticalSection
	log     *logging.Logger
	metrics *firmcore.Metrics
	ring    *ring
	head    *Process
}

// Config sizes an Engine's event ring at construction.
type Config struct {
	EventQueueSize int
}

// DefaultConfig returns the core's default event ring capacity.
func DefaultConfig() Config {
	return Config{EventQueueSize: firmcore.EventQueueSize}
}

// NewEngine constructs an Engine with its own event ring.
func NewEngine(cfg Config, cs hal.CriticalSection, metrics *firmcore.Metrics, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.Default()
	}
	if metrics == nil {
		metrics = firmcore.NewMetrics()
	}
	return &Engine{
		cs:      cs,
		log:     log,
		metrics: metrics,
		ring:    newRing(cs, cfg.EventQueueSize),
	}
}

// Start links p into the engine's process list and posts the implicit
// INIT event, idempotent by pointer identity.
func (e *Engine) Start(p *Process) error {
	token := e.cs.Enter()
	if e.contains(p) {
		e.cs.Exit(token)
		return firmcore.New("start", firmcore.StatusAlreadyStarted, "process already started")
	}
	p.next = e.head
	e.head = p
	p.started = true
	p.state = 0
	p.wait = waitAny()
	e.cs.Exit(token)

	return e.Post(p, KindInit, nil)
}

// contains performs a linear identity scan of the process list. Must be
// called with the critical section already held.
func (e *Engine) contains(p *Process) bool {
	for cur := e.head; cur != nil; cur = cur.next {
		if cur == p {
			return true
		}
	}
	return false
}

// Stop unlinks p from the process list. Its coroutine state is abandoned
// without running any cleanup code.
func (e *Engine) Stop(p *Process) error {
	token := e.cs.Enter()
	defer e.cs.Exit(token)

	if e.head == p {
		e.head = p.next
		p.started = false
		p.next = nil
		return nil
	}
	for cur := e.head; cur != nil; cur = cur.next {
		if cur.next == p {
			cur.next = p.next
			p.started = false
			p.next = nil
			return nil
		}
	}
	return firmcore.New("stop", firmcore.StatusNotStarted, "process not started")
}

// Post appends an event targeting p into the shared ring.
func (e *Engine) Post(p *Process, kind Kind, data any) error {
	return e.ring.push(e.metrics, Event{Target: p, Kind: kind, Data: data})
}

// Execute pops one event and, if its target process is still started and
// currently waiting on a matching condition, dispatches it to the
// process's thread body. Events for a process no longer waiting on a
// matching kind/predicate are dropped, the same way the original
// firmware only "wakes" a process whose current yield matches.
func (e *Engine) Execute() {
	ev, ok := e.ring.pop()
	if !ok {
		return
	}
	p := ev.Target
	if p == nil || !p.started {
		return
	}

	token := e.cs.Enter()
	started := e.contains(p)
	e.cs.Exit(token)
	if !started {
		return
	}

	if !p.matches(ev) {
		return
	}

	next, wait := p.thread(p, ev)
	p.state = next
	p.wait = wait
	e.metrics.EventsExecuted.Add(1)
}

// Pending reports whether the event ring has anything left to execute.
func (e *Engine) Pending() bool {
	return e.ring.len() > 0
}
