// Package adc implements the analog acquisition engine: a sorted list of
// enabled channel measurements multiplexed across one physical ADC
// peripheral, pipelined three deep across the conversion-complete
// interrupt and the foreground process that consumes it.
package adc

import (
	"math/bits"

	"github.com/benchlab/firmcore"
	"github.com/benchlab/firmcore/internal/hal"
	"github.com/benchlab/firmcore/internal/logging"
	"github.com/benchlab/firmcore/process"
)

// validOversamples is the set of legal per-measurement oversample counts.
var validOversamples = map[int]bool{1: true, 4: true, 16: true, 64: true, 256: true}

// validSkip is the set of legal skip masks.
var validSkip = map[uint8]bool{0: true, 1: true, 3: true, 7: true, 15: true}

// Channel is one enabled measurement. Duplicate entries for the same
// physical channel index, with different oversample/skip settings, are
// permitted and coexist independently.
type Channel struct {
	Index       int
	Oversamples int
	Skip        uint8

	nextValue           uint32
	value                uint16
	oversamplesRemaining int
	enabled              bool
	owner                *process.Process

	next *Channel
}

// Value returns the latched, left-aligned measurement from the most
// recently completed oversample cycle.
func (c *Channel) Value() uint16 { return c.value }

// Enabled reports whether this channel entry currently participates in
// the conversion pipeline.
func (c *Channel) Enabled() bool { return c.enabled }

// Engine owns the sorted channel list and the three-deep conversion
// pipeline. A zero Engine is not usable; construct with New.
type Engine struct {
	cs      hal.CriticalSection
	hw      hal.ADCHardware
	log     *logging.Logger
	metrics *firmcore.Metrics
	procs   *process.Engine
	self    *process.Process

	list *Channel // sorted by Index ascending

	current  *Channel
	next     *Channel
	nextNext *Channel

	period           uint8
	consideredCursor *Channel
}

// New constructs an Engine bound to the given ADC hardware collaborator.
// Attach must be called once to register it with a process.Engine before
// any conversion completes.
func New(cs hal.CriticalSection, hw hal.ADCHardware, metrics *firmcore.Metrics, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.Default()
	}
	if metrics == nil {
		metrics = firmcore.NewMetrics()
	}
	return &Engine{cs: cs, hw: hw, log: log, metrics: metrics}
}

// Attach registers the engine's foreground handler as a process on procs
// so that ADC_CONVERSION_COMPLETE events get consumed, and kicks off the
// hardware's free-running conversion trigger.
func (e *Engine) Attach(procs *process.Engine) error {
	e.procs = procs
	e.self = process.New(e.thread)
	e.hw.StartConversion()
	return procs.Start(e.self)
}

// NewChannel creates a Channel with the given configuration, validating
// oversamples and skip per the core's argument-validation taxonomy.
func NewChannel(index, oversamples int, skip uint8, owner *process.Process) (*Channel, error) {
	if index < 0 || index > 7 {
		return nil, firmcore.New("adc_enable", firmcore.StatusInvalidChannel, "channel must be 0-7")
	}
	if !validOversamples[oversamples] {
		return nil, firmcore.New("adc_enable", firmcore.StatusInvalidNbOversamples, "oversamples must be one of 1,4,16,64,256")
	}
	if !validSkip[skip] {
		return nil, firmcore.New("adc_enable", firmcore.StatusInvalidSkip, "skip must be one of 0,1,3,7,15")
	}
	return &Channel{
		Index:                index,
		Oversamples:          oversamples,
		Skip:                 skip,
		oversamplesRemaining: oversamples,
		owner:                owner,
	}, nil
}

// Enable inserts ch into the sorted channel list, marks it enabled,
// disables the shared digital input buffer on its pin, and posts
// ADC_LIST_CHANGED so the foreground refill can pick it up.
func (e *Engine) Enable(ch *Channel) error {
	token := e.cs.Enter()
	e.insertSorted(ch)
	ch.enabled = true
	e.hw.SetDigitalInputEnabled(ch.Index, false)
	e.cs.Exit(token)

	if e.procs != nil && e.self != nil {
		return e.procs.Post(e.self, process.KindADCListChanged, ch)
	}
	return nil
}

func (e *Engine) insertSorted(ch *Channel) {
	if e.list == nil || ch.Index < e.list.Index {
		ch.next = e.list
		e.list = ch
		return
	}
	cur := e.list
	for cur.next != nil && cur.next.Index <= ch.Index {
		cur = cur.next
	}
	ch.next = cur.next
	cur.next = ch
}

// Disable unlinks ch from the channel list, clears its enabled flag, and
// re-enables the digital input buffer on its pin iff no other enabled
// entry references the same physical channel.
func (e *Engine) Disable(ch *Channel) {
	token := e.cs.Enter()
	defer e.cs.Exit(token)

	if e.list == ch {
		e.list = ch.next
	} else {
		for cur := e.list; cur != nil; cur = cur.next {
			if cur.next == ch {
				cur.next = ch.next
				break
			}
		}
	}
	ch.enabled = false
	ch.next = nil

	if e.consideredCursor == ch {
		e.consideredCursor = nil
	}
	if e.next == ch {
		e.next = nil
	}
	if e.nextNext == ch {
		e.nextNext = nil
	}

	onlyReferenced := false
	for cur := e.list; cur != nil; cur = cur.next {
		if cur.enabled && cur.Index == ch.Index {
			onlyReferenced = true
			break
		}
	}
	if !onlyReferenced {
		e.hw.SetDigitalInputEnabled(ch.Index, true)
	}
}

// OnConversionComplete is the conversion-complete ISR: it programs the
// MUX for the channel after next, accumulates the just-finished sample
// into current's running total if current is still enabled, posts
// ADC_CONVERSION_COMPLETE, and shifts the pipeline forward one slot.
func (e *Engine) OnConversionComplete() {
	token := e.cs.Enter()

	nn := e.nextNext
	if nn != nil {
		e.hw.SelectChannel(nn.Index)
	} else {
		e.hw.SelectChannel(0)
	}

	cur := e.current
	var postTarget *Channel
	if cur != nil && cur.enabled {
		cur.nextValue += uint32(e.hw.Result())
		postTarget = cur
	}

	e.current = e.next
	e.next = e.nextNext
	e.nextNext = nil
	e.cs.Exit(token)

	if postTarget != nil && e.procs != nil && e.self != nil {
		e.procs.Post(e.self, process.KindADCConversionComplete, postTarget)
	}
}

// thread is the foreground process body reacting to ADC_CONVERSION_COMPLETE
// and ADC_LIST_CHANGED events.
func (e *Engine) thread(p *process.Process, ev process.Event) (process.StateTag, process.Wait) {
	switch ev.Kind {
	case process.KindADCConversionComplete:
		if ch, ok := ev.Data.(*Channel); ok {
			e.handleCompletedConversion(ch)
		}
	case process.KindADCListChanged:
	}
	e.refillNextNext()
	return p.State(), process.WaitFor(process.KindADCConversionComplete, process.KindADCListChanged)
}

// handleCompletedConversion decrements ch's oversample counter; once it
// reaches zero the accumulated total is latched, left-aligned, the
// counter reloaded, and ADC_MEASUREMENT_COMPLETED posted to ch's owner.
func (e *Engine) handleCompletedConversion(ch *Channel) {
	token := e.cs.Enter()
	ch.oversamplesRemaining--
	done := ch.oversamplesRemaining <= 0
	var accum uint32
	if done {
		accum = ch.nextValue
		ch.nextValue = 0
		ch.oversamplesRemaining = ch.Oversamples
	}
	e.cs.Exit(token)

	if !done {
		return
	}

	ch.value = uint16(accum << leftAlignShift(ch.Oversamples))
	e.metrics.ADCMeasurements[ch.Index].Add(1)

	if ch.owner != nil && e.procs != nil {
		e.procs.Post(ch.owner, process.KindADCMeasurementCompleted, ch)
	}
}

// leftAlignShift computes max(0, 6 - log2(oversamples)), generalizing
// the 10-bit-sample-into-16-bit-word alignment shift described for the
// hardware's default oversample counts.
func leftAlignShift(oversamples int) int {
	log2 := bits.Len(uint(oversamples)) - 1
	shift := 6 - log2
	if shift < 0 {
		shift = 0
	}
	return shift
}

// refillNextNext walks forward from the foreground cursor looking for
// the next channel that both is enabled and participates in the current
// period (per its skip mask), and programs it as nextNext. consideredCursor
// holds the last channel picked (nil meaning "restart from head"), and
// the next candidate is always re-derived via its live .next link so a
// concurrent Enable/Disable splicing the list is picked up immediately.
// At end of list the period advances and the scan restarts from the head.
func (e *Engine) refillNextNext() {
	token := e.cs.Enter()
	defer e.cs.Exit(token)

	if e.nextNext != nil || e.list == nil {
		return
	}

	var cur *Channel
	if e.consideredCursor == nil {
		cur = e.list
	} else {
		cur = e.consideredCursor.next
	}
	if cur == nil {
		e.period++
		cur = e.list
	}

	start := cur
	for {
		if cur.enabled && cur.Skip&e.period == 0 {
			e.nextNext = cur
			e.consideredCursor = cur
			return
		}
		cur = cur.next
		if cur == nil {
			e.period++
			cur = e.list
		}
		if cur == start {
			e.consideredCursor = nil
			return
		}
	}
}
