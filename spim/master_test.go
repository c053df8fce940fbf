package spim

import (
	"testing"

	"periph.io/x/conn/v3/physic"

	"github.com/benchlab/firmcore"
	"github.com/benchlab/firmcore/internal/crc16"
	"github.com/benchlab/firmcore/process"
	"github.com/benchlab/firmcore/scheduler"
)

type testEnv struct {
	cs    *firmcore.FakeCriticalSection
	timer *firmcore.FakeTimerHardware
	hw    *firmcore.FakeSPIMasterHardware
	sched *scheduler.Scheduler
	procs *process.Engine
	e     *Engine
	ss    *firmcore.FakePin
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cs := &firmcore.FakeCriticalSection{}
	timer := firmcore.NewFakeTimerHardware(1 * physic.KiloHertz)
	hw := firmcore.NewFakeSPIMasterHardware()
	metrics := firmcore.NewMetrics()
	sched := scheduler.New(scheduler.DefaultConfig(), cs, timer, metrics, nil)
	procs := process.NewEngine(process.DefaultConfig(), cs, metrics, nil)
	e := New(cs, hw, sched, firmcore.SpimQueueDepth, metrics, nil)
	if err := e.Attach(procs); err != nil {
		t.Fatalf("attach: %v", err)
	}
	procs.Execute() // drain INIT
	return &testEnv{cs: cs, timer: timer, hw: hw, sched: sched, procs: procs, e: e, ss: &firmcore.FakePin{}}
}

// runUntilIdle advances the fake clock and drains posted events until the
// queue head finishes, bounded generously so a stuck test fails fast
// instead of hanging.
func (env *testEnv) runUntilIdle(t *testing.T, budget int) {
	t.Helper()
	for i := 0; i < budget; i++ {
		for env.procs.Pending() {
			env.procs.Execute()
		}
		if env.e.head == nil && env.e.cur == nil {
			return
		}
		if env.timer.Advance(1) {
			env.sched.OnCompareMatch()
		}
		for env.sched.Exec() == scheduler.Executed {
		}
	}
	t.Fatal("runUntilIdle: budget exhausted, transaction never completed")
}

func TestSimpleTransferRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.hw.QueueResponses(0xAA, 0xBB, 0xCC)

	owner := process.New(func(p *process.Process, ev process.Event) (process.StateTag, process.Wait) { return p.State(), process.WaitFor() })
	env.procs.Start(owner)
	env.procs.Execute()

	rx := make([]byte, 3)
	trx := NewSimpleTransaction(env.ss, []byte{0x01, 0x02, 0x03}, rx, owner, nil)
	if err := env.e.Queue(trx); err != nil {
		t.Fatalf("queue: %v", err)
	}
	env.runUntilIdle(t, 200)

	if trx.RxN != 3 || rx[0] != 0xAA || rx[1] != 0xBB || rx[2] != 0xCC {
		t.Errorf("rx = %v RxN=%d, want [AA BB CC] RxN=3", rx, trx.RxN)
	}
	if !env.ss.Read() {
		t.Error("expected SS raised after transfer")
	}
}

func TestFramedRoundTripSuccess(t *testing.T) {
	env := newTestEnv(t)

	var gotKind process.Kind
	var gotTrx *Transaction
	owner := process.New(func(p *process.Process, ev process.Event) (process.StateTag, process.Wait) {
		gotKind = ev.Kind
		gotTrx, _ = ev.Data.(*Transaction)
		return p.State(), process.WaitFor()
	})
	env.procs.Start(owner)
	env.procs.Execute()

	respPayload := []byte{0xCC}
	respType := byte(0x11)
	respSize := byte(len(respPayload))
	crc := crc16.Initial()
	crc = crc16.Update(crc, respType)
	crc = crc16.Update(crc, respSize)
	for _, b := range respPayload {
		crc = crc16.Update(crc, b)
	}

	// Every byte clocked out while the master is still transmitting its
	// own request (type, size, 2 payload bytes, crc hi/lo = 6 bytes) must
	// see TypeRxProcessing echoed back; the response phase then does one
	// busy poll before the real type arrives.
	script := []byte{
		TypeRxProcessing, TypeRxProcessing, TypeRxProcessing, TypeRxProcessing, TypeRxProcessing, TypeRxProcessing,
		TypeRxProcessing, respType, respSize,
	}
	script = append(script, respPayload...)
	script = append(script, byte(crc>>8), byte(crc&0xFF))
	env.hw.QueueResponses(script...)

	rxBuf := make([]byte, 16)
	trx := NewFramedTransaction(env.ss, 0x10, []byte{0xAA, 0xBB}, rxBuf, owner, nil)
	if err := env.e.Queue(trx); err != nil {
		t.Fatalf("queue: %v", err)
	}
	env.runUntilIdle(t, 2000)

	if gotKind != process.KindSPIMCompletedSuccessfully {
		t.Fatalf("gotKind = %v, want KindSPIMCompletedSuccessfully", gotKind)
	}
	if gotTrx.RxType != respType || gotTrx.RxSize != 1 || rxBuf[0] != respPayload[0] {
		t.Errorf("rx = type=%#x size=%d buf[0]=%#x, want type=%#x size=1 buf[0]=%#x",
			gotTrx.RxType, gotTrx.RxSize, rxBuf[0], respType, respPayload[0])
	}
}

func TestFramedSlaveNotReadyAborts(t *testing.T) {
	env := newTestEnv(t)

	var gotKind process.Kind
	owner := process.New(func(p *process.Process, ev process.Event) (process.StateTag, process.Wait) {
		gotKind = ev.Kind
		return p.State(), process.WaitFor()
	})
	env.procs.Start(owner)
	env.procs.Execute()

	// First byte back from the slave is garbage, not TypeRxProcessing:
	// the slave is not ready.
	env.hw.QueueResponses(0x00)

	trx := NewFramedTransaction(env.ss, 0x10, nil, make([]byte, 4), owner, nil)
	if err := env.e.Queue(trx); err != nil {
		t.Fatalf("queue: %v", err)
	}
	env.runUntilIdle(t, 200)

	if gotKind != process.KindSPIMErrorSlaveNotReady {
		t.Fatalf("gotKind = %v, want KindSPIMErrorSlaveNotReady", gotKind)
	}
	if env.e.metrics.Snapshot().SpimSlaveNotReady != 1 {
		t.Errorf("SpimSlaveNotReady metric = %d, want 1", env.e.metrics.Snapshot().SpimSlaveNotReady)
	}
}

func TestQueueAlreadyQueuedAndQueueFull(t *testing.T) {
	env := newTestEnv(t)
	owner := process.New(func(p *process.Process, ev process.Event) (process.StateTag, process.Wait) { return p.State(), process.WaitFor() })
	env.procs.Start(owner)
	env.procs.Execute()

	trx := NewSimpleTransaction(env.ss, nil, nil, owner, nil)
	if err := env.e.Queue(trx); err != nil {
		t.Fatalf("first queue: %v", err)
	}
	if err := env.e.Queue(trx); !firmcore.Is(err, firmcore.StatusAlreadyQueued) {
		t.Fatalf("expected StatusAlreadyQueued, got %v", err)
	}

	for i := 0; i < firmcore.SpimQueueDepth; i++ {
		t2 := NewSimpleTransaction(env.ss, nil, nil, owner, nil)
		env.e.Queue(t2)
	}
	overflow := NewSimpleTransaction(env.ss, nil, nil, owner, nil)
	if err := env.e.Queue(overflow); !firmcore.Is(err, firmcore.StatusQueueFull) {
		t.Fatalf("expected StatusQueueFull, got %v", err)
	}
}
