package adc

import (
	"testing"

	"github.com/benchlab/firmcore"
	"github.com/benchlab/firmcore/process"
)

func newTestEngine(t *testing.T) (*Engine, *process.Engine, *firmcore.FakeADCHardware) {
	t.Helper()
	cs := &firmcore.FakeCriticalSection{}
	hw := firmcore.NewFakeADCHardware()
	hw.SetNextResult(100)
	metrics := firmcore.NewMetrics()
	procs := process.NewEngine(process.DefaultConfig(), cs, metrics, nil)
	e := New(cs, hw, metrics, nil)
	if err := e.Attach(procs); err != nil {
		t.Fatalf("attach: %v", err)
	}
	procs.Execute() // drain the engine's own INIT event
	return e, procs, hw
}

// drainAll pumps Execute until the ring is empty.
func drainAll(procs *process.Engine) {
	for procs.Pending() {
		procs.Execute()
	}
}

func TestOversamplingEmitsProportionally(t *testing.T) {
	e, procs, _ := newTestEngine(t)

	owner := process.New(func(p *process.Process, ev process.Event) (process.StateTag, process.Wait) {
		return p.State(), process.WaitFor(process.KindADCMeasurementCompleted)
	})
	if err := procs.Start(owner); err != nil {
		t.Fatalf("start owner: %v", err)
	}
	drainAll(procs)

	ch4, err := NewChannel(3, 4, 0, owner)
	if err != nil {
		t.Fatalf("new ch4: %v", err)
	}
	ch16, err := NewChannel(3, 16, 0, owner)
	if err != nil {
		t.Fatalf("new ch16: %v", err)
	}

	if err := e.Enable(ch4); err != nil {
		t.Fatalf("enable ch4: %v", err)
	}
	drainAll(procs)
	if err := e.Enable(ch16); err != nil {
		t.Fatalf("enable ch16: %v", err)
	}
	drainAll(procs)

	ch4Events, ch16Events := 0, 0
	countingOwner := process.New(func(p *process.Process, ev process.Event) (process.StateTag, process.Wait) {
		if ev.Kind == process.KindADCMeasurementCompleted {
			switch ev.Data.(*Channel) {
			case ch4:
				ch4Events++
			case ch16:
				ch16Events++
			}
		}
		return p.State(), process.WaitFor(process.KindADCMeasurementCompleted)
	})
	ch4.owner = countingOwner
	ch16.owner = countingOwner
	if err := procs.Start(countingOwner); err != nil {
		t.Fatalf("start counting owner: %v", err)
	}
	drainAll(procs)

	// 16 enabled conversions of channel 3 per entry, alternating
	// round-robin between the two entries, takes 3 ISR ticks per
	// completed conversion once the pipeline is warmed up: 32 productive
	// ticks (16 per entry) land at raw tick 3*32 = 96.
	for i := 0; i < 96; i++ {
		e.OnConversionComplete()
		drainAll(procs)
	}

	if ch4Events != 4 {
		t.Errorf("ch4Events = %d, want 4", ch4Events)
	}
	if ch16Events != 1 {
		t.Errorf("ch16Events = %d, want 1", ch16Events)
	}

	wantValue := uint16(100*4) << leftAlignShift(4)
	if ch4.Value() != wantValue {
		t.Errorf("ch4.Value() = %d, want %d", ch4.Value(), wantValue)
	}
}

func TestEnableInsertsSorted(t *testing.T) {
	e, procs, _ := newTestEngine(t)

	owner := process.New(func(p *process.Process, ev process.Event) (process.StateTag, process.Wait) { return p.State(), process.WaitFor() })
	procs.Start(owner)
	drainAll(procs)

	chHigh, _ := NewChannel(5, 1, 0, owner)
	chLow, _ := NewChannel(1, 1, 0, owner)

	e.Enable(chHigh)
	drainAll(procs)
	e.Enable(chLow)
	drainAll(procs)

	if e.list != chLow || e.list.next != chHigh {
		t.Error("expected channel list sorted ascending by index")
	}
}

func TestDisableReenablesDigitalInputOnlyWhenNoOtherReference(t *testing.T) {
	e, procs, hw := newTestEngine(t)

	owner := process.New(func(p *process.Process, ev process.Event) (process.StateTag, process.Wait) { return p.State(), process.WaitFor() })
	procs.Start(owner)
	drainAll(procs)

	chA, _ := NewChannel(3, 4, 0, owner)
	chB, _ := NewChannel(3, 16, 0, owner)

	e.Enable(chA)
	drainAll(procs)
	e.Enable(chB)
	drainAll(procs)

	if hw.DigitalInputEnabled(3) {
		t.Fatal("expected digital input disabled while a channel-3 entry is enabled")
	}

	e.Disable(chA)
	if hw.DigitalInputEnabled(3) {
		t.Error("expected digital input to remain disabled while chB still references channel 3")
	}

	e.Disable(chB)
	if !hw.DigitalInputEnabled(3) {
		t.Error("expected digital input re-enabled once no entry references channel 3")
	}
}

func TestNewChannelValidation(t *testing.T) {
	if _, err := NewChannel(8, 4, 0, nil); !firmcore.Is(err, firmcore.StatusInvalidChannel) {
		t.Errorf("expected StatusInvalidChannel, got %v", err)
	}
	if _, err := NewChannel(0, 3, 0, nil); !firmcore.Is(err, firmcore.StatusInvalidNbOversamples) {
		t.Errorf("expected StatusInvalidNbOversamples, got %v", err)
	}
	if _, err := NewChannel(0, 4, 2, nil); !firmcore.Is(err, firmcore.StatusInvalidSkip) {
		t.Errorf("expected StatusInvalidSkip, got %v", err)
	}
}

func TestLeftAlignShift(t *testing.T) {
	cases := map[int]int{1: 6, 4: 4, 16: 2, 64: 0, 256: 0}
	for oversamples, want := range cases {
		if got := leftAlignShift(oversamples); got != want {
			t.Errorf("leftAlignShift(%d) = %d, want %d", oversamples, got, want)
		}
	}
}
