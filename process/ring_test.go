package process

import (
	"testing"

	"github.com/benchlab/firmcore"
)

func TestRingPushPopFIFO(t *testing.T) {
	r := newRing(&firmcore.FakeCriticalSection{}, 4)
	m := firmcore.NewMetrics()

	for i := 0; i < 4; i++ {
		if err := r.push(m, Event{Kind: Kind(i)}); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}

	if err := r.push(m, Event{Kind: 99}); !firmcore.Is(err, firmcore.StatusQueueFull) {
		t.Fatalf("expected StatusQueueFull on 5th push, got %v", err)
	}

	ev, ok := r.pop()
	if !ok || ev.Kind != Kind(0) {
		t.Fatalf("expected first pop to return kind 0, got %v ok=%v", ev.Kind, ok)
	}

	if err := r.push(m, Event{Kind: 100}); err != nil {
		t.Fatalf("push after freeing a slot should succeed: %v", err)
	}

	for i := 1; i < 4; i++ {
		ev, ok := r.pop()
		if !ok || ev.Kind != Kind(i) {
			t.Fatalf("pop = %v, want kind %d", ev.Kind, i)
		}
	}
	ev, ok = r.pop()
	if !ok || ev.Kind != Kind(100) {
		t.Fatalf("expected wrapped-around push to pop last, got %v", ev.Kind)
	}
	if _, ok := r.pop(); ok {
		t.Fatal("expected ring to be empty")
	}
}

func TestRingOverflowIncrementsMetric(t *testing.T) {
	r := newRing(&firmcore.FakeCriticalSection{}, 1)
	m := firmcore.NewMetrics()

	if err := r.push(m, Event{}); err != nil {
		t.Fatalf("first push: %v", err)
	}
	if err := r.push(m, Event{}); err == nil {
		t.Fatal("expected second push to overflow")
	}

	if m.Snapshot().EventRingOverflow != 1 {
		t.Errorf("EventRingOverflow = %d, want 1", m.Snapshot().EventRingOverflow)
	}
}
