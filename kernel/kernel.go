// Package kernel wires the scheduler, process framework, ADC engine and
// SPI master/slave engines into the single foreground loop described in
// spec.md §2: the loop repeatedly asks the scheduler for a ready task,
// runs it, and pumps one process event; Run repeats this until its
// context is cancelled, idling whenever both are empty. Plays the
// role the teacher's top-level Device/backend.go plays for a ublk
// device: the thing that owns every subsystem runner, minus the
// block-device-node mechanics that don't apply here.
package kernel

import (
	"context"
	"runtime"

	"github.com/benchlab/firmcore"
	"github.com/benchlab/firmcore/adc"
	"github.com/benchlab/firmcore/internal/hal"
	"github.com/benchlab/firmcore/internal/logging"
	"github.com/benchlab/firmcore/process"
	"github.com/benchlab/firmcore/scheduler"
	"github.com/benchlab/firmcore/spim"
	"github.com/benchlab/firmcore/spis"
)

// Config groups the hardware collaborators and arena sizes every
// subsystem needs. Fields left zero fall back to the core's documented
// defaults (spec.md §6).
type Config struct {
	Scheduler scheduler.Config
	Process   process.Config
	SPISRxBuf int
	SPIMQueue int
}

// DefaultConfig returns the core's default tunables for every subsystem.
func DefaultConfig() Config {
	return Config{
		Scheduler: scheduler.DefaultConfig(),
		Process:   process.DefaultConfig(),
		SPISRxBuf: firmcore.SpisRxBufSize,
		SPIMQueue: firmcore.SpimQueueDepth,
	}
}

// Hardware groups every peripheral collaborator the kernel's subsystems
// are driven by. CriticalSection is shared by all of them: spec.md §5
// treats interrupt masking as a single platform-wide primitive, not one
// per peripheral.
type Hardware struct {
	CS        hal.CriticalSection
	Timer     hal.TimerHardware
	ADC       hal.ADCHardware
	SPIMaster hal.SPIMasterHardware
	SPISlave  hal.SPISlaveHardware
}

// Kernel owns one instance of every core subsystem and the foreground
// loop that drives them. It does not itself own any interrupt wiring:
// a platform binds Scheduler.OnCompareMatch, ADC.OnConversionComplete,
// SPIS.OnTransferComplete/OnSlaveSelectChanged to the real hardware
// vectors (or, on the host, to a goroutine simulating them); Kernel's
// job is strictly the foreground half of spec.md §2's concurrency model.
type Kernel struct {
	Scheduler *scheduler.Scheduler
	Process   *process.Engine
	ADC       *adc.Engine
	SPIMaster *spim.Engine
	SPISlave  *spis.Engine
	Metrics   *firmcore.Metrics

	log *logging.Logger

	// IdleFunc is invoked whenever a foreground iteration finds nothing
	// ready and nothing pending: a real target would enter a sleep mode
	// until the next interrupt, the host default just yields the
	// goroutine so Run doesn't spin a core at 100% between simulated
	// ticks. Tests that want deterministic step-by-step control can
	// leave it nil and drive Step directly instead of calling Run.
	IdleFunc func()
}

// New constructs a Kernel wiring every subsystem against hw, with
// arenas sized per cfg. The SPI slave's client process must still be
// attached by the caller via k.SPISlave.Attach, since the slave has no
// process of its own (spec.md §4.F: it is driven directly by ISRs and
// only notifies a caller-registered process).
func New(cfg Config, hw Hardware, log *logging.Logger) *Kernel {
	if log == nil {
		log = logging.Default()
	}
	metrics := firmcore.NewMetrics()

	if cfg.Scheduler.TasksMax == 0 {
		cfg.Scheduler = scheduler.DefaultConfig()
	}
	if cfg.Process.EventQueueSize == 0 {
		cfg.Process = process.DefaultConfig()
	}
	if cfg.SPIMQueue == 0 {
		cfg.SPIMQueue = firmcore.SpimQueueDepth
	}

	sched := scheduler.New(cfg.Scheduler, hw.CS, hw.Timer, metrics, log)
	procs := process.NewEngine(cfg.Process, hw.CS, metrics, log)

	k := &Kernel{
		Scheduler: sched,
		Process:   procs,
		Metrics:   metrics,
		log:       log,
		IdleFunc:  runtime.Gosched,
	}

	if hw.ADC != nil {
		k.ADC = adc.New(hw.CS, hw.ADC, metrics, log)
	}
	if hw.SPIMaster != nil {
		k.SPIMaster = spim.New(hw.CS, hw.SPIMaster, sched, cfg.SPIMQueue, metrics, log)
	}
	if hw.SPISlave != nil {
		rxBuf := cfg.SPISRxBuf
		if rxBuf == 0 {
			rxBuf = firmcore.SpisRxBufSize
		}
		k.SPISlave = spis.New(hw.CS, hw.SPISlave, rxBuf, metrics, log)
	}

	return k
}

// Attach starts every subsystem's foreground process on the shared
// process engine. Must be called once, after New, before Run or Step.
func (k *Kernel) Attach() error {
	if k.ADC != nil {
		if err := k.ADC.Attach(k.Process); err != nil {
			return firmcore.Wrap("kernel_attach", err)
		}
	}
	if k.SPIMaster != nil {
		if err := k.SPIMaster.Attach(k.Process); err != nil {
			return firmcore.Wrap("kernel_attach", err)
		}
	}
	return nil
}

// Step runs one foreground iteration: at most one ready scheduler task
// and at most one pending process event, mirroring spec.md §2's "the
// foreground loop repeatedly asks the scheduler for a ready task, runs
// it, and additionally pumps one process event per iteration". It
// returns whether any work was actually done, so Run can decide whether
// to idle.
func (k *Kernel) Step() (didWork bool) {
	if k.Scheduler.Exec() == scheduler.Executed {
		didWork = true
	}
	if k.Process.Pending() {
		k.Process.Execute()
		didWork = true
	}
	return didWork
}

// Run drives Step in a loop until ctx is cancelled, calling IdleFunc
// whenever an iteration finds nothing to do. A nil IdleFunc makes Run a
// tight busy loop, appropriate only for tests that want the fastest
// possible drain of a bounded amount of scheduled work.
func (k *Kernel) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !k.Step() && k.IdleFunc != nil {
			k.IdleFunc()
		}
	}
}
