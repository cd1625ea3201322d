package capture

import (
	"fmt"

	"gaugeconv/internal/freq"
	"gaugeconv/internal/irq"
	"gaugeconv/internal/periph"
)

// State is the arming state of an EdgeInterval.
type State uint8

const (
	// Idle means the capture interrupt is off until the next control tick.
	Idle State = iota
	// ArmedWaitingFirstEdge discards the next capture: the timer was reset
	// mid-cycle, so the interval ending that edge is partial.
	ArmedWaitingFirstEdge
	// ArmedWaitingSecondEdge accepts the next capture.
	ArmedWaitingSecondEdge
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ArmedWaitingFirstEdge:
		return "armed-first"
	case ArmedWaitingSecondEdge:
		return "armed-second"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// EdgeInterval measures frequency from the interval between two consecutive
// rising edges. The capture interrupt is armed on a control tick, accepts one
// full interval and disarms itself, so it fires at most twice per tick no
// matter how fast the input is.
type EdgeInterval struct {
	in         periph.InputCapture
	tickHz     uint32
	staleTicks int

	// Shared with the interrupt handler; accessed masked only.
	state State
	edges uint32
	seq   uint32
	slot  Slot

	// Control context only.
	lastSeq  uint32
	estimate uint32
	stale    int
}

// NewEdgeInterval returns an edge strategy for in, whose timer runs at
// tickHz. staleTicks <= 0 disables the stale timeout.
func NewEdgeInterval(in periph.InputCapture, tickHz uint32, staleTicks int) *EdgeInterval {
	if staleTicks < 0 {
		staleTicks = 0
	}
	return &EdgeInterval{in: in, tickHz: tickHz, staleTicks: staleTicks}
}

// Start installs the interrupt handler and arms the first capture.
func (e *EdgeInterval) Start(x *irq.Context) {
	x.Section(func() {
		e.in.DisableCaptureInterrupt()
		e.in.SetCaptureHandler(e.handle)
		e.state = Idle
	})
	e.arm(x)
}

// handle is the capture interrupt. It only moves the state machine, stages a
// sample and toggles the interrupt enable.
func (e *EdgeInterval) handle(x *irq.Context) {
	ticks := e.in.ReadCapture()
	e.in.ClearCaptureFlag()
	e.edges++

	switch e.state {
	case ArmedWaitingFirstEdge:
		e.state = ArmedWaitingSecondEdge
	case ArmedWaitingSecondEdge:
		e.seq++
		e.slot.Publish(x, Record{Seq: e.seq, Ticks: ticks, Edges: e.edges})
		e.in.DisableCaptureInterrupt()
		e.state = Idle
	default:
		e.in.DisableCaptureInterrupt()
	}
}

// Sample returns the latest estimate and re-arms the capture when the last
// one completed.
//
// A tick without a new capture reuses the previous estimate until staleTicks
// such ticks in a row have passed; the input is then treated as stopped.
func (e *EdgeInterval) Sample(x *irq.Context) uint32 {
	var (
		rec  Record
		idle bool
	)
	x.Section(func() {
		rec = e.slot.Load(x)
		idle = e.state == Idle
	})

	if rec.Seq != e.lastSeq {
		e.lastSeq = rec.Seq
		e.stale = 0
		e.estimate = e.hz(rec.Ticks)
	} else {
		e.stale++
		if e.staleTicks > 0 && e.stale >= e.staleTicks {
			e.estimate = 0
		}
	}

	if idle {
		e.arm(x)
	}
	return e.estimate
}

func (e *EdgeInterval) hz(ticks uint16) uint32 {
	// A saturated capture means the input is slower than the counter range.
	if ticks == 0 || ticks == periph.CounterMax {
		return 0
	}
	return freq.Hz(uint32(ticks), e.tickHz)
}

func (e *EdgeInterval) arm(x *irq.Context) {
	x.Section(func() {
		e.in.ResetCounter()
		e.in.ClearCaptureFlag()
		e.state = ArmedWaitingFirstEdge
		e.in.EnableCaptureInterrupt()
	})
}

// State returns the arming state.
func (e *EdgeInterval) State(x *irq.Context) State {
	var s State
	x.Section(func() { s = e.state })
	return s
}

// Last returns the most recently accepted capture.
func (e *EdgeInterval) Last(x *irq.Context) Record {
	return e.slot.Load(x)
}
