// Package capture turns raw timer/counter activity on an input pin into one
// frequency estimate per control tick.
//
// Two strategies are available. EdgeInterval times the interval between two
// consecutive rising edges with the input-capture unit and an interrupt-driven
// state machine. WindowCount counts edges over one control period and needs no
// interrupt at all.
package capture

import (
	"fmt"
	"time"

	"gaugeconv/internal/irq"
	"gaugeconv/internal/periph"
)

// Strategy produces a raw frequency estimate in Hz.
//
// Both methods run on the control context x. Sample is called exactly once
// per control tick.
type Strategy interface {
	Start(x *irq.Context)
	Sample(x *irq.Context) uint32
}

// Kind names a capture strategy in configuration.
type Kind string

const (
	KindEdge   Kind = "edge"
	KindWindow Kind = "window"
)

// Options configures New.
type Options struct {
	Kind Kind
	// TickHz is the input timer rate after the clock divider.
	TickHz uint32
	// ControlPeriod is the cadence Sample is called at.
	ControlPeriod time.Duration
	// StaleTicks is how many control ticks an edge estimate survives without
	// a fresh capture. Zero or negative disables the timeout here; config
	// maps an unset value to 5 before it reaches this point.
	StaleTicks int
}

// New builds the strategy named by opts.Kind on in.
func New(in periph.Input, opts Options) (Strategy, error) {
	switch opts.Kind {
	case KindEdge, "":
		return NewEdgeInterval(in, opts.TickHz, opts.StaleTicks), nil
	case KindWindow:
		if opts.ControlPeriod <= 0 {
			return nil, fmt.Errorf("capture: window strategy needs a control period")
		}
		return NewWindowCount(in, opts.ControlPeriod), nil
	}
	return nil, fmt.Errorf("capture: unknown strategy %q", opts.Kind)
}
