// Package periph defines the Timer/Capture Peripheral the conversion core
// depends on, plus its implementations: a deterministic simulated board, a
// Linux GPIO character-device backend and a Linux sysfs PWM output backend.
//
// The core only ever sees these interfaces; pin numbers, chips and register
// layouts stay inside the implementations.
package periph

import "gaugeconv/internal/irq"

// CounterMax is the largest value a 16-bit timer register can hold. Capture
// values saturate here when the input is slower than the counter range.
const CounterMax = 0xFFFF

// Clock sets the hardware tick rate.
type Clock interface {
	ConfigureClockDivider(divisor uint32) error
}

// InputCapture latches the ticks elapsed between qualifying edges.
type InputCapture interface {
	Clock
	ReadCapture() uint16
	ClearCaptureFlag()
	EnableCaptureInterrupt()
	DisableCaptureInterrupt()
	// SetCaptureHandler installs the routine raised on each capture while the
	// capture interrupt is enabled.
	SetCaptureHandler(h irq.Handler)
	ResetCounter()
}

// EdgeCounter counts qualifying edges.
//
// An input has a single counter: ResetCounter zeroes the edge count and
// restarts the capture timebase together, the way one hardware timer serves
// whichever mode it was configured for.
type EdgeCounter interface {
	Clock
	ReadCounter() uint16
	ResetCounter()
}

// Input is a pin that supports both capture strategies.
type Input interface {
	InputCapture
	EdgeCounter
	Close() error
}

// OutputCompare generates a pulse train from a compare register.
type OutputCompare interface {
	Clock
	// ReadCounter returns the ticks elapsed in the current output cycle.
	ReadCounter() uint16
	SetCompare(ticks uint16)
	// ForceCompareMatch triggers the match action now and restarts the cycle.
	ForceCompareMatch()
}

// Output is an output pin driven by a compare unit.
type Output interface {
	OutputCompare
	Close() error
}

func saturate16(v uint64) uint16 {
	if v > CounterMax {
		return CounterMax
	}
	return uint16(v)
}
