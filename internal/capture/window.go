package capture

import (
	"time"

	"gaugeconv/internal/freq"
	"gaugeconv/internal/irq"
	"gaugeconv/internal/periph"
)

// WindowCount measures frequency by counting edges over one control period.
// Its resolution is the control rate: at 100ms, one edge is 10 Hz.
type WindowCount struct {
	in     periph.EdgeCounter
	period time.Duration
	last   uint16
}

// NewWindowCount returns a window strategy for a control loop running every
// period.
func NewWindowCount(in periph.EdgeCounter, period time.Duration) *WindowCount {
	return &WindowCount{in: in, period: period}
}

// Start zeroes the counter so the first window is a full one.
func (w *WindowCount) Start(x *irq.Context) {
	x.Section(w.in.ResetCounter)
}

// Sample reads and zeroes the edge counter in one critical section.
func (w *WindowCount) Sample(x *irq.Context) uint32 {
	var n uint16
	x.Section(func() {
		n = w.in.ReadCounter()
		w.in.ResetCounter()
	})
	w.last = n
	return uint32(freq.RoundHalfUp(uint64(n)*uint64(time.Second), uint64(w.period)))
}

// LastCount returns the edge count read by the previous Sample.
func (w *WindowCount) LastCount() uint16 { return w.last }
