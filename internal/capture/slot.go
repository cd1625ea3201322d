package capture

import "gaugeconv/internal/irq"

// Record is one accepted capture as staged by the interrupt handler.
type Record struct {
	// Seq increases by one per accepted capture. Zero means nothing staged yet.
	Seq uint32
	// Ticks is the accepted edge-to-edge interval.
	Ticks uint16
	// Edges is the number of capture interrupts handled so far, accepted or not.
	Edges uint32
}

// publishYield runs between field stores in Publish. Tests use it to widen
// the window in which a reader could see a half-written record.
var publishYield = func() {}

// Slot holds the record shared by the capture interrupt and the control loop.
// Its fields are never touched directly: Publish and Load mask interrupts for
// the whole multi-field access.
type Slot struct {
	seq   uint32
	ticks uint16
	edges uint32
}

// Publish stores r.
func (s *Slot) Publish(x *irq.Context, r Record) {
	x.Section(func() {
		s.seq = r.Seq
		publishYield()
		s.ticks = r.Ticks
		publishYield()
		s.edges = r.Edges
	})
}

// Load returns the last published record.
func (s *Slot) Load(x *irq.Context) Record {
	var r Record
	x.Section(func() {
		r = Record{Seq: s.seq, Ticks: s.ticks, Edges: s.edges}
	})
	return r
}
