package periph

import (
	"fmt"
	"math"
	"sync"

	"gaugeconv/internal/irq"
)

// simToggleHistory bounds how many output toggles a SimOutput remembers.
const simToggleHistory = 8192

// SimBoard is a deterministic, tick-stepped model of a timer/capture
// peripheral. Time only moves when Advance is called, so tests can place
// edges and control ticks exactly.
//
// Inputs behave like a 16-bit input-capture timer in clear-on-capture mode
// that saturates instead of wrapping. Outputs behave like a 16-bit timer in
// clear-on-compare toggle mode: writing a compare value below the running
// count makes the counter wrap through 0xFFFF before the next match.
//
// Interrupts are raised on the goroutine calling Advance or Edge, with the
// board lock released.
type SimBoard struct {
	ctl      *irq.Controller
	sourceHz uint32

	mu      sync.Mutex
	divider uint32
	now     uint64
	inputs  []*SimInput
	outputs []*SimOutput
}

// NewSimBoard returns a board clocked from sourceHz with a divider of 1.
func NewSimBoard(ctl *irq.Controller, sourceHz uint32) *SimBoard {
	if sourceHz == 0 {
		sourceHz = 1
	}
	return &SimBoard{ctl: ctl, sourceHz: sourceHz, divider: 1}
}

// Now returns the current board time in ticks.
func (b *SimBoard) Now() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now
}

// TickHz returns the tick rate after the clock divider.
func (b *SimBoard) TickHz() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tickHzLocked()
}

func (b *SimBoard) tickHzLocked() uint32 {
	return b.sourceHz / b.divider
}

// configureDivider applies a prescaler. All timers on the sim board share one
// prescaler, so a conflicting divider is rejected once signals exist.
func (b *SimBoard) configureDivider(divisor uint32) error {
	if divisor == 0 {
		return fmt.Errorf("periph: clock divider must be > 0")
	}
	if b.sourceHz/divisor == 0 {
		return fmt.Errorf("periph: divider %d leaves no ticks from %d Hz", divisor, b.sourceHz)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.divider == divisor {
		return nil
	}
	for _, in := range b.inputs {
		if in.hz > 0 {
			return fmt.Errorf("periph: sim divider already %d", b.divider)
		}
	}
	b.divider = divisor
	return nil
}

// NewInput attaches a simulated input pin.
func (b *SimBoard) NewInput(name string) *SimInput {
	in := &SimInput{b: b, name: name, edgeAt: math.Inf(1)}
	b.mu.Lock()
	in.base = b.now
	b.inputs = append(b.inputs, in)
	b.mu.Unlock()
	return in
}

// NewOutput attaches a simulated output pin. The compare register starts at
// CounterMax.
func (b *SimBoard) NewOutput(name string) *SimOutput {
	o := &SimOutput{b: b, name: name, compare: CounterMax}
	b.mu.Lock()
	o.base = b.now
	b.outputs = append(b.outputs, o)
	b.mu.Unlock()
	return o
}

// Advance moves board time forward by ticks, firing every edge and compare
// match that falls inside the interval in time order.
func (b *SimBoard) Advance(ticks uint64) {
	b.mu.Lock()
	end := b.now + ticks
	b.mu.Unlock()

	for {
		b.mu.Lock()
		at, in, out := b.nextEventLocked(end)
		if in == nil && out == nil {
			b.now = end
			b.mu.Unlock()
			return
		}
		b.now = at
		var h irq.Handler
		if in != nil {
			h = in.edgeLocked(at)
			in.scheduleNextLocked()
		} else {
			out.matchLocked(at)
		}
		b.mu.Unlock()
		if h != nil {
			b.ctl.Raise(h)
		}
	}
}

func (b *SimBoard) nextEventLocked(end uint64) (uint64, *SimInput, *SimOutput) {
	best := end + 1
	var bestIn *SimInput
	var bestOut *SimOutput
	// On a shared tick compare matches fire before input edges, each kind in
	// attach order.
	for _, o := range b.outputs {
		t := o.nextMatchLocked(b.now)
		if t < best {
			best, bestOut = t, o
		}
	}
	for _, in := range b.inputs {
		if math.IsInf(in.edgeAt, 1) {
			continue
		}
		t := uint64(math.Ceil(in.edgeAt))
		if t < b.now {
			t = b.now
		}
		if t < best {
			best, bestIn, bestOut = t, in, nil
		}
	}
	if best > end {
		return 0, nil, nil
	}
	return best, bestIn, bestOut
}

// SimInput is a simulated input-capture pin driven by a square wave of a
// settable frequency, or by explicit Edge calls.
type SimInput struct {
	b    *SimBoard
	name string

	// Guarded by b.mu.
	hz        float64
	edgeAt    float64
	base      uint64
	capture   uint16
	flag      bool
	intEnable bool
	count     uint16
	handler   irq.Handler
}

// Name returns the pin name.
func (in *SimInput) Name() string { return in.name }

// SetHz changes the input frequency, keeping the phase of the cycle already
// in progress. Zero stops the edges.
func (in *SimInput) SetHz(hz float64) {
	b := in.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if hz < 0 {
		hz = 0
	}
	if hz == in.hz {
		return
	}
	tick := float64(b.tickHzLocked())
	now := float64(b.now)
	switch {
	case hz == 0:
		in.edgeAt = math.Inf(1)
	case in.hz == 0:
		in.edgeAt = now + tick/hz
	default:
		remaining := (in.edgeAt - now) / (tick / in.hz)
		in.edgeAt = now + remaining*tick/hz
	}
	in.hz = hz
}

// Hz returns the configured input frequency.
func (in *SimInput) Hz() float64 {
	in.b.mu.Lock()
	defer in.b.mu.Unlock()
	return in.hz
}

// Edge injects one qualifying edge at the current board time.
func (in *SimInput) Edge() {
	b := in.b
	b.mu.Lock()
	h := in.edgeLocked(b.now)
	b.mu.Unlock()
	if h != nil {
		b.ctl.Raise(h)
	}
}

func (in *SimInput) edgeLocked(at uint64) irq.Handler {
	in.capture = saturate16(at - in.base)
	in.base = at
	in.flag = true
	if in.count < CounterMax {
		in.count++
	}
	if in.intEnable {
		return in.handler
	}
	return nil
}

func (in *SimInput) scheduleNextLocked() {
	if in.hz <= 0 {
		in.edgeAt = math.Inf(1)
		return
	}
	in.edgeAt += float64(in.b.tickHzLocked()) / in.hz
}

func (in *SimInput) ConfigureClockDivider(divisor uint32) error {
	return in.b.configureDivider(divisor)
}

func (in *SimInput) ReadCapture() uint16 {
	in.b.mu.Lock()
	defer in.b.mu.Unlock()
	return in.capture
}

// CaptureFlag reports whether a capture happened since the flag was cleared.
func (in *SimInput) CaptureFlag() bool {
	in.b.mu.Lock()
	defer in.b.mu.Unlock()
	return in.flag
}

func (in *SimInput) ClearCaptureFlag() {
	in.b.mu.Lock()
	in.flag = false
	in.b.mu.Unlock()
}

func (in *SimInput) EnableCaptureInterrupt() {
	in.b.mu.Lock()
	in.intEnable = true
	in.b.mu.Unlock()
}

func (in *SimInput) DisableCaptureInterrupt() {
	in.b.mu.Lock()
	in.intEnable = false
	in.b.mu.Unlock()
}

// CaptureInterruptEnabled reports the capture interrupt enable bit.
func (in *SimInput) CaptureInterruptEnabled() bool {
	in.b.mu.Lock()
	defer in.b.mu.Unlock()
	return in.intEnable
}

func (in *SimInput) SetCaptureHandler(h irq.Handler) {
	in.b.mu.Lock()
	in.handler = h
	in.b.mu.Unlock()
}

func (in *SimInput) ReadCounter() uint16 {
	in.b.mu.Lock()
	defer in.b.mu.Unlock()
	return in.count
}

func (in *SimInput) ResetCounter() {
	b := in.b
	b.mu.Lock()
	in.count = 0
	in.base = b.now
	b.mu.Unlock()
}

func (in *SimInput) Close() error { return nil }

// SimOutput is a simulated output-compare pin in toggle mode.
type SimOutput struct {
	b    *SimBoard
	name string

	// Guarded by b.mu.
	compare uint16
	base    uint64
	level   bool
	toggles []uint64
	forced  uint64
}

// Name returns the pin name.
func (o *SimOutput) Name() string { return o.name }

func (o *SimOutput) counterLocked(now uint64) uint64 {
	return (now - o.base) % (CounterMax + 1)
}

func (o *SimOutput) nextMatchLocked(now uint64) uint64 {
	cmp := uint64(o.compare)
	if cmp == 0 {
		cmp = 1
	}
	c := o.counterLocked(now)
	if c <= cmp {
		// c == cmp is a match due now.
		return now + (cmp - c)
	}
	// Already past the compare value: the counter runs to the top and
	// wraps before it can match.
	return now + (CounterMax + 1 - c) + cmp
}

func (o *SimOutput) matchLocked(at uint64) {
	o.level = !o.level
	o.base = at
	o.toggles = append(o.toggles, at)
	if len(o.toggles) > simToggleHistory {
		o.toggles = append(o.toggles[:0], o.toggles[len(o.toggles)-simToggleHistory:]...)
	}
}

func (o *SimOutput) ConfigureClockDivider(divisor uint32) error {
	return o.b.configureDivider(divisor)
}

func (o *SimOutput) ReadCounter() uint16 {
	o.b.mu.Lock()
	defer o.b.mu.Unlock()
	return uint16(o.counterLocked(o.b.now))
}

func (o *SimOutput) SetCompare(ticks uint16) {
	o.b.mu.Lock()
	o.compare = ticks
	o.b.mu.Unlock()
}

func (o *SimOutput) ForceCompareMatch() {
	o.b.mu.Lock()
	o.forced++
	o.matchLocked(o.b.now)
	o.b.mu.Unlock()
}

// Compare returns the compare register.
func (o *SimOutput) Compare() uint16 {
	o.b.mu.Lock()
	defer o.b.mu.Unlock()
	return o.compare
}

// Level returns the pin level.
func (o *SimOutput) Level() bool {
	o.b.mu.Lock()
	defer o.b.mu.Unlock()
	return o.level
}

// Forced returns how many compare matches were forced.
func (o *SimOutput) Forced() uint64 {
	o.b.mu.Lock()
	defer o.b.mu.Unlock()
	return o.forced
}

// Toggles returns the board ticks of the most recent pin toggles, oldest
// first.
func (o *SimOutput) Toggles() []uint64 {
	o.b.mu.Lock()
	defer o.b.mu.Unlock()
	return append([]uint64(nil), o.toggles...)
}

// ClearToggles forgets the toggle history.
func (o *SimOutput) ClearToggles() {
	o.b.mu.Lock()
	o.toggles = o.toggles[:0]
	o.b.mu.Unlock()
}

func (o *SimOutput) Close() error { return nil }

var (
	_ Input  = (*SimInput)(nil)
	_ Output = (*SimOutput)(nil)
)
