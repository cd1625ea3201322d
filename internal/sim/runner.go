package sim

import (
	"context"
	"time"

	"gaugeconv/internal/periph"
)

var newTickerFn = func(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Runner replays a scenario against a SimBoard in real time: every step it
// sets the input frequencies and advances board time to match the wall
// clock. Edges, and so capture interrupts, fire on the Runner goroutine.
type Runner struct {
	board    *periph.SimBoard
	inputs   map[string]*periph.SimInput
	scenario *Scenario
	loop     bool
	step     time.Duration

	nowFn func() time.Time
}

// NewRunner returns a runner for board. inputs maps channel names to pins.
func NewRunner(board *periph.SimBoard, scenario *Scenario, loop bool, step time.Duration, inputs map[string]*periph.SimInput) *Runner {
	if step <= 0 {
		step = 10 * time.Millisecond
	}
	return &Runner{
		board:    board,
		inputs:   inputs,
		scenario: scenario,
		loop:     loop,
		step:     step,
		nowFn:    time.Now,
	}
}

// Apply sets every input to the scenario state at elapsed.
func (r *Runner) Apply(elapsed time.Duration) InputState {
	st := r.scenario.StateAt(elapsed, r.loop)
	for name, in := range r.inputs {
		in.SetHz(st.Hz(name))
	}
	return st
}

// Run blocks until ctx is done.
func (r *Runner) Run(ctx context.Context) {
	tick, stop := newTickerFn(r.step)
	defer stop()

	start := r.nowFn()
	base := r.board.Now()
	r.Apply(0)
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			elapsed := r.nowFn().Sub(start)
			r.Apply(elapsed)
			target := base + ticksFor(elapsed, r.board.TickHz())
			if now := r.board.Now(); target > now {
				r.board.Advance(target - now)
			}
		}
	}
}

func ticksFor(d time.Duration, tickHz uint32) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64(d) * uint64(tickHz) / uint64(time.Second)
}
