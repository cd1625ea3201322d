package sim

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"

	"gaugeconv/internal/convert"
	"gaugeconv/internal/freq"
	"gaugeconv/internal/irq"
	"gaugeconv/internal/periph"
)

// benchSubsteps is how many times per control period the bench updates the
// input frequencies from the scenario.
const benchSubsteps = 10

// BenchConfig describes a deterministic run.
type BenchConfig struct {
	Convert  convert.Config
	Channels []convert.ChannelConfig
	Scenario *Scenario
	// Measure is the trailing window the output frequencies are measured
	// over. Zero uses one second.
	Measure time.Duration
}

// ChannelResult is the measured output of one channel at the end of a run.
type ChannelResult struct {
	Name       string  `json:"name"`
	InputHz    float64 `json:"input_hz"`
	TargetHz   uint32  `json:"target_hz"`
	Compare    uint32  `json:"compare"`
	MeasuredHz float64 `json:"measured_hz"`
	StdDevHz   float64 `json:"stddev_hz"`
	// MaxGapTicks is the longest time between two output toggles while the
	// output was driven.
	MaxGapTicks uint64 `json:"max_gap_ticks"`
	Forced      uint64 `json:"forced_matches"`
	Toggles     int    `json:"toggles"`
}

// Result is the outcome of Bench.Run.
type Result struct {
	Scenario string          `json:"scenario"`
	Elapsed  time.Duration   `json:"elapsed"`
	Ticks    uint64          `json:"ticks"`
	Channels []ChannelResult `json:"channels"`
}

// Bench runs the conversion service against a SimBoard with board time and
// control ticks interleaved exactly. No goroutines or wall clock are
// involved, so results are reproducible.
type Bench struct {
	cfg     BenchConfig
	board   *periph.SimBoard
	svc     *convert.Service
	inputs  map[string]*periph.SimInput
	outputs map[string]*periph.SimOutput
	gaps    map[string]*gapTracker

	elapsed time.Duration
}

// NewBench builds a sim board with one input and one output per channel.
func NewBench(cfg BenchConfig) (*Bench, error) {
	if cfg.Scenario == nil {
		return nil, fmt.Errorf("sim: bench needs a scenario")
	}
	if cfg.Measure <= 0 {
		cfg.Measure = time.Second
	}
	if cfg.Convert.SourceHz == 0 {
		cfg.Convert.SourceHz = 8_000_000
	}
	if cfg.Convert.Period <= 0 {
		cfg.Convert.Period = 100 * time.Millisecond
	}

	ctl := irq.NewController()
	b := &Bench{
		cfg:     cfg,
		board:   periph.NewSimBoard(ctl, cfg.Convert.SourceHz),
		inputs:  map[string]*periph.SimInput{},
		outputs: map[string]*periph.SimOutput{},
		gaps:    map[string]*gapTracker{},
	}
	pipes := make([]convert.Pipe, 0, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		in := b.board.NewInput(ch.Name)
		out := b.board.NewOutput(ch.Name)
		b.inputs[ch.Name] = in
		b.outputs[ch.Name] = out
		b.gaps[ch.Name] = &gapTracker{}
		pipes = append(pipes, convert.Pipe{Channel: ch, Input: in, Output: out})
	}
	svc, err := convert.New(cfg.Convert, ctl, pipes...)
	if err != nil {
		return nil, err
	}
	b.svc = svc
	b.svc.Arm()
	return b, nil
}

// Service returns the conversion service under test.
func (b *Bench) Service() *convert.Service { return b.svc }

// Output returns the simulated output pin of a channel.
func (b *Bench) Output(name string) *periph.SimOutput { return b.outputs[name] }

// Run advances the bench by d, one control period at a time.
func (b *Bench) Run(d time.Duration) Result {
	period := b.cfg.Convert.Period
	tickHz := b.svc.TimerClockHz()
	sub := period / benchSubsteps

	for end := b.elapsed + d; b.elapsed < end; {
		for i := 0; i < benchSubsteps; i++ {
			st := b.cfg.Scenario.StateAt(b.elapsed, false)
			for name, in := range b.inputs {
				in.SetHz(st.Hz(name))
			}
			b.board.Advance(ticksFor(b.elapsed+sub, tickHz) - ticksFor(b.elapsed, tickHz))
			b.elapsed += sub
		}
		b.svc.Tick()
		b.trackGaps()
	}
	return b.result()
}

// RunScenario runs the whole scenario.
func (b *Bench) RunScenario() Result {
	return b.Run(b.cfg.Scenario.Duration())
}

func (b *Bench) trackGaps() {
	now := b.board.Now()
	for _, ch := range b.svc.Channels() {
		parked := ch.Snapshot().Compare == freq.MaxPeriod
		b.gaps[ch.Name()].observe(b.outputs[ch.Name()].Toggles(), parked, now)
	}
}

func (b *Bench) result() Result {
	tickHz := float64(b.svc.TimerClockHz())
	window := ticksFor(b.cfg.Measure, b.svc.TimerClockHz())
	now := b.board.Now()
	st := b.cfg.Scenario.StateAt(b.elapsed, false)

	res := Result{
		Scenario: b.cfg.Scenario.Name(),
		Elapsed:  b.elapsed,
		Ticks:    b.svc.Snapshot().Ticks,
	}
	for _, ch := range b.svc.Channels() {
		snap := ch.Snapshot()
		toggles := b.outputs[ch.Name()].Toggles()

		var gaps []float64
		for i := 1; i < len(toggles); i++ {
			if now-toggles[i-1] > window {
				continue
			}
			gaps = append(gaps, float64(toggles[i]-toggles[i-1]))
		}
		cr := ChannelResult{
			Name:        ch.Name(),
			InputHz:     st.Hz(ch.Name()),
			TargetHz:    snap.TargetHz,
			Compare:     snap.Compare,
			MaxGapTicks: b.gaps[ch.Name()].max,
			Forced:      snap.Forced,
			Toggles:     len(gaps),
		}
		if len(gaps) > 0 {
			// Two toggles make one output cycle.
			mean, std := stat.MeanStdDev(gaps, nil)
			cr.MeasuredHz = tickHz / (2 * mean)
			if len(gaps) > 1 {
				cr.StdDevHz = cr.MeasuredHz * std / mean
			}
		}
		res.Channels = append(res.Channels, cr)
	}
	return res
}

// gapTracker follows the toggle history of an output across control ticks.
// It only counts while the output is driven: the first gap after leaving the
// parked period is skipped, since it started under the parked compare value.
type gapTracker struct {
	floor  uint64
	last   uint64
	seen   bool
	active bool
	max    uint64
}

func (g *gapTracker) observe(toggles []uint64, parked bool, now uint64) {
	if parked {
		g.active = false
		return
	}
	if !g.active {
		g.active = true
		g.seen = false
		g.floor = now
		return
	}
	for _, t := range toggles {
		if t <= g.floor || (g.seen && t <= g.last) {
			continue
		}
		if g.seen && t-g.last > g.max {
			g.max = t - g.last
		}
		g.last = t
		g.seen = true
	}
}
