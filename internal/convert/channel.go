package convert

import (
	"sync"

	"gaugeconv/internal/capture"
	"gaugeconv/internal/freq"
	"gaugeconv/internal/irq"
)

// ChannelConfig is the static part of a channel. Divisor must be non-zero;
// the config loader rejects zero before a channel is ever built.
type ChannelConfig struct {
	Name       string
	Multiplier uint32
	Divisor    uint32
	// Window is the rolling average size. 1 disables smoothing.
	Window int
}

// ChannelSnapshot is one channel's state after its latest control tick.
type ChannelSnapshot struct {
	Name       string `json:"name"`
	Multiplier uint32 `json:"multiplier"`
	Divisor    uint32 `json:"divisor"`
	Window     int    `json:"window"`

	RawHz       uint32 `json:"raw_hz"`
	SmoothedHz  uint32 `json:"smoothed_hz"`
	TargetHz    uint32 `json:"target_hz"`
	PeriodTicks uint32 `json:"period_ticks"`
	Compare     uint32 `json:"compare"`
	Forced      uint64 `json:"forced_matches"`
}

// Channel is one input-to-output pipeline. Step runs on the control context;
// Snapshot may be called from any goroutine.
type Channel struct {
	cfg      ChannelConfig
	strategy capture.Strategy
	filter   *freq.Rolling
	synth    *Synthesizer

	mu   sync.RWMutex
	snap ChannelSnapshot
}

// NewChannel wires a capture strategy to a synthesizer.
func NewChannel(cfg ChannelConfig, strategy capture.Strategy, synth *Synthesizer) *Channel {
	c := &Channel{
		cfg:      cfg,
		strategy: strategy,
		filter:   freq.NewRolling(cfg.Window),
		synth:    synth,
	}
	c.snap = ChannelSnapshot{
		Name:        cfg.Name,
		Multiplier:  cfg.Multiplier,
		Divisor:     cfg.Divisor,
		Window:      c.filter.Size(),
		PeriodTicks: freq.MaxPeriod,
		Compare:     freq.MaxPeriod,
	}
	return c
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.cfg.Name }

// Start parks the output and arms the capture.
func (c *Channel) Start(x *irq.Context) {
	c.synth.Park(x)
	c.strategy.Start(x)
}

// Step runs sample, average, scale, synthesize and write, in that order.
func (c *Channel) Step(x *irq.Context) ChannelSnapshot {
	raw := c.strategy.Sample(x)
	smoothed := c.filter.Push(raw)
	target := freq.Scale(smoothed, c.cfg.Multiplier, c.cfg.Divisor)
	c.synth.Apply(x, target)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.RawHz = raw
	c.snap.SmoothedHz = smoothed
	c.snap.TargetHz = target
	c.snap.PeriodTicks = c.synth.Period()
	c.snap.Compare = c.synth.Compare()
	c.snap.Forced = c.synth.Forced()
	return c.snap
}

// Park holds the output at the longest period and clears the smoothing
// window.
func (c *Channel) Park(x *irq.Context) {
	c.synth.Park(x)
	c.filter.Reset()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.TargetHz = 0
	c.snap.PeriodTicks = c.synth.Period()
	c.snap.Compare = c.synth.Compare()
}

// Snapshot returns the channel state after its latest Step.
func (c *Channel) Snapshot() ChannelSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}
