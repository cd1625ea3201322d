// Package convert runs the control loop that turns measured input
// frequencies into output compare periods.
package convert

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"gaugeconv/internal/capture"
	"gaugeconv/internal/freq"
	"gaugeconv/internal/irq"
	"gaugeconv/internal/periph"
)

// newTickerFn is swapped by tests to drive the loop by hand.
var newTickerFn = func(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

type Config struct {
	// Period is the control loop cadence.
	Period time.Duration
	// SourceHz and Divider set the timer clock: SourceHz / Divider.
	SourceHz uint32
	Divider  uint32

	Strategy   capture.Kind
	StaleTicks int
	Mode       freq.CompareMode

	Logger *log.Logger
}

// Pipe is one channel's configuration plus the pins it runs on.
type Pipe struct {
	Channel ChannelConfig
	Input   periph.Input
	Output  periph.Output
}

type Snapshot struct {
	Running      bool              `json:"running"`
	Strategy     string            `json:"strategy"`
	OutputMode   string            `json:"output_mode"`
	TimerClockHz uint32            `json:"timer_clock_hz"`
	PeriodMS     int64             `json:"control_period_ms"`
	Ticks        uint64            `json:"ticks"`
	Channels     []ChannelSnapshot `json:"channels"`
	IRQ          irq.Stats         `json:"irq"`

	LastTickAt time.Time `json:"last_tick_utc,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

// Service owns the control context and every channel. After Start, Tick
// runs only on the loop goroutine.
type Service struct {
	cfg     Config
	clockHz uint32
	ctl     *irq.Controller
	x       *irq.Context
	log     *log.Logger

	channels []*Channel
	pipes    []Pipe

	mu   sync.RWMutex
	snap Snapshot

	armOnce  sync.Once
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
	doneOnce sync.Once
}

// New configures the timers of every pipe and builds its channel.
func New(cfg Config, ctl *irq.Controller, pipes ...Pipe) (*Service, error) {
	if ctl == nil {
		return nil, fmt.Errorf("convert: interrupt controller is nil")
	}
	if cfg.Period <= 0 {
		cfg.Period = 100 * time.Millisecond
	}
	if cfg.SourceHz == 0 {
		cfg.SourceHz = 8_000_000
	}
	if cfg.Divider == 0 {
		cfg.Divider = 64
	}
	if cfg.Strategy == "" {
		cfg.Strategy = capture.KindEdge
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	clockHz := cfg.SourceHz / cfg.Divider
	if clockHz == 0 {
		return nil, fmt.Errorf("convert: timer clock %d/%d is zero", cfg.SourceHz, cfg.Divider)
	}

	s := &Service{
		cfg:     cfg,
		clockHz: clockHz,
		ctl:     ctl,
		x:       ctl.NewContext(),
		log:     cfg.Logger,
		pipes:   pipes,
		stopCh:  make(chan struct{}),
	}
	for _, p := range pipes {
		name := p.Channel.Name
		if p.Input == nil || p.Output == nil {
			return nil, fmt.Errorf("convert: channel %s needs an input and an output", name)
		}
		if p.Channel.Divisor == 0 {
			return nil, fmt.Errorf("convert: channel %s divisor must be > 0", name)
		}
		if err := p.Input.ConfigureClockDivider(cfg.Divider); err != nil {
			return nil, fmt.Errorf("convert: channel %s input clock: %w", name, err)
		}
		if err := p.Output.ConfigureClockDivider(cfg.Divider); err != nil {
			return nil, fmt.Errorf("convert: channel %s output clock: %w", name, err)
		}
		strategy, err := capture.New(p.Input, capture.Options{
			Kind:          cfg.Strategy,
			TickHz:        clockHz,
			ControlPeriod: cfg.Period,
			StaleTicks:    cfg.StaleTicks,
		})
		if err != nil {
			return nil, fmt.Errorf("convert: channel %s: %w", name, err)
		}
		synth := NewSynthesizer(p.Output, clockHz, cfg.Mode)
		s.channels = append(s.channels, NewChannel(p.Channel, strategy, synth))
	}

	s.snap = Snapshot{
		Strategy:     string(cfg.Strategy),
		OutputMode:   cfg.Mode.String(),
		TimerClockHz: clockHz,
		PeriodMS:     cfg.Period.Milliseconds(),
	}
	return s, nil
}

// TimerClockHz returns the tick rate shared by every timer.
func (s *Service) TimerClockHz() uint32 { return s.clockHz }

// Channels returns the channels in pipe order.
func (s *Service) Channels() []*Channel { return s.channels }

// Channel returns the named channel, or nil.
func (s *Service) Channel(name string) *Channel {
	for _, c := range s.channels {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.RLock()
	snap := s.snap
	s.mu.RUnlock()

	snap.Channels = make([]ChannelSnapshot, 0, len(s.channels))
	for _, c := range s.channels {
		snap.Channels = append(snap.Channels, c.Snapshot())
	}
	snap.IRQ = s.ctl.Stats()
	return snap
}

func (s *Service) setState(update func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	update(&s.snap)
}

// Arm parks every output and arms every capture. Start calls it; callers
// that drive Tick themselves call it once first.
func (s *Service) Arm() {
	s.armOnce.Do(func() {
		for _, c := range s.channels {
			c.Start(s.x)
		}
		s.setState(func(sn *Snapshot) { sn.Running = true })
	})
}

// Tick runs one control period across all channels.
func (s *Service) Tick() {
	for _, c := range s.channels {
		prev := c.Snapshot()
		s.logEvents(prev, c.Step(s.x))
	}
	s.setState(func(sn *Snapshot) {
		sn.Ticks++
		sn.LastTickAt = time.Now().UTC()
	})
}

// logEvents records output state changes as channel=<name> lines, which the
// web log view filters on.
func (s *Service) logEvents(prev, cur ChannelSnapshot) {
	switch {
	case prev.TargetHz == 0 && cur.TargetHz > 0:
		s.log.Printf("convert: channel=%s event=driven target_hz=%d compare=%d", cur.Name, cur.TargetHz, cur.Compare)
	case prev.TargetHz > 0 && cur.TargetHz == 0:
		s.log.Printf("convert: channel=%s event=parked", cur.Name)
	}
	if cur.Forced > prev.Forced {
		s.log.Printf("convert: channel=%s event=rollover target_hz=%d compare=%d forced_total=%d",
			cur.Name, cur.TargetHz, cur.Compare, cur.Forced)
	}
}

// Start arms the channels and runs the control loop until ctx is done or
// Close is called.
func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("convert: service is nil")
	}
	s.Arm()
	s.log.Printf("convert: started channels=%d period=%s strategy=%s mode=%s timer_hz=%d",
		len(s.channels), s.cfg.Period, s.cfg.Strategy, s.cfg.Mode, s.clockHz)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runLoop(ctx)
	}()

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.stopCh:
		}
	}()
	return nil
}

func (s *Service) runLoop(ctx context.Context) {
	tick, stop := newTickerFn(s.cfg.Period)
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-tick:
			s.Tick()
		}
	}
}

// Close stops the loop, parks every output and releases the pins.
func (s *Service) Close() error {
	if s == nil {
		return nil
	}
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()

	var err error
	s.doneOnce.Do(func() {
		for _, c := range s.channels {
			c.Park(s.x)
		}
		var errs []error
		for _, p := range s.pipes {
			if cerr := p.Input.Close(); cerr != nil {
				errs = append(errs, fmt.Errorf("convert: close %s input: %w", p.Channel.Name, cerr))
			}
			if cerr := p.Output.Close(); cerr != nil {
				errs = append(errs, fmt.Errorf("convert: close %s output: %w", p.Channel.Name, cerr))
			}
		}
		err = errors.Join(errs...)
		s.setState(func(sn *Snapshot) {
			sn.Running = false
			if err != nil {
				sn.LastError = err.Error()
			}
		})
		s.log.Printf("convert: stopped ticks=%d", s.Snapshot().Ticks)
	})
	return err
}
