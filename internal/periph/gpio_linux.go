//go:build linux && (arm || arm64)

package periph

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
	"golang.org/x/sys/unix"

	"gaugeconv/internal/irq"
)

const gpioConsumer = "gaugeconv"

// GPIOConfig names a line on a GPIO character device.
type GPIOConfig struct {
	// Chip is a device path such as /dev/gpiochip0. Empty searches all chips.
	Chip string
	// Line is the line name, e.g. "GPIO17".
	Line string
	// SourceHz is the timebase that ConfigureClockDivider divides down.
	SourceHz uint32
}

// monotonic reads CLOCK_MONOTONIC, the clock the kernel stamps line events
// with.
func monotonic() time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return time.Duration(ts.Nano())
}

func durToTicks(d time.Duration, tickHz uint32) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64(d) * uint64(tickHz) / uint64(time.Second)
}

func ticksToDur(ticks uint64, tickHz uint32) time.Duration {
	if tickHz == 0 {
		return 0
	}
	return time.Duration(ticks * uint64(time.Second) / uint64(tickHz))
}

func tickHzFor(sourceHz, divisor uint32) (uint32, error) {
	if divisor == 0 {
		return 0, fmt.Errorf("periph: clock divider must be > 0")
	}
	hz := sourceHz / divisor
	if hz == 0 {
		return 0, fmt.Errorf("periph: divider %d leaves no ticks from %d Hz", divisor, sourceHz)
	}
	return hz, nil
}

// requestLine finds lineName on chipPath (or on any chip when chipPath is
// empty) and requests it with opts.
func requestLine(chipPath, lineName string, opts ...gpiocdev.LineReqOption) (*gpiocdev.Chip, *gpiocdev.Line, error) {
	if strings.TrimSpace(lineName) == "" {
		return nil, nil, fmt.Errorf("periph: gpio line name is required")
	}

	var chipCandidates []string
	if chipPath != "" {
		chipCandidates = []string{chipPath}
	} else {
		// Pi 5 kernels may expose the header on gpiochip4.
		chipCandidates = []string{"/dev/gpiochip0", "/dev/gpiochip4"}
		entries, _ := os.ReadDir("/dev")
		for _, e := range entries {
			name := e.Name()
			if strings.HasPrefix(name, "gpiochip") {
				chipCandidates = append(chipCandidates, filepath.Join("/dev", name))
			}
		}
	}

	opts = append(opts, gpiocdev.WithConsumer(gpioConsumer))
	for _, path := range chipCandidates {
		chip, err := gpiocdev.NewChip(path)
		if err != nil {
			continue
		}
		offset, err := chip.FindLine(lineName)
		if err != nil {
			_ = chip.Close()
			continue
		}
		line, err := chip.RequestLine(offset, opts...)
		if err != nil {
			_ = chip.Close()
			continue
		}
		return chip, line, nil
	}
	return nil, nil, fmt.Errorf("periph: gpio line %q not found (or busy)", lineName)
}

// gpioInput timestamps rising edges in the kernel and turns them into
// capture and count registers. Line events arrive on the gpiocdev event
// goroutine, which plays the part of the capture interrupt.
type gpioInput struct {
	ctl      *irq.Controller
	sourceHz uint32
	chip     *gpiocdev.Chip
	line     *gpiocdev.Line

	mu        sync.Mutex
	tickHz    uint32
	base      time.Duration
	capture   uint16
	flag      bool
	intEnable bool
	count     uint16
	handler   irq.Handler
}

// OpenGPIOInput requests cfg.Line as a rising-edge input.
func OpenGPIOInput(ctl *irq.Controller, cfg GPIOConfig) (Input, error) {
	in := &gpioInput{ctl: ctl, sourceHz: cfg.SourceHz, tickHz: cfg.SourceHz, base: monotonic()}
	chip, line, err := requestLine(cfg.Chip, cfg.Line,
		gpiocdev.AsInput,
		gpiocdev.WithRisingEdge,
		gpiocdev.WithEventHandler(in.onEvent),
	)
	if err != nil {
		return nil, err
	}
	in.chip = chip
	in.line = line
	return in, nil
}

func (in *gpioInput) onEvent(evt gpiocdev.LineEvent) {
	if evt.Type != gpiocdev.LineEventRisingEdge {
		return
	}
	in.mu.Lock()
	in.capture = saturate16(durToTicks(evt.Timestamp-in.base, in.tickHz))
	in.base = evt.Timestamp
	in.flag = true
	if in.count < CounterMax {
		in.count++
	}
	var h irq.Handler
	if in.intEnable {
		h = in.handler
	}
	in.mu.Unlock()
	if h != nil {
		in.ctl.Raise(h)
	}
}

func (in *gpioInput) ConfigureClockDivider(divisor uint32) error {
	hz, err := tickHzFor(in.sourceHz, divisor)
	if err != nil {
		return err
	}
	in.mu.Lock()
	in.tickHz = hz
	in.mu.Unlock()
	return nil
}

func (in *gpioInput) ReadCapture() uint16 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.capture
}

func (in *gpioInput) ClearCaptureFlag() {
	in.mu.Lock()
	in.flag = false
	in.mu.Unlock()
}

func (in *gpioInput) EnableCaptureInterrupt() {
	in.mu.Lock()
	in.intEnable = true
	in.mu.Unlock()
}

func (in *gpioInput) DisableCaptureInterrupt() {
	in.mu.Lock()
	in.intEnable = false
	in.mu.Unlock()
}

func (in *gpioInput) SetCaptureHandler(h irq.Handler) {
	in.mu.Lock()
	in.handler = h
	in.mu.Unlock()
}

func (in *gpioInput) ReadCounter() uint16 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.count
}

func (in *gpioInput) ResetCounter() {
	now := monotonic()
	in.mu.Lock()
	in.count = 0
	in.base = now
	in.mu.Unlock()
}

func (in *gpioInput) Close() error {
	if in == nil || in.line == nil {
		return nil
	}
	err := in.line.Close()
	in.line = nil
	if in.chip != nil {
		_ = in.chip.Close()
		in.chip = nil
	}
	return err
}

// gpioOutput is a software compare unit: a goroutine toggles the line each
// time the elapsed ticks reach the compare value.
type gpioOutput struct {
	sourceHz uint32
	chip     *gpiocdev.Chip
	line     *gpiocdev.Line

	mu      sync.Mutex
	tickHz  uint32
	compare uint16
	base    time.Duration
	level   int

	wake     chan struct{}
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// OpenGPIOOutput requests cfg.Line as an output driven low and starts its
// compare goroutine. The compare register starts at CounterMax.
func OpenGPIOOutput(cfg GPIOConfig) (Output, error) {
	chip, line, err := requestLine(cfg.Chip, cfg.Line, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, err
	}
	o := &gpioOutput{
		sourceHz: cfg.SourceHz,
		chip:     chip,
		line:     line,
		tickHz:   cfg.SourceHz,
		compare:  CounterMax,
		base:     monotonic(),
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go o.run()
	return o, nil
}

func (o *gpioOutput) poke() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *gpioOutput) run() {
	defer close(o.done)
	t := time.NewTimer(time.Hour)
	defer t.Stop()
	for {
		o.mu.Lock()
		due := o.base + ticksToDur(uint64(o.compare), o.tickHz)
		o.mu.Unlock()

		now := monotonic()
		if wait := due - now; wait > 0 {
			t.Reset(wait)
			select {
			case <-o.stopCh:
				return
			case <-o.wake:
				continue
			case <-t.C:
			}
			now = monotonic()
		}
		o.match(due, now)
	}
}

// match toggles the line for a match that was due at due. Matches that were
// missed by more than a whole cycle restart the cycle at now.
func (o *gpioOutput) match(due, now time.Duration) {
	o.mu.Lock()
	cycle := ticksToDur(uint64(o.compare), o.tickHz)
	if now-due > cycle {
		due = now
	}
	o.base = due
	o.level ^= 1
	level := o.level
	o.mu.Unlock()
	_ = o.line.SetValue(level)
}

func (o *gpioOutput) ConfigureClockDivider(divisor uint32) error {
	hz, err := tickHzFor(o.sourceHz, divisor)
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.tickHz = hz
	o.mu.Unlock()
	o.poke()
	return nil
}

func (o *gpioOutput) ReadCounter() uint16 {
	now := monotonic()
	o.mu.Lock()
	defer o.mu.Unlock()
	return saturate16(durToTicks(now-o.base, o.tickHz))
}

func (o *gpioOutput) SetCompare(ticks uint16) {
	if ticks == 0 {
		ticks = 1
	}
	o.mu.Lock()
	o.compare = ticks
	o.mu.Unlock()
	o.poke()
}

func (o *gpioOutput) ForceCompareMatch() {
	now := monotonic()
	o.match(now, now)
	o.poke()
}

func (o *gpioOutput) Close() error {
	if o == nil || o.line == nil {
		return nil
	}
	o.stopOnce.Do(func() { close(o.stopCh) })
	<-o.done
	// Leave the gauge input low.
	_ = o.line.SetValue(0)
	err := o.line.Close()
	o.line = nil
	if o.chip != nil {
		_ = o.chip.Close()
		o.chip = nil
	}
	return err
}
