//go:build linux

package periph

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// SysfsPWMConfig selects a hardware PWM channel under /sys/class/pwm.
//
// On Raspberry Pi, `dtoverlay=pwm-2chan` exposes GPIO18/GPIO19 as channels 0
// and 1 of a pwmchip.
type SysfsPWMConfig struct {
	// Chip is N in pwmchipN. Negative picks the first chip with enough channels.
	Chip    int
	Channel int
	// SourceHz is the timebase that ConfigureClockDivider divides down.
	SourceHz uint32
	// FullPeriod makes one compare value span a whole output cycle instead of
	// half of one.
	FullPeriod bool
}

// sysfsPWM turns compare values into a PWM period at 50% duty. The hardware
// latches a new period at the end of the running cycle, so it never wraps.
type sysfsPWM struct {
	chipPath string // /sys/class/pwm/pwmchipN
	pwmPath  string // /sys/class/pwm/pwmchipN/pwmM
	channel  int

	sourceHz uint32
	full     bool

	mu       sync.Mutex
	tickHz   uint32
	compare  uint16
	periodNS uint64
	base     time.Time
	enabled  bool
}

var pwmSysfsBase = "/sys/class/pwm"

// OpenSysfsPWM exports the channel and leaves it disabled until the first
// compare value arrives.
func OpenSysfsPWM(cfg SysfsPWMConfig) (Output, error) {
	chipPath, err := findPWMChip(cfg.Chip, cfg.Channel)
	if err != nil {
		return nil, err
	}

	d := &sysfsPWM{
		chipPath: chipPath,
		channel:  cfg.Channel,
		pwmPath:  filepath.Join(chipPath, fmt.Sprintf("pwm%d", cfg.Channel)),
		sourceHz: cfg.SourceHz,
		full:     cfg.FullPeriod,
		tickHz:   cfg.SourceHz,
		compare:  CounterMax,
		base:     time.Now(),
	}

	if err := d.ensureExported(); err != nil {
		return nil, err
	}
	_ = d.writeBool("enable", false)
	return d, nil
}

func findPWMChip(chip, channel int) (string, error) {
	base := pwmSysfsBase
	if chip >= 0 {
		path := filepath.Join(base, fmt.Sprintf("pwmchip%d", chip))
		n, err := readInt(filepath.Join(path, "npwm"))
		if err != nil {
			return "", fmt.Errorf("periph: read %s: %w", path, err)
		}
		if channel >= n {
			return "", fmt.Errorf("periph: pwmchip%d has %d channels, want channel %d", chip, n, channel)
		}
		return path, nil
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		return "", fmt.Errorf("periph: read %s: %w", base, err)
	}
	// pwmchipN entries are usually symlinks, not directories.
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "pwmchip") {
			continue
		}
		path := filepath.Join(base, name)
		n, rerr := readInt(filepath.Join(path, "npwm"))
		if rerr != nil || channel >= n {
			continue
		}
		return path, nil
	}
	return "", fmt.Errorf("periph: no sysfs pwmchip with channel %d (is pwm overlay enabled?)", channel)
}

func (d *sysfsPWM) ensureExported() error {
	if _, err := os.Stat(d.pwmPath); err == nil {
		return nil
	}
	exportPath := filepath.Join(d.chipPath, "export")
	if err := writeSysfs(exportPath, strconv.Itoa(d.channel)); err != nil {
		// Exported by someone else in the meantime.
		if _, statErr := os.Stat(d.pwmPath); statErr == nil {
			return nil
		}
		return fmt.Errorf("periph: export pwm: %w", err)
	}

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(d.pwmPath); err == nil {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := os.Stat(d.pwmPath); err != nil {
		return fmt.Errorf("periph: pwm path not created after export: %w", err)
	}
	return nil
}

func (d *sysfsPWM) periodFor(compare uint16) uint64 {
	ticks := uint64(compare)
	if !d.full {
		ticks *= 2
	}
	if d.tickHz == 0 {
		return 0
	}
	ns := ticks * uint64(time.Second) / uint64(d.tickHz)
	if ns == 0 {
		ns = 1
	}
	return ns
}

// apply writes period and duty in an order that keeps duty <= period, which
// the kernel enforces on every write.
func (d *sysfsPWM) apply(periodNS uint64) error {
	duty := periodNS / 2
	if periodNS < d.periodNS {
		if err := d.writeUint("duty_cycle", duty); err != nil {
			return err
		}
		if err := d.writeUint("period", periodNS); err != nil {
			return err
		}
	} else {
		if err := d.writeUint("period", periodNS); err != nil {
			return err
		}
		if err := d.writeUint("duty_cycle", duty); err != nil {
			return err
		}
	}
	d.periodNS = periodNS
	if !d.enabled {
		if err := d.writeBool("enable", true); err != nil {
			return err
		}
		d.enabled = true
		d.base = time.Now()
	}
	return nil
}

func (d *sysfsPWM) ConfigureClockDivider(divisor uint32) error {
	if divisor == 0 {
		return fmt.Errorf("periph: clock divider must be > 0")
	}
	hz := d.sourceHz / divisor
	if hz == 0 {
		return fmt.Errorf("periph: divider %d leaves no ticks from %d Hz", divisor, d.sourceHz)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tickHz = hz
	return nil
}

// ReadCounter reports ticks into the running cycle. It stays below the
// compare value.
func (d *sysfsPWM) ReadCounter() uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.compare == 0 || d.tickHz == 0 {
		return 0
	}
	elapsed := uint64(time.Since(d.base)) * uint64(d.tickHz) / uint64(time.Second)
	return uint16(elapsed % uint64(d.compare))
}

func (d *sysfsPWM) SetCompare(ticks uint16) {
	if ticks == 0 {
		ticks = 1
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.compare = ticks
	if ticks == CounterMax {
		// Parked: hold the gauge input still.
		_ = d.writeBool("enable", false)
		d.enabled = false
		return
	}
	_ = d.apply(d.periodFor(ticks))
}

func (d *sysfsPWM) ForceCompareMatch() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.enabled {
		return
	}
	_ = d.writeBool("enable", false)
	_ = d.writeBool("enable", true)
	d.base = time.Now()
}

func (d *sysfsPWM) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.writeBool("enable", false)
	d.enabled = false
	return err
}

func (d *sysfsPWM) writeUint(name string, v uint64) error {
	return writeSysfs(filepath.Join(d.pwmPath, name), strconv.FormatUint(v, 10))
}

func (d *sysfsPWM) writeBool(name string, v bool) error {
	val := "0"
	if v {
		val = "1"
	}
	return writeSysfs(filepath.Join(d.pwmPath, name), val)
}

// writeSysfs opens without O_TRUNC/O_CREATE, which some attributes reject.
// Right after export, udev may still be fixing permissions on the new files,
// so EACCES and ENOENT are retried for a short while.
func writeSysfs(path string, value string) error {
	deadline := time.Now().Add(2 * time.Second)
	var lastErr error
	for {
		f, err := os.OpenFile(path, os.O_WRONLY, 0)
		if err != nil {
			lastErr = err
			if time.Now().Before(deadline) && isRetryableSysfsErr(err) {
				time.Sleep(25 * time.Millisecond)
				continue
			}
			return err
		}
		_, werr := f.WriteString(value)
		cerr := f.Close()
		if werr == nil && cerr == nil {
			return nil
		}
		lastErr = werr
		if lastErr == nil {
			lastErr = cerr
		}
		if time.Now().Before(deadline) && isRetryableSysfsErr(lastErr) {
			time.Sleep(25 * time.Millisecond)
			continue
		}
		return errors.Join(werr, cerr)
	}
}

func isRetryableSysfsErr(err error) bool {
	return os.IsPermission(err) || os.IsNotExist(err) || errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) || errors.Is(err, syscall.ENOENT)
}

func readInt(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return 0, fmt.Errorf("empty")
	}
	return strconv.Atoi(s)
}
