//go:build !linux

package periph

import "fmt"

// SysfsPWMConfig selects a hardware PWM channel under /sys/class/pwm.
type SysfsPWMConfig struct {
	Chip       int
	Channel    int
	SourceHz   uint32
	FullPeriod bool
}

// OpenSysfsPWM is unavailable on this platform.
func OpenSysfsPWM(cfg SysfsPWMConfig) (Output, error) {
	return nil, fmt.Errorf("periph: pwm unsupported on this platform")
}
