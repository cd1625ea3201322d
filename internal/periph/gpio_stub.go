//go:build !linux || (!arm && !arm64)

package periph

import (
	"fmt"

	"gaugeconv/internal/irq"
)

// GPIOConfig names a line on a GPIO character device.
type GPIOConfig struct {
	Chip     string
	Line     string
	SourceHz uint32
}

// OpenGPIOInput is unavailable on this platform.
func OpenGPIOInput(ctl *irq.Controller, cfg GPIOConfig) (Input, error) {
	return nil, fmt.Errorf("periph: gpio unsupported on this platform")
}

// OpenGPIOOutput is unavailable on this platform.
func OpenGPIOOutput(cfg GPIOConfig) (Output, error) {
	return nil, fmt.Errorf("periph: gpio unsupported on this platform")
}
