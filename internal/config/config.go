package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Control    ControlConfig   `yaml:"control"`
	Timer      TimerConfig     `yaml:"timer"`
	Capture    CaptureConfig   `yaml:"capture"`
	Peripheral string          `yaml:"peripheral"`
	OutputMode string          `yaml:"output_mode"`
	Channels   ChannelsConfig  `yaml:"channels"`
	Sim        SimConfig       `yaml:"sim"`
	Web        WebConfig       `yaml:"web"`
	Telemetry  TelemetryConfig `yaml:"telemetry"`
	Log        LogConfig       `yaml:"log"`
}

type ControlConfig struct {
	Period time.Duration `yaml:"period"`
}

type TimerConfig struct {
	SourceHz uint32 `yaml:"source_hz"`
	Divider  uint32 `yaml:"divider"`
}

// ClockHz is the tick rate every timer runs at.
func (t TimerConfig) ClockHz() uint32 {
	if t.Divider == 0 {
		return 0
	}
	return t.SourceHz / t.Divider
}

type CaptureConfig struct {
	Strategy string `yaml:"strategy"`
	// StaleTicks is how many control ticks an edge estimate survives without
	// a new capture. Negative disables the timeout.
	StaleTicks int `yaml:"stale_ticks"`
}

type ChannelsConfig struct {
	Speed ChannelConfig `yaml:"speed"`
	Tach  ChannelConfig `yaml:"tach"`
}

// Named returns the channels in a fixed order with their names.
func (c ChannelsConfig) Named() []NamedChannel {
	return []NamedChannel{
		{Name: "speed", ChannelConfig: c.Speed},
		{Name: "tach", ChannelConfig: c.Tach},
	}
}

type NamedChannel struct {
	Name string
	ChannelConfig
}

type ChannelConfig struct {
	Multiplier uint32       `yaml:"multiplier"`
	Divisor    uint32       `yaml:"divisor"`
	Window     int          `yaml:"window"`
	Input      InputConfig  `yaml:"input"`
	Output     OutputConfig `yaml:"output"`
}

type InputConfig struct {
	Chip string `yaml:"chip"`
	Line string `yaml:"line"`
}

type OutputConfig struct {
	// Backend is "gpio" (software compare on a GPIO line) or "pwm" (sysfs PWM).
	Backend    string `yaml:"backend"`
	Chip       string `yaml:"chip"`
	Line       string `yaml:"line"`
	PWMChip    int    `yaml:"pwm_chip"`
	PWMChannel int    `yaml:"pwm_channel"`
}

type SimConfig struct {
	Scenario string `yaml:"scenario"`
	Loop     bool   `yaml:"loop"`
	// Step is how often the real-time driver advances the board.
	Step time.Duration `yaml:"step"`
}

type WebConfig struct {
	Listen string `yaml:"listen"`
}

type TelemetryConfig struct {
	Dest     string        `yaml:"dest"`
	Interval time.Duration `yaml:"interval"`
}

type LogConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Default returns the configuration used for every key a file leaves out.
func Default() Config {
	return Config{
		Control: ControlConfig{Period: 100 * time.Millisecond},
		Timer:   TimerConfig{SourceHz: 8_000_000, Divider: 64},
		Capture: CaptureConfig{Strategy: "edge", StaleTicks: 5},

		Peripheral: "sim",
		OutputMode: "toggle",
		Channels: ChannelsConfig{
			Speed: ChannelConfig{
				Multiplier: 53,
				Divisor:    10,
				Window:     5,
				Input:      InputConfig{Line: "GPIO17"},
				Output:     OutputConfig{Backend: "gpio", Line: "GPIO27", PWMChannel: 0},
			},
			Tach: ChannelConfig{
				Multiplier: 4,
				Divisor:    3,
				Window:     5,
				Input:      InputConfig{Line: "GPIO22"},
				Output:     OutputConfig{Backend: "gpio", Line: "GPIO23", PWMChannel: 1},
			},
		},
		Sim:       SimConfig{Loop: true, Step: 10 * time.Millisecond},
		Web:       WebConfig{Listen: ":8080"},
		Telemetry: TelemetryConfig{Interval: time.Second},
		Log:       LogConfig{MaxSizeMB: 10, MaxBackups: 4, MaxAgeDays: 28},
	}
}

// Load reads a YAML file over Default and validates the result. Unknown keys
// are rejected.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration and fills defaults for keys that were
// set to zero.
func (c *Config) Validate() error {
	if c.Control.Period <= 0 {
		return fmt.Errorf("control.period must be > 0")
	}
	if c.Timer.SourceHz == 0 {
		return fmt.Errorf("timer.source_hz must be > 0")
	}
	if c.Timer.Divider == 0 {
		return fmt.Errorf("timer.divider must be > 0")
	}
	if c.Timer.ClockHz() == 0 {
		return fmt.Errorf("timer.divider %d exceeds timer.source_hz %d", c.Timer.Divider, c.Timer.SourceHz)
	}

	switch c.Capture.Strategy {
	case "edge", "window":
	default:
		return fmt.Errorf("capture.strategy must be 'edge' or 'window'")
	}
	if c.Capture.StaleTicks == 0 {
		c.Capture.StaleTicks = 5
	}

	switch c.Peripheral {
	case "sim", "gpio":
	default:
		return fmt.Errorf("peripheral must be 'sim' or 'gpio'")
	}
	switch c.OutputMode {
	case "toggle", "full":
	default:
		return fmt.Errorf("output_mode must be 'toggle' or 'full'")
	}

	for _, ch := range c.Channels.Named() {
		if err := ch.validate(c.Peripheral); err != nil {
			return err
		}
	}

	if c.Web.Listen == "" {
		return fmt.Errorf("web.listen is required")
	}
	if c.Telemetry.Interval <= 0 {
		c.Telemetry.Interval = time.Second
	}
	if c.Sim.Step <= 0 {
		c.Sim.Step = 10 * time.Millisecond
	}
	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = 10
	}
	if c.Log.MaxBackups < 0 {
		return fmt.Errorf("log.max_backups must be >= 0")
	}
	return nil
}

func (ch NamedChannel) validate(peripheral string) error {
	if ch.Multiplier == 0 {
		return fmt.Errorf("channels.%s.multiplier must be > 0", ch.Name)
	}
	if ch.Divisor == 0 {
		return fmt.Errorf("channels.%s.divisor must be > 0", ch.Name)
	}
	if ch.Window < 1 {
		return fmt.Errorf("channels.%s.window must be >= 1", ch.Name)
	}
	switch ch.Output.Backend {
	case "gpio", "pwm":
	default:
		return fmt.Errorf("channels.%s.output.backend must be 'gpio' or 'pwm'", ch.Name)
	}
	if peripheral != "gpio" {
		return nil
	}
	if ch.Input.Line == "" {
		return fmt.Errorf("channels.%s.input.line is required when peripheral is 'gpio'", ch.Name)
	}
	if ch.Output.Backend == "gpio" && ch.Output.Line == "" {
		return fmt.Errorf("channels.%s.output.line is required when output.backend is 'gpio'", ch.Name)
	}
	if ch.Output.Backend == "pwm" && ch.Output.PWMChannel < 0 {
		return fmt.Errorf("channels.%s.output.pwm_channel must be >= 0", ch.Name)
	}
	return nil
}
