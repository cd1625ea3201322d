package main

import (
	"context"
	"fmt"
	"log"

	"gaugeconv/internal/capture"
	"gaugeconv/internal/config"
	"gaugeconv/internal/convert"
	"gaugeconv/internal/freq"
	"gaugeconv/internal/irq"
	"gaugeconv/internal/periph"
	"gaugeconv/internal/sim"
)

var (
	openGPIOInput  = periph.OpenGPIOInput
	openGPIOOutput = periph.OpenGPIOOutput
	openSysfsPWM   = periph.OpenSysfsPWM
)

// liveRuntime is one running conversion service plus, on the sim
// peripheral, the real-time scenario driver feeding its inputs.
type liveRuntime struct {
	cfg      config.Config
	svc      *convert.Service
	scenario *sim.Scenario
	runner   *sim.Runner
}

func convertConfig(cfg config.Config) (convert.Config, error) {
	mode, err := freq.ParseCompareMode(cfg.OutputMode)
	if err != nil {
		return convert.Config{}, err
	}
	return convert.Config{
		Period:     cfg.Control.Period,
		SourceHz:   cfg.Timer.SourceHz,
		Divider:    cfg.Timer.Divider,
		Strategy:   capture.Kind(cfg.Capture.Strategy),
		StaleTicks: cfg.Capture.StaleTicks,
		Mode:       mode,
	}, nil
}

func channelConfigs(cfg config.Config) []convert.ChannelConfig {
	named := cfg.Channels.Named()
	out := make([]convert.ChannelConfig, 0, len(named))
	for _, ch := range named {
		out = append(out, convert.ChannelConfig{
			Name:       ch.Name,
			Multiplier: ch.Multiplier,
			Divisor:    ch.Divisor,
			Window:     ch.Window,
		})
	}
	return out
}

func loadScenario(cfg config.Config) (*sim.Scenario, error) {
	if cfg.Sim.Scenario == "" {
		return sim.DefaultScenario(), nil
	}
	sc, err := sim.LoadScenario(cfg.Sim.Scenario)
	if err != nil {
		return nil, fmt.Errorf("load scenario %q: %w", cfg.Sim.Scenario, err)
	}
	return sc, nil
}

func newRuntime(cfg config.Config) (*liveRuntime, error) {
	cc, err := convertConfig(cfg)
	if err != nil {
		return nil, err
	}
	ctl := irq.NewController()
	rt := &liveRuntime{cfg: cfg}

	var (
		pipes  []convert.Pipe
		board  *periph.SimBoard
		inputs map[string]*periph.SimInput
	)
	switch cfg.Peripheral {
	case "sim":
		sc, err := loadScenario(cfg)
		if err != nil {
			return nil, err
		}
		rt.scenario = sc
		board = periph.NewSimBoard(ctl, cfg.Timer.SourceHz)
		inputs = map[string]*periph.SimInput{}
		for _, ch := range channelConfigs(cfg) {
			in := board.NewInput(ch.Name)
			inputs[ch.Name] = in
			pipes = append(pipes, convert.Pipe{Channel: ch, Input: in, Output: board.NewOutput(ch.Name)})
		}
	case "gpio":
		pipes, err = openGPIOPipes(ctl, cfg)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown peripheral %q", cfg.Peripheral)
	}

	svc, err := convert.New(cc, ctl, pipes...)
	if err != nil {
		closePipes(pipes)
		return nil, err
	}
	rt.svc = svc

	if board != nil {
		rt.runner = sim.NewRunner(board, rt.scenario, cfg.Sim.Loop, cfg.Sim.Step, inputs)
	}
	return rt, nil
}

func openGPIOPipes(ctl *irq.Controller, cfg config.Config) ([]convert.Pipe, error) {
	var pipes []convert.Pipe
	for _, ch := range cfg.Channels.Named() {
		in, err := openGPIOInput(ctl, periph.GPIOConfig{
			Chip:     ch.Input.Chip,
			Line:     ch.Input.Line,
			SourceHz: cfg.Timer.SourceHz,
		})
		if err != nil {
			closePipes(pipes)
			return nil, fmt.Errorf("channels.%s.input: %w", ch.Name, err)
		}

		var out periph.Output
		switch ch.Output.Backend {
		case "pwm":
			out, err = openSysfsPWM(periph.SysfsPWMConfig{
				Chip:       ch.Output.PWMChip,
				Channel:    ch.Output.PWMChannel,
				SourceHz:   cfg.Timer.SourceHz,
				FullPeriod: cfg.OutputMode == "full",
			})
		default:
			out, err = openGPIOOutput(periph.GPIOConfig{
				Chip:     ch.Output.Chip,
				Line:     ch.Output.Line,
				SourceHz: cfg.Timer.SourceHz,
			})
		}
		if err != nil {
			_ = in.Close()
			closePipes(pipes)
			return nil, fmt.Errorf("channels.%s.output: %w", ch.Name, err)
		}

		pipes = append(pipes, convert.Pipe{
			Channel: convert.ChannelConfig{
				Name:       ch.Name,
				Multiplier: ch.Multiplier,
				Divisor:    ch.Divisor,
				Window:     ch.Window,
			},
			Input:  in,
			Output: out,
		})
	}
	return pipes, nil
}

func closePipes(pipes []convert.Pipe) {
	for _, p := range pipes {
		if p.Input != nil {
			_ = p.Input.Close()
		}
		if p.Output != nil {
			_ = p.Output.Close()
		}
	}
}

func (rt *liveRuntime) scenarioName() string {
	if rt.scenario == nil {
		return ""
	}
	return rt.scenario.Name()
}

// Start arms the service and, on the sim peripheral, starts feeding inputs.
func (rt *liveRuntime) Start(ctx context.Context) error {
	if err := rt.svc.Start(ctx); err != nil {
		return err
	}
	if rt.runner != nil {
		log.Printf("sim scenario=%q loop=%t step=%s", rt.scenarioName(), rt.cfg.Sim.Loop, rt.cfg.Sim.Step)
		go rt.runner.Run(ctx)
	}
	return nil
}

func (rt *liveRuntime) Close() error {
	return rt.svc.Close()
}
