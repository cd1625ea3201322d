// Package sim drives simulated pulse-train inputs: scenario scripts describe
// input frequencies over time, a Runner replays them against a SimBoard in
// real time, and a Bench replays them deterministically to measure the
// outputs.
package sim

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// ScenarioScript is a script-driven description of both input signals.
//
// Time is expressed as Go duration strings (e.g. "0s", "250ms", "10s").
// If Duration is zero, it is derived from the latest keyframe time.
//
// YAML schema (v1):
//
//	version: 1
//	name: step
//	duration: 6s
//	keyframes:
//	  - t: 0s
//	    speed_hz: 18
//	    tach_hz: 50
//	    hold: true
//	  - t: 2s
//	    speed_hz: 100
//	    tach_hz: 200
//
// Values are interpolated linearly between keyframes unless the earlier one
// sets hold, in which case they step at the later keyframe. Two keyframes at
// the same t also step.
type ScenarioScript struct {
	Version   int             `yaml:"version"`
	Name      string          `yaml:"name"`
	Duration  time.Duration   `yaml:"duration"`
	Keyframes []InputKeyframe `yaml:"keyframes"`
}

// InputKeyframe is a time-stamped pair of input frequencies.
type InputKeyframe struct {
	T       time.Duration `yaml:"t"`
	SpeedHz float64       `yaml:"speed_hz"`
	TachHz  float64       `yaml:"tach_hz"`
	Hold    bool          `yaml:"hold"`
}

// Scenario is the validated, runtime representation.
type Scenario struct {
	script   ScenarioScript
	duration time.Duration
}

// LoadScenarioScript reads and unmarshals a YAML scenario script from path.
func LoadScenarioScript(path string) (ScenarioScript, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return ScenarioScript{}, err
	}
	return ParseScenarioScriptYAML(b)
}

// ParseScenarioScriptYAML parses a YAML scenario script.
func ParseScenarioScriptYAML(b []byte) (ScenarioScript, error) {
	var s ScenarioScript
	if err := yaml.Unmarshal(b, &s); err != nil {
		return ScenarioScript{}, err
	}
	return s, nil
}

// LoadScenario loads and validates the script at path.
func LoadScenario(path string) (*Scenario, error) {
	script, err := LoadScenarioScript(path)
	if err != nil {
		return nil, err
	}
	return NewScenario(script)
}

// NewScenario validates script and returns a runtime Scenario.
func NewScenario(script ScenarioScript) (*Scenario, error) {
	if script.Version == 0 {
		script.Version = 1
	}
	if script.Version != 1 {
		return nil, fmt.Errorf("unsupported scenario version %d", script.Version)
	}
	if len(script.Keyframes) == 0 {
		return nil, fmt.Errorf("keyframes is required")
	}
	for i, kf := range script.Keyframes {
		if kf.T < 0 {
			return nil, fmt.Errorf("keyframes[%d].t must be >= 0", i)
		}
		if i > 0 && kf.T < script.Keyframes[i-1].T {
			return nil, fmt.Errorf("keyframes must be sorted by t (index %d)", i)
		}
		if kf.SpeedHz < 0 || kf.TachHz < 0 {
			return nil, fmt.Errorf("keyframes[%d] frequencies must be >= 0", i)
		}
	}

	dur := script.Duration
	if dur <= 0 {
		dur = script.Keyframes[len(script.Keyframes)-1].T
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration is required (or deriveable from keyframes)")
	}
	return &Scenario{script: script, duration: dur}, nil
}

// DefaultScenario sweeps both inputs through a stop, a steady cruise, a hard
// step up and a step back down.
func DefaultScenario() *Scenario {
	s, _ := NewScenario(ScenarioScript{
		Name:     "default",
		Duration: 8 * time.Second,
		Keyframes: []InputKeyframe{
			{T: 0, SpeedHz: 0, TachHz: 0, Hold: true},
			{T: 500 * time.Millisecond, SpeedHz: 18, TachHz: 50, Hold: true},
			{T: 3 * time.Second, SpeedHz: 100, TachHz: 200, Hold: true},
			{T: 6 * time.Second, SpeedHz: 40, TachHz: 90, Hold: true},
		},
	})
	return s
}

// Name returns the script name.
func (s *Scenario) Name() string {
	if s == nil {
		return ""
	}
	return s.script.Name
}

// Duration returns the effective scenario duration.
func (s *Scenario) Duration() time.Duration {
	if s == nil {
		return 0
	}
	return s.duration
}

// InputState is the pair of input frequencies at a point in time.
type InputState struct {
	SpeedHz float64 `json:"speed_hz"`
	TachHz  float64 `json:"tach_hz"`
}

// Hz returns the frequency for a channel name.
func (st InputState) Hz(channel string) float64 {
	switch channel {
	case "speed":
		return st.SpeedHz
	case "tach":
		return st.TachHz
	}
	return 0
}

// StateAt computes the input frequencies at elapsed.
//
// If loop is true, elapsed wraps around Duration(). Otherwise elapsed is clamped
// to [0, Duration()].
func (s *Scenario) StateAt(elapsed time.Duration, loop bool) InputState {
	if s == nil {
		return InputState{}
	}
	if elapsed < 0 {
		elapsed = 0
	}
	if s.duration > 0 {
		if loop {
			elapsed = elapsed % s.duration
		} else if elapsed > s.duration {
			elapsed = s.duration
		}
	}

	kf0, kf1, alpha := selectSegment(s.script.Keyframes, elapsed)
	return InputState{
		SpeedHz: lerp(kf0.SpeedHz, kf1.SpeedHz, alpha),
		TachHz:  lerp(kf0.TachHz, kf1.TachHz, alpha),
	}
}

func selectSegment(kfs []InputKeyframe, t time.Duration) (InputKeyframe, InputKeyframe, float64) {
	if len(kfs) == 1 {
		return kfs[0], kfs[0], 0
	}
	idx := sort.Search(len(kfs), func(i int) bool { return kfs[i].T > t })
	if idx <= 0 {
		return kfs[0], kfs[0], 0
	}
	if idx >= len(kfs) {
		last := kfs[len(kfs)-1]
		return last, last, 0
	}
	k0 := kfs[idx-1]
	k1 := kfs[idx]
	dt := k1.T - k0.T
	if dt <= 0 {
		return k1, k1, 0
	}
	if k0.Hold {
		return k0, k0, 0
	}
	alpha := float64(t-k0.T) / float64(dt)
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}
	return k0, k1, alpha
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}
