package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gaugeconv/internal/capture"
	"gaugeconv/internal/convert"
)

func benchChannels() []convert.ChannelConfig {
	return []convert.ChannelConfig{
		{Name: "speed", Multiplier: 53, Divisor: 10, Window: 5},
		{Name: "tach", Multiplier: 4, Divisor: 3, Window: 5},
	}
}

func newTestBench(t *testing.T, kind capture.Kind, keyframes ...InputKeyframe) *Bench {
	t.Helper()
	scn, err := NewScenario(ScenarioScript{Name: t.Name(), Duration: 4 * time.Second, Keyframes: keyframes})
	require.NoError(t, err)
	b, err := NewBench(BenchConfig{
		Convert: convert.Config{
			Period:     100 * time.Millisecond,
			SourceHz:   8_000_000,
			Divider:    64,
			Strategy:   kind,
			StaleTicks: 5,
		},
		Channels: benchChannels(),
		Scenario: scn,
		Measure:  500 * time.Millisecond,
	})
	require.NoError(t, err)
	return b
}

func channel(t *testing.T, res Result, name string) ChannelResult {
	t.Helper()
	for _, ch := range res.Channels {
		if ch.Name == name {
			return ch
		}
	}
	t.Fatalf("no channel %q in %+v", name, res)
	return ChannelResult{}
}

func TestBench_MinimumSpeedOutput(t *testing.T) {
	b := newTestBench(t, capture.KindEdge, InputKeyframe{T: 0, SpeedHz: 18, TachHz: 0, Hold: true})

	res := b.Run(2 * time.Second)
	speed := channel(t, res, "speed")
	assert.Equal(t, uint32(95), speed.TargetHz)
	assert.Equal(t, uint32(658), speed.Compare)
	assert.InDelta(t, 95, speed.MeasuredHz, 0.5)
	assert.Less(t, speed.StdDevHz, 0.5)

	tach := channel(t, res, "tach")
	assert.Equal(t, uint32(0), tach.TargetHz)
	assert.Equal(t, uint64(0), tach.MaxGapTicks)
	assert.Equal(t, uint64(20), res.Ticks)
}

func TestBench_StepConvergesWithoutWrap(t *testing.T) {
	b := newTestBench(t, capture.KindEdge,
		InputKeyframe{T: 0, SpeedHz: 18, TachHz: 50, Hold: true},
		InputKeyframe{T: 2 * time.Second, SpeedHz: 100, TachHz: 200, Hold: true},
		InputKeyframe{T: 4 * time.Second, SpeedHz: 100, TachHz: 200},
	)

	res := b.RunScenario()
	require.Equal(t, 4*time.Second, res.Elapsed)

	speed := channel(t, res, "speed")
	assert.Equal(t, uint32(530), speed.TargetHz)
	assert.InDelta(t, 530, speed.MeasuredHz, 1)

	tach := channel(t, res, "tach")
	assert.Equal(t, uint32(267), tach.TargetHz)
	assert.InDelta(t, 267, tach.MeasuredHz, 1)

	// A wrap shows up as a gap close to the whole counter range. Driven
	// gaps here never exceed the first, lowest-frequency compare values.
	for _, ch := range res.Channels {
		assert.Less(t, ch.MaxGapTicks, uint64(10_000), ch.Name)
	}
}

func TestBench_CoincidentEdgesAndMatchesNeverWrap(t *testing.T) {
	// 1250 Hz in is an edge every 100 ticks. 4/1 gives 5000 Hz, a period of
	// 25 ticks and a compare of 13. gcd(13, 100) == 1, so compare matches keep
	// landing on edge ticks whatever the phase.
	scn, err := NewScenario(ScenarioScript{
		Name:      t.Name(),
		Duration:  2 * time.Second,
		Keyframes: []InputKeyframe{{T: 0, SpeedHz: 1250, Hold: true}},
	})
	require.NoError(t, err)
	b, err := NewBench(BenchConfig{
		Convert: convert.Config{
			Period:     100 * time.Millisecond,
			SourceHz:   8_000_000,
			Divider:    64,
			Strategy:   capture.KindEdge,
			StaleTicks: 5,
		},
		Channels: []convert.ChannelConfig{{Name: "speed", Multiplier: 4, Divisor: 1, Window: 5}},
		Scenario: scn,
		Measure:  500 * time.Millisecond,
	})
	require.NoError(t, err)

	res := b.RunScenario()
	speed := channel(t, res, "speed")
	require.Equal(t, uint32(5000), speed.TargetHz)
	require.Equal(t, uint32(13), speed.Compare)

	shared := 0
	for _, at := range b.Output("speed").Toggles() {
		if at%100 == 0 {
			shared++
		}
	}
	require.Positive(t, shared, "no toggle landed on an edge tick")

	assert.Less(t, speed.MaxGapTicks, uint64(1000))
	assert.InDelta(t, 125000.0/26, speed.MeasuredHz, 1)
	assert.Less(t, speed.StdDevHz, 1.0)
}

func TestBench_WindowStrategy(t *testing.T) {
	b := newTestBench(t, capture.KindWindow, InputKeyframe{T: 0, SpeedHz: 100, TachHz: 100, Hold: true})

	res := b.Run(2 * time.Second)
	speed := channel(t, res, "speed")
	assert.Equal(t, uint32(530), speed.TargetHz)
	tach := channel(t, res, "tach")
	assert.Equal(t, uint32(133), tach.TargetHz)
}

func TestBench_IsDeterministic(t *testing.T) {
	kfs := []InputKeyframe{
		{T: 0, SpeedHz: 20, TachHz: 40},
		{T: 3 * time.Second, SpeedHz: 120, TachHz: 300},
	}
	a := newTestBench(t, capture.KindEdge, kfs...).Run(3 * time.Second)
	b := newTestBench(t, capture.KindEdge, kfs...).Run(3 * time.Second)
	assert.Equal(t, a, b)
}

func TestNewBench_RequiresScenario(t *testing.T) {
	_, err := NewBench(BenchConfig{Channels: benchChannels()})
	require.EqualError(t, err, "sim: bench needs a scenario")
}

func TestGapTracker_SkipsParkedAndFirstGap(t *testing.T) {
	var g gapTracker
	g.observe([]uint64{65535}, true, 70_000)
	g.observe([]uint64{65535, 70_000}, false, 70_000)
	g.observe([]uint64{65535, 70_000, 70_600, 71_200, 71_900}, false, 72_000)
	assert.Equal(t, uint64(700), g.max)

	g.observe(nil, true, 80_000)
	g.observe([]uint64{90_000}, false, 90_000)
	g.observe([]uint64{90_000, 90_100, 90_200}, false, 91_000)
	assert.Equal(t, uint64(700), g.max)
}
