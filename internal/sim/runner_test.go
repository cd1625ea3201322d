package sim

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gaugeconv/internal/irq"
	"gaugeconv/internal/periph"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Add(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestRunner_FollowsWallClockAndScenario(t *testing.T) {
	ticks := make(chan time.Time)
	old := newTickerFn
	newTickerFn = func(time.Duration) (<-chan time.Time, func()) { return ticks, func() {} }
	t.Cleanup(func() { newTickerFn = old })

	board := periph.NewSimBoard(irq.NewController(), 125_000)
	speed := board.NewInput("speed")
	tach := board.NewInput("tach")

	scn, err := NewScenario(ScenarioScript{Keyframes: []InputKeyframe{
		{T: 0, SpeedHz: 10, TachHz: 20},
		{T: time.Second, SpeedHz: 110, TachHz: 20},
	}})
	require.NoError(t, err)

	r := NewRunner(board, scn, true, 0, map[string]*periph.SimInput{"speed": speed, "tach": tach})
	clock := &fakeClock{now: time.Unix(1000, 0)}
	r.nowFn = clock.Now

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()

	clock.Add(500 * time.Millisecond)
	ticks <- time.Now()
	require.Eventually(t, func() bool { return board.Now() == 62_500 }, time.Second, time.Millisecond)
	assert.Equal(t, float64(60), speed.Hz())
	assert.Equal(t, float64(20), tach.Hz())

	// Edges fired while the board advanced.
	assert.Greater(t, speed.ReadCounter(), uint16(0))

	cancel()
	<-done
}

func TestTicksFor(t *testing.T) {
	assert.Equal(t, uint64(12_500), ticksFor(100*time.Millisecond, 125_000))
	assert.Equal(t, uint64(0), ticksFor(-time.Second, 125_000))
}
