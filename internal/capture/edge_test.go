package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gaugeconv/internal/irq"
	"gaugeconv/internal/periph"
)

const testTickHz = 125_000

func newEdgeRig(t *testing.T, staleTicks int) (*periph.SimBoard, *periph.SimInput, *EdgeInterval, *irq.Context) {
	t.Helper()
	ctl := irq.NewController()
	b := periph.NewSimBoard(ctl, testTickHz)
	in := b.NewInput("speed")
	e := NewEdgeInterval(in, testTickHz, staleTicks)
	x := ctl.NewContext()
	e.Start(x)
	return b, in, e, x
}

// Sequence [arm, edge, edge, edge]: the first edge only latches, the second
// completes the record and disarms, the third is ignored.
func TestEdgeInterval_ArmEdgeEdgeEdge(t *testing.T) {
	b, in, e, x := newEdgeRig(t, 5)
	require.Equal(t, ArmedWaitingFirstEdge, e.State(x))

	// Armed mid-cycle: the interval ending the first edge is partial.
	b.Advance(100)
	in.Edge()
	assert.Equal(t, ArmedWaitingSecondEdge, e.State(x))
	assert.Equal(t, uint32(0), e.Last(x).Seq)

	b.Advance(1000)
	in.Edge()
	assert.Equal(t, Idle, e.State(x))
	assert.False(t, in.CaptureInterruptEnabled())

	// Disarmed until the next control tick.
	b.Advance(2000)
	in.Edge()

	rec := e.Last(x)
	assert.Equal(t, Record{Seq: 1, Ticks: 1000, Edges: 2}, rec)

	assert.Equal(t, uint32(125), e.Sample(x))
	assert.Equal(t, ArmedWaitingFirstEdge, e.State(x))
	assert.True(t, in.CaptureInterruptEnabled())
}

func TestEdgeInterval_StaleEstimateTimesOut(t *testing.T) {
	b, in, e, x := newEdgeRig(t, 5)

	b.Advance(10)
	in.Edge()
	b.Advance(500)
	in.Edge()
	require.Equal(t, uint32(250), e.Sample(x))

	for i := 1; i < 5; i++ {
		assert.Equal(t, uint32(250), e.Sample(x), "tick %d", i)
	}
	assert.Equal(t, uint32(0), e.Sample(x))
	assert.Equal(t, uint32(0), e.Sample(x))
}

func TestEdgeInterval_ZeroStaleTicksKeepsEstimate(t *testing.T) {
	b, in, e, x := newEdgeRig(t, 0)

	b.Advance(10)
	in.Edge()
	b.Advance(500)
	in.Edge()
	require.Equal(t, uint32(250), e.Sample(x))
	for i := 0; i < 20; i++ {
		require.Equal(t, uint32(250), e.Sample(x))
	}
}

func TestNew_NonPositiveStaleTicksDisablesTimeout(t *testing.T) {
	for _, stale := range []int{0, -1} {
		ctl := irq.NewController()
		b := periph.NewSimBoard(ctl, testTickHz)
		in := b.NewInput("speed")
		s, err := New(in, Options{Kind: KindEdge, TickHz: testTickHz, StaleTicks: stale})
		require.NoError(t, err)
		x := ctl.NewContext()
		s.Start(x)

		b.Advance(10)
		in.Edge()
		b.Advance(500)
		in.Edge()
		require.Equal(t, uint32(250), s.Sample(x), "stale=%d", stale)
		for i := 0; i < 20; i++ {
			require.Equal(t, uint32(250), s.Sample(x), "stale=%d tick %d", stale, i)
		}
	}
}

func TestEdgeInterval_SaturatedCaptureIsZero(t *testing.T) {
	b, in, e, x := newEdgeRig(t, 5)

	b.Advance(10)
	in.Edge()
	b.Advance(70_000)
	in.Edge()

	assert.Equal(t, uint16(periph.CounterMax), e.Last(x).Ticks)
	assert.Equal(t, uint32(0), e.Sample(x))
}

func TestEdgeInterval_SpuriousInterruptDisarms(t *testing.T) {
	b, in, e, x := newEdgeRig(t, 5)

	b.Advance(10)
	in.Edge()
	b.Advance(10)
	in.Edge()
	require.Equal(t, Idle, e.State(x))

	// A capture that slips in while idle only switches the interrupt off.
	in.EnableCaptureInterrupt()
	in.Edge()
	assert.False(t, in.CaptureInterruptEnabled())
	assert.Equal(t, uint32(1), e.Last(x).Seq)
	assert.Equal(t, uint32(3), func() uint32 {
		var n uint32
		x.Section(func() { n = e.edges })
		return n
	}())
}

func TestEdgeInterval_PeriodicInput(t *testing.T) {
	ctl := irq.NewController()
	b := periph.NewSimBoard(ctl, testTickHz)
	in := b.NewInput("speed")
	e := NewEdgeInterval(in, testTickHz, 5)
	x := ctl.NewContext()
	e.Start(x)

	in.SetHz(450)
	const ticks = 10
	for i := 0; i < ticks; i++ {
		b.Advance(testTickHz / 10)
		got := e.Sample(x)
		assert.InDelta(t, 450, got, 1, "tick %d", i)
	}

	// Two interrupts per arm at most, however fast the input runs.
	assert.LessOrEqual(t, ctl.Stats().Delivered, uint64(2*ticks+2))
}

func TestNew(t *testing.T) {
	ctl := irq.NewController()
	in := periph.NewSimBoard(ctl, testTickHz).NewInput("tach")

	s, err := New(in, Options{Kind: KindEdge, TickHz: testTickHz, StaleTicks: 5})
	require.NoError(t, err)
	assert.IsType(t, &EdgeInterval{}, s)

	s, err = New(in, Options{Kind: KindWindow, ControlPeriod: 100_000_000})
	require.NoError(t, err)
	assert.IsType(t, &WindowCount{}, s)

	_, err = New(in, Options{Kind: KindWindow})
	require.Error(t, err)

	_, err = New(in, Options{Kind: "poll"})
	require.EqualError(t, err, `capture: unknown strategy "poll"`)
}
