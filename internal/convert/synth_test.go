package convert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gaugeconv/internal/freq"
	"gaugeconv/internal/irq"
	"gaugeconv/internal/periph"
)

func newSynthRig(t *testing.T) (*periph.SimBoard, *periph.SimOutput, *irq.Context) {
	t.Helper()
	ctl := irq.NewController()
	b := periph.NewSimBoard(ctl, 125_000)
	return b, b.NewOutput("speed-out"), ctl.NewContext()
}

func TestSynthesizer_ForcesMatchWhenCounterPassedNewCompare(t *testing.T) {
	b, out, x := newSynthRig(t)
	s := NewSynthesizer(out, 125_000, freq.CompareFull)

	b.Advance(100)
	require.Equal(t, uint16(100), out.ReadCounter())

	assert.True(t, s.write(x, 50))
	assert.Equal(t, uint64(1), s.Forced())
	assert.Equal(t, uint64(1), out.Forced())
	assert.Equal(t, uint16(0), out.ReadCounter())

	// The new period takes effect straight away.
	out.ClearToggles()
	b.Advance(50)
	assert.Equal(t, []uint64{150}, out.Toggles())
}

func TestSynthesizer_NoForceWhenCounterBelowCompare(t *testing.T) {
	b, out, x := newSynthRig(t)
	s := NewSynthesizer(out, 125_000, freq.CompareFull)

	b.Advance(40)
	assert.False(t, s.write(x, 50))
	assert.Equal(t, uint64(0), s.Forced())

	b.Advance(10)
	assert.Equal(t, []uint64{50}, out.Toggles())
}

func TestSynthesizer_SkipsUnchangedCompare(t *testing.T) {
	b, out, x := newSynthRig(t)
	s := NewSynthesizer(out, 125_000, freq.CompareToggle)

	s.Apply(x, 2385)
	require.Equal(t, uint32(26), s.Compare())
	require.Equal(t, uint32(52), s.Period())
	require.Equal(t, uint16(26), out.Compare())

	// A stray write to the register is left alone when the target holds.
	out.SetCompare(1000)
	b.Advance(5)
	s.Apply(x, 2385)
	assert.Equal(t, uint16(1000), out.Compare())
}

func TestSynthesizer_ZeroTargetParks(t *testing.T) {
	_, out, x := newSynthRig(t)
	s := NewSynthesizer(out, 125_000, freq.CompareToggle)

	s.Apply(x, 95)
	require.Equal(t, uint32(658), s.Compare())

	s.Apply(x, 0)
	assert.Equal(t, uint32(freq.MaxPeriod), s.Compare())
	assert.Equal(t, uint32(freq.MaxPeriod), s.Period())
	assert.Equal(t, uint16(periph.CounterMax), out.Compare())
}

func TestSynthesizer_WithoutCorrectionShrinkingPeriodWraps(t *testing.T) {
	run := func(correct bool) []uint64 {
		b, out, x := newSynthRig(t)
		s := NewSynthesizer(out, 125_000, freq.CompareFull)
		s.correct = correct

		s.write(x, 1000)
		b.Advance(1800) // toggles at 1000, counter now 800
		out.ClearToggles()

		s.write(x, 100)
		b.Advance(70_000)
		return out.Toggles()
	}

	// Forced toggle now, then the short period straight away.
	fixed := run(true)
	require.GreaterOrEqual(t, len(fixed), 2)
	assert.Equal(t, []uint64{1800, 1900}, fixed[:2])

	glitched := run(false)
	require.NotEmpty(t, glitched)
	// Counter runs from 800 through 0xFFFF and back up to 100.
	assert.Equal(t, uint64(1800+periph.CounterMax+1-800+100), glitched[0])
}
