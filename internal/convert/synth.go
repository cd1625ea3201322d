package convert

import (
	"gaugeconv/internal/freq"
	"gaugeconv/internal/irq"
	"gaugeconv/internal/periph"
)

// Synthesizer turns target frequencies into compare register writes on one
// output.
type Synthesizer struct {
	out     periph.OutputCompare
	clockHz uint32
	mode    freq.CompareMode

	compare uint32
	period  uint32
	forced  uint64

	// correct is cleared only by tests that need to show the wrap glitch.
	correct bool
}

// NewSynthesizer returns a synthesizer for out, whose timer runs at clockHz.
func NewSynthesizer(out periph.OutputCompare, clockHz uint32, mode freq.CompareMode) *Synthesizer {
	return &Synthesizer{out: out, clockHz: clockHz, mode: mode, correct: true}
}

// Apply writes the compare value for targetHz and reports whether a match
// had to be forced. Unchanged values are not rewritten.
func (s *Synthesizer) Apply(x *irq.Context, targetHz uint32) bool {
	s.period = freq.PeriodFor(targetHz, s.clockHz)
	return s.write(x, freq.CompareFor(targetHz, s.clockHz, s.mode))
}

// Park holds the output at the longest period.
func (s *Synthesizer) Park(x *irq.Context) {
	s.period = freq.MaxPeriod
	s.write(x, freq.MaxPeriod)
}

// write sets the compare register. If the output counter has already run
// past the new value, the timer would wrap through the whole counter range
// before matching again, so the match is forced instead.
func (s *Synthesizer) write(x *irq.Context, compare uint32) bool {
	if compare == s.compare {
		return false
	}
	s.compare = compare

	forced := false
	x.Section(func() {
		s.out.SetCompare(uint16(compare))
		if !s.correct {
			return
		}
		if uint32(s.out.ReadCounter()) >= compare {
			s.out.ForceCompareMatch()
			forced = true
		}
	})
	if forced {
		s.forced++
	}
	return forced
}

// Compare returns the last value written to the compare register.
func (s *Synthesizer) Compare() uint32 { return s.compare }

// Period returns the output period in ticks behind the last write.
func (s *Synthesizer) Period() uint32 { return s.period }

// Forced returns how many compare matches rollover correction has forced.
func (s *Synthesizer) Forced() uint64 { return s.forced }
