package freq

import "fmt"

// CompareMode selects how a period is written to an output compare unit.
type CompareMode int

const (
	// CompareToggle assumes the pin toggles on every match, so one output
	// period takes two matches and the compare value is half the period.
	CompareToggle CompareMode = iota
	// CompareFull writes the whole period.
	CompareFull
)

func (m CompareMode) String() string {
	switch m {
	case CompareToggle:
		return "toggle"
	case CompareFull:
		return "full"
	default:
		return fmt.Sprintf("CompareMode(%d)", int(m))
	}
}

// ParseCompareMode accepts "toggle" or "full".
func ParseCompareMode(s string) (CompareMode, error) {
	switch s {
	case "toggle", "":
		return CompareToggle, nil
	case "full":
		return CompareFull, nil
	}
	return CompareToggle, fmt.Errorf("unknown compare mode %q", s)
}

// PeriodFor converts a target frequency to a period in timer ticks.
//
// A zero target parks the output at MaxPeriod instead of dividing by zero.
// The result is always within [MinPeriod, MaxPeriod].
func PeriodFor(targetHz, timerClockHz uint32) uint32 {
	if targetHz == 0 {
		return MaxPeriod
	}
	return clampPeriod(RoundHalfUp(uint64(timerClockHz), uint64(targetHz)))
}

// CompareFor returns the compare register value for targetHz.
func CompareFor(targetHz, timerClockHz uint32, mode CompareMode) uint32 {
	if targetHz == 0 {
		return MaxPeriod
	}
	p := PeriodFor(targetHz, timerClockHz)
	if mode == CompareFull {
		return p
	}
	return clampPeriod(RoundHalfUp(uint64(p), 2))
}

// Hz converts a tick interval back into a frequency, rounding half up.
// Zero ticks yield zero.
func Hz(ticks, timerClockHz uint32) uint32 {
	if ticks == 0 {
		return 0
	}
	return uint32(RoundHalfUp(uint64(timerClockHz), uint64(ticks)))
}
