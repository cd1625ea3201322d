// Package freq holds the integer arithmetic shared by the conversion
// pipeline: rounding, smoothing, rational scaling and period synthesis.
//
// Everything here is unsigned and allocation-free so it can run once per
// control tick per channel without touching the heap.
package freq

import "math"

const (
	// MinPeriod is the shortest output period in timer ticks.
	MinPeriod uint32 = 1
	// MaxPeriod is the full range of the 16-bit output counter.
	MaxPeriod uint32 = math.MaxUint16
)

// RoundHalfUp divides with ties rounded up: (dividend + divisor/2) / divisor.
// A zero divisor yields 0; callers validate divisors before the hot path.
func RoundHalfUp(dividend, divisor uint64) uint64 {
	if divisor == 0 {
		return 0
	}
	return (dividend + divisor/2) / divisor
}

func clampPeriod(v uint64) uint32 {
	if v < uint64(MinPeriod) {
		return MinPeriod
	}
	if v > uint64(MaxPeriod) {
		return MaxPeriod
	}
	return uint32(v)
}
