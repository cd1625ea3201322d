package freq

import "math"

// Scale maps in by multiplier/divisor with round-half-up. The product is
// formed in 64 bits so 32-bit inputs can never overflow; results that do not
// fit in 32 bits saturate.
func Scale(in, multiplier, divisor uint32) uint32 {
	v := RoundHalfUp(uint64(in)*uint64(multiplier), uint64(divisor))
	if v > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(v)
}
