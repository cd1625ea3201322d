package freq

// Rolling is a fixed-size moving average over raw samples.
//
// The running sum always equals the sum of the buffer contents. The buffer
// starts zero-filled, so the first N-1 averages are pulled toward zero.
//
// Not safe for concurrent use.
type Rolling struct {
	buf []uint32
	cur int
	sum uint64
}

// NewRolling returns a filter with window n. n <= 1 disables smoothing.
func NewRolling(n int) *Rolling {
	if n < 1 {
		n = 1
	}
	return &Rolling{buf: make([]uint32, n)}
}

// Size returns the window length.
func (r *Rolling) Size() int { return len(r.buf) }

// Push inserts sample over the oldest slot and returns the new average.
func (r *Rolling) Push(sample uint32) uint32 {
	old := r.buf[r.cur]
	r.sum = r.sum - uint64(old) + uint64(sample)
	r.buf[r.cur] = sample
	r.cur++
	if r.cur == len(r.buf) {
		r.cur = 0
	}
	return r.Average()
}

// Average returns round_half_up(sum, N).
func (r *Rolling) Average() uint32 {
	return uint32(RoundHalfUp(r.sum, uint64(len(r.buf))))
}

// Reset zeroes the window.
func (r *Rolling) Reset() {
	for i := range r.buf {
		r.buf[i] = 0
	}
	r.cur = 0
	r.sum = 0
}
