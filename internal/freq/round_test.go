package freq

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundHalfUp(t *testing.T) {
	cases := []struct {
		dividend, divisor, want uint64
	}{
		{5, 2, 3},
		{10, 3, 3},
		{11, 3, 4},
		{0, 7, 0},
		{4, 8, 1},
		{3, 8, 0},
		{125000, 2385, 52},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, RoundHalfUp(tc.dividend, tc.divisor), "RoundHalfUp(%d,%d)", tc.dividend, tc.divisor)
	}
}

func TestRoundHalfUp_ZeroDivisor(t *testing.T) {
	assert.Equal(t, uint64(0), RoundHalfUp(10, 0))
}
