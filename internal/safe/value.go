package safe

import (
	"math"
)

// Uint64ToInt64 converts val to int64, clamping to math.MaxInt64.
// The boolean reports whether clamping occurred.
func Uint64ToInt64(val uint64) (int64, bool) {
	if val > math.MaxInt64 {
		return math.MaxInt64, true
	}
	return int64(val), false
}

// Uint64ToInt32 converts val to int32, clamping to math.MaxInt32.
// The boolean reports whether clamping occurred.
func Uint64ToInt32(val uint64) (int32, bool) {
	if val > math.MaxInt32 {
		return math.MaxInt32, true
	}
	return int32(val), false
}

// AddInt64 returns total+delta, saturating at math.MaxInt64. total must not
// be negative.
func AddInt64(total int64, delta uint64) int64 {
	d, clamped := Uint64ToInt64(delta)
	if clamped || total > math.MaxInt64-d {
		return math.MaxInt64
	}
	return total + d
}
