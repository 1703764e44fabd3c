package mathx

import "math"

func FloorDiv(a, b int64) int64 {
	// b > 0
	q := a / b
	r := a % b
	if r < 0 {
		q--
	}
	return q
}

func Mod(a, b int64) int64 {
	// b > 0
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// Clamp bounds v to [lo, hi]; NaN collapses to lo.
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func Round4(v float64) float64 { return math.Round(v*10000) / 10000 }

func MaxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
