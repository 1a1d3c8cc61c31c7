package buf

import "math"

// AddOverflowSafe adds a and b, returning ok = false when the result would overflow int64.
func AddOverflowSafe(a, b int64) (int64, bool) {
	switch {
	case b > 0 && a > math.MaxInt64-b:
		return 0, false
	case b < 0 && a < math.MinInt64-b:
		return 0, false
	default:
		return a + b, true
	}
}

// Within reports whether [off, off+n) lies inside [0, total).
func Within(total, off, n int64) bool {
	if off < 0 || n < 0 || off > total {
		return false
	}
	end, ok := AddOverflowSafe(off, n)
	return ok && end <= total
}
