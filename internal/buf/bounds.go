package buf

import "golang.org/x/exp/constraints"

// AddOverflowSafe adds a and b, returning ok = false when the result would wrap.
func AddOverflowSafe[T constraints.Unsigned](a, b T) (T, bool) {
	sum := a + b
	if sum < a {
		return 0, false
	}
	return sum, true
}

// MulOverflowSafe multiplies a and b, returning ok = false when the result would wrap.
// Used for count * elementSize calculations when sizing metadata.
func MulOverflowSafe[T constraints.Unsigned](a, b T) (T, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	p := a * b
	if p/a != b {
		return 0, false
	}
	return p, true
}

// Slice returns the sub-slice [off:off+n] if it fits within len(b).
// The result's capacity is clipped so appends cannot spill into neighbours.
func Slice(b []byte, off, n int) ([]byte, bool) {
	if off < 0 || n < 0 || off > len(b) {
		return nil, false
	}
	end, ok := AddOverflowSafe(uint(off), uint(n))
	if !ok || end > uint(len(b)) {
		return nil, false
	}
	return b[off:end:end], true
}

