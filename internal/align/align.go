// Package align provides power-of-two rounding helpers for physical addresses.
package align

import (
	"math/bits"

	"golang.org/x/exp/constraints"

	"github.com/joshuapare/kalloc/internal/buf"
)

// IsPowerOfTwo reports whether n is a non-zero power of two.
func IsPowerOfTwo[T constraints.Unsigned](n T) bool {
	return n != 0 && n&(n-1) == 0
}

// Up returns x rounded up to the next multiple of n. n must be a power of two.
//
// Example:
//
//	Up(1, 16)  = 16
//	Up(16, 16) = 16
//	Up(17, 16) = 32
func Up[T constraints.Unsigned](x, n T) T {
	return (x + n - 1) &^ (n - 1)
}

// UpChecked is Up that reports ok = false instead of wrapping past the top
// of the address space.
func UpChecked[T constraints.Unsigned](x, n T) (T, bool) {
	if _, ok := buf.AddOverflowSafe(x, n-1); !ok {
		return 0, false
	}
	return Up(x, n), true
}

// Down returns x rounded down to the previous multiple of n. n must be a power of two.
//
// Example:
//
//	Down(15, 16) = 0
//	Down(16, 16) = 16
//	Down(31, 16) = 16
func Down[T constraints.Unsigned](x, n T) T {
	return x &^ (n - 1)
}

// IsAligned reports whether x is a multiple of the power of two n.
func IsAligned[T constraints.Unsigned](x, n T) bool {
	return x&(n-1) == 0
}

// Log2 returns floor(log2(n)). Log2(0) is -1.
func Log2[T constraints.Unsigned](n T) int {
	return bits.Len64(uint64(n)) - 1
}

// FloorPowerOfTwo returns the largest power of two not above n. FloorPowerOfTwo(0) is 0.
func FloorPowerOfTwo[T constraints.Unsigned](n T) T {
	if n == 0 {
		return 0
	}
	return T(1) << Log2(n)
}

// CeilPowerOfTwo returns the smallest power of two not below n. n must be at
// most the largest power of two T holds; CeilPowerOfTwo(0) is 1.
func CeilPowerOfTwo[T constraints.Unsigned](n T) T {
	if n <= 1 {
		return 1
	}
	return T(1) << bits.Len64(uint64(n-1))
}
