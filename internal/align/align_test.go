package align

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUpDown(t *testing.T) {
	tests := []struct {
		x, n     uintptr
		up, down uintptr
	}{
		{x: 0, n: 16, up: 0, down: 0},
		{x: 1, n: 16, up: 16, down: 0},
		{x: 16, n: 16, up: 16, down: 16},
		{x: 17, n: 16, up: 32, down: 16},
		{x: 0x80001234, n: 4096, up: 0x80002000, down: 0x80001000},
		{x: 4097, n: 1, up: 4097, down: 4097},
	}
	for _, tt := range tests {
		require.Equal(t, tt.up, Up(tt.x, tt.n), "Up(%d, %d)", tt.x, tt.n)
		require.Equal(t, tt.down, Down(tt.x, tt.n), "Down(%d, %d)", tt.x, tt.n)
		require.True(t, IsAligned(Up(tt.x, tt.n), tt.n))
		require.True(t, IsAligned(Down(tt.x, tt.n), tt.n))
	}
}

func TestUpChecked(t *testing.T) {
	v, ok := UpChecked[uint64](100, 64)
	require.True(t, ok)
	require.Equal(t, uint64(128), v)

	_, ok = UpChecked[uint64](math.MaxUint64-3, 16)
	require.False(t, ok, "rounding near the top of the address space must not wrap")
}

func TestIsPowerOfTwo(t *testing.T) {
	for _, n := range []uint{1, 2, 4, 16, 4096, 1 << 40} {
		require.True(t, IsPowerOfTwo(n), "%d", n)
	}
	for _, n := range []uint{0, 3, 6, 24, 4095, 4097} {
		require.False(t, IsPowerOfTwo(n), "%d", n)
	}
}

func TestLog2(t *testing.T) {
	require.Equal(t, -1, Log2[uint](0))
	require.Equal(t, 0, Log2[uint](1))
	require.Equal(t, 3, Log2[uint](8))
	require.Equal(t, 3, Log2[uint](15))
	require.Equal(t, 24, Log2[uintptr](256<<20/16))
}

func TestFloorPowerOfTwo(t *testing.T) {
	require.Equal(t, uintptr(0), FloorPowerOfTwo[uintptr](0))
	require.Equal(t, uintptr(1), FloorPowerOfTwo[uintptr](1))
	require.Equal(t, uintptr(128), FloorPowerOfTwo[uintptr](128))
	require.Equal(t, uintptr(128), FloorPowerOfTwo[uintptr](255))
	require.Equal(t, uint64(1)<<63, FloorPowerOfTwo(^uint64(0)))
}

func TestCeilPowerOfTwo(t *testing.T) {
	require.Equal(t, uintptr(1), CeilPowerOfTwo[uintptr](0))
	require.Equal(t, uintptr(1), CeilPowerOfTwo[uintptr](1))
	require.Equal(t, uintptr(2), CeilPowerOfTwo[uintptr](2))
	require.Equal(t, uintptr(4), CeilPowerOfTwo[uintptr](3))
	require.Equal(t, uintptr(4096), CeilPowerOfTwo[uintptr](3000))
	require.Equal(t, uint32(1)<<31, CeilPowerOfTwo(uint32(1<<31)))
}
