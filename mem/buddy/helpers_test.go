package buddy

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/kalloc/internal/physmem"
)

// testBase is the physical address test regions start at (RISC-V DRAM base).
const testBase uintptr = 0x80000000

// newTestAllocator builds an allocator over a fresh region of size bytes with
// the metadata kept outside the region, so the whole region is allocatable.
func newTestAllocator(t testing.TB, size int, leaf, maxAlign uintptr) *Allocator {
	t.Helper()
	return newAllocatorAt(t, testBase, size, leaf, maxAlign, true)
}

// newInRegionAllocator builds an allocator that carves its metadata from the
// head of the region, the way the kernel boots it.
func newInRegionAllocator(t testing.TB, size int, leaf, maxAlign uintptr) *Allocator {
	t.Helper()
	return newAllocatorAt(t, testBase, size, leaf, maxAlign, false)
}

func newAllocatorAt(t testing.TB, base uintptr, size int, leaf, maxAlign uintptr, external bool) *Allocator {
	t.Helper()
	r, err := physmem.New(base, make([]byte, size))
	require.NoError(t, err)

	p := Params{
		Start:        base,
		End:          base + uintptr(size),
		LeafSize:     leaf,
		MaxAlignment: maxAlign,
	}
	if external {
		leaves := uintptr(size) / leaf
		n, ok := metadataSize(log2Floor(leaves)+1, leaves)
		require.True(t, ok)
		p.Metadata = make([]byte, n)
	}
	a := New(r, p)
	requireConsistent(t, a)
	return a
}

func log2Floor(n uintptr) int {
	k := -1
	for ; n > 0; n >>= 1 {
		k++
	}
	return k
}

// requireConsistent fails the test when the allocator invariants do not hold.
func requireConsistent(t testing.TB, a *Allocator) {
	t.Helper()
	require.NoError(t, a.Check())
}

// requirePanicsWith asserts that fn panics with an error wrapping target.
func requirePanicsWith(t testing.TB, target error, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a panic wrapping %v", target)
		err, ok := r.(error)
		require.True(t, ok, "panic value %v is not an error", r)
		require.ErrorIs(t, err, target)
	}()
	fn()
}

// liveChunk is an outstanding allocation tracked by tests.
type liveChunk struct {
	addr, size, align uintptr
	chunk             uintptr // chunk size actually reserved
}

// chunkSizeFor returns the chunk size Alloc uses for a (size, align) request.
func chunkSizeFor(t testing.TB, a *Allocator, size, align uintptr) uintptr {
	t.Helper()
	k, err := a.classFor(size, align)
	require.NoError(t, err)
	return a.ChunkSize(k)
}

// requireDisjoint fails when any two live chunks overlap.
func requireDisjoint(t testing.TB, live []liveChunk) {
	t.Helper()
	sorted := append([]liveChunk(nil), live...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].addr < sorted[j].addr })
	for i := 1; i < len(sorted); i++ {
		prev := sorted[i-1]
		require.LessOrEqual(t, prev.addr+prev.chunk, sorted[i].addr,
			"chunk %#x+%d overlaps chunk %#x", prev.addr, prev.chunk, sorted[i].addr)
	}
}
