package kalloc

import (
	"io"

	"github.com/joshuapare/kalloc/locks"
	"github.com/joshuapare/kalloc/mem/buddy"
)

// Allocator guards a buddy allocator with a spin lock. Every method acquires
// the lock on behalf of h for its whole duration.
type Allocator struct {
	lock *locks.SpinLock
	core buddy.Allocator
}

// New returns an uninitialized allocator guarded by lock.
func New(lock *locks.SpinLock) *Allocator {
	return &Allocator{lock: lock}
}

// Lock returns the lock guarding the allocator.
func (a *Allocator) Lock() *locks.SpinLock { return a.lock }

// Init boots the allocator over mem. It must be called exactly once, before
// any other method; a second call panics with buddy.ErrAlreadyInitialized.
func (a *Allocator) Init(h locks.Holder, mem buddy.Memory, cfg Config) {
	a.lock.Acquire(h)
	defer a.lock.Release(h)
	a.core.Init(mem, cfg.params())
}

// Allocate returns a chunk of at least size bytes aligned to align, or an
// error wrapping buddy.ErrOutOfMemory. A zero size returns address 0, which
// must never be dereferenced.
func (a *Allocator) Allocate(h locks.Holder, size, align uintptr) (uintptr, error) {
	a.lock.Acquire(h)
	defer a.lock.Release(h)
	return a.core.Alloc(size, align)
}

// Free returns memory obtained from Allocate with the same size and align.
func (a *Allocator) Free(h locks.Holder, addr, size, align uintptr) {
	a.lock.Acquire(h)
	defer a.lock.Release(h)
	a.core.Free(addr, size, align)
}

// Region returns the effective managed region.
func (a *Allocator) Region(h locks.Holder) (start, end uintptr) {
	a.lock.Acquire(h)
	defer a.lock.Release(h)
	return a.core.Region()
}

// Stats returns the allocator counters.
func (a *Allocator) Stats(h locks.Holder) buddy.Stats {
	a.lock.Acquire(h)
	defer a.lock.Release(h)
	return a.core.Stats()
}

// Classes returns per-class population counts.
func (a *Allocator) Classes(h locks.Holder) []buddy.ClassInfo {
	a.lock.Acquire(h)
	defer a.lock.Release(h)
	return a.core.Classes()
}

// State snapshots the free lists and bitmaps.
func (a *Allocator) State(h locks.Holder) buddy.State {
	a.lock.Acquire(h)
	defer a.lock.Release(h)
	return a.core.State()
}

// Check verifies the allocator invariants.
func (a *Allocator) Check(h locks.Holder) error {
	a.lock.Acquire(h)
	defer a.lock.Release(h)
	return a.core.Check()
}

// PrintStats writes a summary of the allocator to w.
func (a *Allocator) PrintStats(h locks.Holder, w io.Writer) {
	a.lock.Acquire(h)
	defer a.lock.Release(h)
	a.core.PrintStats(w)
}

// FreeChunks returns the addresses on the class-k free list in the order
// Allocate would hand them out.
func (a *Allocator) FreeChunks(h locks.Holder, k int) []uintptr {
	a.lock.Acquire(h)
	defer a.lock.Release(h)
	return a.core.FreeChunks(k)
}

// Layout describes the booted allocator geometry.
type Layout struct {
	Start, End   uintptr // Effective region
	LeafSize     uintptr
	MaxAlignment uintptr
	Classes      int
}

// Layout returns the allocator geometry fixed by Init.
func (a *Allocator) Layout(h locks.Holder) Layout {
	a.lock.Acquire(h)
	defer a.lock.Release(h)
	start, end := a.core.Region()
	return Layout{
		Start:        start,
		End:          end,
		LeafSize:     a.core.LeafSize(),
		MaxAlignment: a.core.MaxAlignment(),
		Classes:      a.core.ClassCount(),
	}
}
