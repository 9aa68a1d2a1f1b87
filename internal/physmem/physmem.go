// Package physmem provides simulated physical memory: a fixed physical
// address range backed by host memory.
//
// Addresses handed out by the allocator are physical addresses in
// [Base, End). Region translates them to byte views of the backing store so
// allocator metadata (bitmaps, free-list links) can live inside the memory it
// describes, exactly as it would on bare metal.
package physmem

import (
	"errors"
	"fmt"

	"github.com/joshuapare/kalloc/internal/buf"
)

// ErrBadRange indicates a region that is empty or wraps the address space.
var ErrBadRange = errors.New("physmem: bad address range")

// Region is a physical address range [Base, End) and its backing bytes.
type Region struct {
	base    uintptr
	data    []byte
	release func() error
}

// New wraps an existing buffer as the physical range starting at base.
// Used by tests and hosted tools that manage the buffer themselves.
func New(base uintptr, data []byte) (*Region, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty backing buffer", ErrBadRange)
	}
	if _, ok := buf.AddOverflowSafe(base, uintptr(len(data))); !ok {
		return nil, fmt.Errorf("%w: base=%#x size=%d", ErrBadRange, base, len(data))
	}
	return &Region{base: base, data: data, release: func() error { return nil }}, nil
}

// Map reserves size bytes of zeroed host memory and exposes it as the
// physical range starting at base. Close releases the mapping.
func Map(base uintptr, size int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size=%d", ErrBadRange, size)
	}
	if _, ok := buf.AddOverflowSafe(base, uintptr(size)); !ok {
		return nil, fmt.Errorf("%w: base=%#x size=%d", ErrBadRange, base, size)
	}
	data, release, err := mapAnon(size)
	if err != nil {
		return nil, fmt.Errorf("physmem: map %d bytes: %w", size, err)
	}
	return &Region{base: base, data: data, release: release}, nil
}

// Base returns the first physical address of the region.
func (r *Region) Base() uintptr { return r.base }

// End returns the physical address one past the region.
func (r *Region) End() uintptr { return r.base + uintptr(len(r.data)) }

// Len returns the region size in bytes.
func (r *Region) Len() int { return len(r.data) }

// Slice returns the bytes backing [addr, addr+n), or nil when any part of the
// range lies outside the region.
func (r *Region) Slice(addr, n uintptr) []byte {
	if addr < r.base {
		return nil
	}
	off := addr - r.base
	if off > uintptr(len(r.data)) || n > uintptr(len(r.data)) {
		return nil
	}
	b, ok := buf.Slice(r.data, int(off), int(n))
	if !ok {
		return nil
	}
	return b
}

// Close releases the backing memory. The region must not be used afterwards.
func (r *Region) Close() error {
	if r.release == nil {
		return nil
	}
	err := r.release()
	r.release = nil
	r.data = nil
	return err
}
