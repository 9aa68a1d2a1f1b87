// Package buddy implements the binary buddy allocator that manages the
// kernel's physical memory.
//
// # Overview
//
// The allocator partitions one contiguous physical region into power-of-two
// sized chunks. Chunks of the same size form a chunk class; class 0 holds
// leaf-sized chunks and every class above doubles the size:
//
//	chunkSize(k) = LeafSize << k
//	capacity(k)  = regionSize / chunkSize(k)
//
// Each class keeps an allocation bitmap, a split bitmap (absent for class 0)
// and a free list. All of it is derived from the region parameters; only the
// bits and the list links are stored.
//
// # Addressing
//
//	address(k, i) = start + i*chunkSize(k)
//	index(k, a)   = (a - start) / chunkSize(k)
//	buddy(i)      = i ^ 1
//	parent(i)     = i / 2 (at class k+1)
//
// When the region size is not a power of two the chunks form a forest: a
// class with an odd capacity has one chunk whose parent would lie past the
// region. That chunk is a root, and coalescing stops there.
//
// # Allocation
//
// Alloc picks the smallest class whose chunk size covers both size and
// alignment, pops a chunk from that class or splits the nearest larger free
// chunk down to it, and returns the chunk address. Free recomputes the class
// from the same (size, align) pair, clears the allocation bit and coalesces
// with free buddies as far up as possible.
//
//	a := buddy.New(mem, buddy.Params{
//	    Start:        kernelEnd,
//	    End:          dramEnd,
//	    LeafSize:     16,
//	    MaxAlignment: 4096,
//	})
//
//	addr, err := a.Alloc(256, 64)
//	if errors.Is(err, buddy.ErrOutOfMemory) {
//	    // recoverable
//	}
//	a.Free(addr, 256, 64)
//
// # Metadata placement
//
// With Params.Metadata unset, the class headers and bitmaps are carved from
// the head of the effective region and the chunks covering them are marked
// allocated during seeding, so they are never handed out. Hosted tools can
// pass a separate buffer instead and keep the whole region allocatable.
//
// Free-list links live inside the free chunks themselves (next and prev
// chunk indices in the first 8 bytes), so LeafSize must be at least 8.
//
// # Errors
//
// Exhaustion is the only recoverable failure and is reported as
// ErrOutOfMemory. Configuration errors, contract violations (alignment above
// MaxAlignment, foreign addresses) and detected corruption (double free,
// inconsistent split bits) panic with an error wrapping the matching
// sentinel.
//
// # Thread Safety
//
// Allocator instances are not thread-safe. The kalloc package serializes
// access with a spin lock held inside a per-core critical section.
package buddy
