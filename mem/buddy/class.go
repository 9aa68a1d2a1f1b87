package buddy

import (
	"math/bits"

	"github.com/joshuapare/kalloc/internal/buf"
)

// bitmap is a carved view with one bit per chunk of a class.
type bitmap []byte

func bitmapBytes(n uintptr) uintptr { return (n + 7) / 8 }

func (b bitmap) test(i uintptr) bool { return b[i>>3]&(1<<(i&7)) != 0 }

func (b bitmap) set(i uintptr) { b[i>>3] |= 1 << (i & 7) }

func (b bitmap) clear(i uintptr) { b[i>>3] &^= 1 << (i & 7) }

// count returns the number of set bits.
func (b bitmap) count() int {
	n := 0
	i := 0
	for ; i+8 <= len(b); i += 8 {
		n += bits.OnesCount64(buf.U64LE(b[i:]))
	}
	for ; i < len(b); i++ {
		n += bits.OnesCount8(b[i])
	}
	return n
}

// chunkClass is the state of all chunks of one size.
type chunkClass struct {
	size     uintptr // chunk size in bytes
	capacity uintptr // chunks of this size that fit in the region

	// alloc bit i: chunk i is handed out (or reserved) as one unit.
	alloc bitmap

	// split bit i: chunk i is divided into chunks 2i and 2i+1 of the class below.
	// nil for class 0.
	split bitmap

	free freeList
}

// busy reports whether chunk i is allocated or split.
func (c *chunkClass) busy(i uintptr) bool {
	return c.alloc.test(i) || (c.split != nil && c.split.test(i))
}
