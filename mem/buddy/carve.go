package buddy

import (
	"fmt"

	"github.com/joshuapare/kalloc/internal/buf"
)

// cursor bump-allocates zeroed views out of a metadata arena.
type cursor struct {
	arena []byte
	off   int
}

// take returns the next n bytes of the arena, zeroed.
func (c *cursor) take(n uintptr) []byte {
	b, ok := buf.Slice(c.arena, c.off, int(n))
	if !ok {
		panic(fmt.Errorf("%w: metadata arena exhausted at %d+%d of %d",
			ErrInvalidParams, c.off, n, len(c.arena)))
	}
	clear(b)
	c.off += int(n)
	return b
}

// metadataSize returns the bytes needed for classCount list headers and the
// bitmaps of a region holding leaves leaf chunks.
func metadataSize(classCount int, leaves uintptr) (uintptr, bool) {
	total, ok := buf.MulOverflowSafe(uintptr(classCount), listHeaderSize)
	if !ok {
		return 0, false
	}
	for k := range classCount {
		n := bitmapBytes(leaves >> k)
		if k > 0 {
			n *= 2
		}
		if total, ok = buf.AddOverflowSafe(total, n); !ok {
			return 0, false
		}
	}
	return total, true
}
