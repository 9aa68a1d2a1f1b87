package buddy

import (
	"fmt"

	"github.com/joshuapare/kalloc/internal/buf"
)

const (
	// linkSize is the number of bytes a free chunk donates to its list links:
	// next ref at [0:4], prev ref at [4:8].
	linkSize = 8

	// listHeaderSize is the carved per-class header: head ref at [0:4], length at [4:8].
	listHeaderSize = 8

	// noRef terminates a list. Refs are chunk index + 1, so zeroed memory is an
	// empty list and an unlinked end.
	noRef uint32 = 0

	// maxChunks bounds the chunk count of any class so index+1 fits in a ref.
	maxChunks = 1<<32 - 1
)

// freeList is an intrusive doubly linked list of the free chunks of one
// class, addressed by chunk index. Push and pop act on the head, so the most
// recently freed chunk is reused first.
type freeList struct {
	hdr []byte

	// link returns the linkSize bytes at the start of chunk i.
	link func(i uintptr) []byte
}

func toRef(i uintptr) uint32 { return uint32(i) + 1 }

func fromRef(r uint32) uintptr { return uintptr(r - 1) }

func (l *freeList) len() int {
	return int(buf.U32LE(l.hdr[4:]))
}

func (l *freeList) setLen(n int) {
	buf.PutU32LE(l.hdr[4:], uint32(n))
}

// head returns the first chunk index on the list.
func (l *freeList) head() (uintptr, bool) {
	r := buf.U32LE(l.hdr)
	if r == noRef {
		return 0, false
	}
	return fromRef(r), true
}

// next returns the chunk after i. Only meaningful while i is on the list.
func (l *freeList) next(i uintptr) (uintptr, bool) {
	r := buf.U32LE(l.link(i))
	if r == noRef {
		return 0, false
	}
	return fromRef(r), true
}

func (l *freeList) prevRef(i uintptr) uint32 {
	return buf.U32LE(l.link(i)[4:])
}

func (l *freeList) push(i uintptr) {
	h := buf.U32LE(l.hdr)
	lk := l.link(i)
	buf.PutU32LE(lk, h)
	buf.PutU32LE(lk[4:], noRef)
	if h != noRef {
		buf.PutU32LE(l.link(fromRef(h))[4:], toRef(i))
	}
	buf.PutU32LE(l.hdr, toRef(i))
	l.setLen(l.len() + 1)
}

func (l *freeList) pop() (uintptr, bool) {
	i, ok := l.head()
	if !ok {
		return 0, false
	}
	l.remove(i)
	return i, true
}

// remove unlinks chunk i, which must be on the list.
func (l *freeList) remove(i uintptr) {
	lk := l.link(i)
	n := buf.U32LE(lk)
	p := buf.U32LE(lk[4:])

	if p == noRef {
		if buf.U32LE(l.hdr) != toRef(i) {
			panic(fmt.Errorf("%w: chunk %d is not on its free list", ErrCorrupt, i))
		}
		buf.PutU32LE(l.hdr, n)
	} else {
		buf.PutU32LE(l.link(fromRef(p)), n)
	}
	if n != noRef {
		buf.PutU32LE(l.link(fromRef(n))[4:], p)
	}
	l.setLen(l.len() - 1)
}
