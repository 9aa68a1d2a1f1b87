package buddy

import (
	"fmt"
	"io"
	"slices"
)

// Stats holds allocator counters.
type Stats struct {
	AllocCalls  int // Non-zero-size Alloc calls
	FreeCalls   int // Non-zero-size Free calls
	OutOfMemory int // Alloc calls that returned ErrOutOfMemory
	Splits      int // Chunks split while serving Alloc
	Coalesces   int // Buddy merges performed by Free

	BytesInUse     uint64 // Chunk bytes currently handed out
	PeakBytesInUse uint64 // High-water mark of BytesInUse

	RegionBytes   uint64 // Effective region size
	MetadataBytes uint64 // Carved header and bitmap bytes
	ReservedBytes uint64 // Region bytes withheld for in-region metadata
}

// ClassInfo describes one chunk class.
type ClassInfo struct {
	Class     int
	ChunkSize uintptr
	Capacity  uintptr
	Free      int // Length of the free list
	Allocated int // Allocation bits set (reserved chunks included)
	Split     int // Split bits set
}

// State is a comparable snapshot of the free lists and bitmaps.
type State struct {
	FreeLists [][]uintptr // Chunk indices per class, in pop order
	Alloc     [][]byte
	Split     [][]byte
}

// Equal reports whether two snapshots describe the same allocator state.
func (s State) Equal(o State) bool {
	return slices.EqualFunc(s.FreeLists, o.FreeLists, slices.Equal[[]uintptr]) &&
		slices.EqualFunc(s.Alloc, o.Alloc, slices.Equal[[]byte]) &&
		slices.EqualFunc(s.Split, o.Split, slices.Equal[[]byte])
}

// Stats returns the current counters.
func (a *Allocator) Stats() Stats {
	return a.stats
}

// Classes returns per-class population counts.
func (a *Allocator) Classes() []ClassInfo {
	out := make([]ClassInfo, len(a.classes))
	for k := range a.classes {
		cls := &a.classes[k]
		out[k] = ClassInfo{
			Class:     k,
			ChunkSize: cls.size,
			Capacity:  cls.capacity,
			Free:      cls.free.len(),
			Allocated: cls.alloc.count(),
		}
		if cls.split != nil {
			out[k].Split = cls.split.count()
		}
	}
	return out
}

// FreeChunks returns the addresses on the class-k free list in pop order.
func (a *Allocator) FreeChunks(k int) []uintptr {
	idx := a.freeIndices(k)
	for j, i := range idx {
		idx[j] = a.address(k, i)
	}
	return idx
}

func (a *Allocator) freeIndices(k int) []uintptr {
	l := &a.classes[k].free
	out := make([]uintptr, 0, l.len())
	i, ok := l.head()
	for ok && len(out) <= l.len() {
		out = append(out, i)
		i, ok = l.next(i)
	}
	return out
}

// State snapshots the free lists and bitmaps.
func (a *Allocator) State() State {
	s := State{
		FreeLists: make([][]uintptr, len(a.classes)),
		Alloc:     make([][]byte, len(a.classes)),
		Split:     make([][]byte, len(a.classes)),
	}
	for k := range a.classes {
		s.FreeLists[k] = a.freeIndices(k)
		s.Alloc[k] = slices.Clone([]byte(a.classes[k].alloc))
		s.Split[k] = slices.Clone([]byte(a.classes[k].split))
	}
	return s
}

// PrintStats writes a human-readable summary to w.
func (a *Allocator) PrintStats(w io.Writer) {
	s := a.stats
	fmt.Fprintf(w, "\n=== BUDDY ALLOCATOR STATISTICS ===\n")
	fmt.Fprintf(w, "Region:          [%#x, %#x) %d bytes\n", a.start, a.end, s.RegionBytes)
	fmt.Fprintf(w, "Metadata:        %d bytes (%d reserved in region)\n", s.MetadataBytes, s.ReservedBytes)
	fmt.Fprintf(w, "Alloc calls:     %d (out of memory: %d)\n", s.AllocCalls, s.OutOfMemory)
	fmt.Fprintf(w, "Free calls:      %d\n", s.FreeCalls)
	fmt.Fprintf(w, "Splits:          %d\n", s.Splits)
	fmt.Fprintf(w, "Coalesces:       %d\n", s.Coalesces)
	fmt.Fprintf(w, "In use:          %d bytes (peak %d)\n", s.BytesInUse, s.PeakBytesInUse)
	for _, c := range a.Classes() {
		if c.Free == 0 && c.Allocated == 0 && c.Split == 0 {
			continue
		}
		fmt.Fprintf(w, "  class %2d (%8d B): free %d, allocated %d, split %d\n",
			c.Class, c.ChunkSize, c.Free, c.Allocated, c.Split)
	}
	fmt.Fprintf(w, "==================================\n")
}
