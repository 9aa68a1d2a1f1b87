package buddy

import (
	"fmt"
	"log/slog"
	"math/bits"
	"os"

	"github.com/joshuapare/kalloc/internal/align"
	"github.com/joshuapare/kalloc/internal/buf"
	"github.com/joshuapare/kalloc/internal/logger"
)

// Runtime trace flag for per-operation logging - controlled by KALLOC_TRACE env var.
var traceAlloc = os.Getenv("KALLOC_TRACE") != ""

// Memory gives byte access to physical memory.
type Memory interface {
	// Slice returns the bytes backing [addr, addr+n), or nil when the range
	// is not backed.
	Slice(addr, n uintptr) []byte
}

// Params configures Init.
type Params struct {
	// Start and End bound the raw region. Both are rounded inwards to a
	// multiple of max(LeafSize, MaxAlignment), with MaxAlignment capped at the
	// largest power of two not above End-Start.
	Start uintptr
	End   uintptr

	// LeafSize is the smallest chunk size. Power of two, at least 8.
	LeafSize uintptr

	// MaxAlignment is the largest alignment Alloc accepts. Power of two.
	MaxAlignment uintptr

	// Metadata, when non-nil, holds the class headers and bitmaps instead of
	// the head of the region.
	Metadata []byte

	// Logger defaults to logger.L.
	Logger *slog.Logger
}

// Allocator is a binary buddy allocator over one physical region.
// The zero value is uninitialized; call Init before use.
type Allocator struct {
	initialized bool
	mem         Memory
	log         *slog.Logger

	// Effective region, aligned to the rounding granularity chosen by Init.
	start uintptr
	end   uintptr

	leafSize  uintptr
	leafShift uint
	maxAlign  uintptr

	classes []chunkClass

	metaBytes uintptr // carved header and bitmap bytes
	reserved  uintptr // region bytes pre-allocated to hold the metadata

	stats Stats
}

// New returns an allocator initialized with Init(mem, p).
func New(mem Memory, p Params) *Allocator {
	a := &Allocator{}
	a.Init(mem, p)
	return a
}

// Init computes the effective region, carves and zeroes the class headers and
// bitmaps, and seeds the free lists. Init runs once; any violation of its
// preconditions panics.
func (a *Allocator) Init(mem Memory, p Params) {
	if a.initialized {
		panic(ErrAlreadyInitialized)
	}
	if mem == nil {
		panic(fmt.Errorf("%w: nil memory", ErrInvalidParams))
	}
	if p.End <= p.Start || p.End-p.Start <= p.LeafSize {
		panic(fmt.Errorf("%w: region [%#x, %#x) is not larger than the leaf size %d",
			ErrInvalidParams, p.Start, p.End, p.LeafSize))
	}
	if !align.IsPowerOfTwo(p.LeafSize) {
		panic(fmt.Errorf("%w: leaf size %d is not a power of 2", ErrInvalidParams, p.LeafSize))
	}
	if !align.IsPowerOfTwo(p.MaxAlignment) {
		panic(fmt.Errorf("%w: max alignment %d is not a power of 2", ErrInvalidParams, p.MaxAlignment))
	}
	if p.LeafSize < linkSize {
		panic(fmt.Errorf("%w: leaf size %d cannot hold free-list links (%d bytes)",
			ErrInvalidParams, p.LeafSize, linkSize))
	}

	log := p.Logger
	if log == nil {
		log = logger.L
	}
	log.Debug("initializing buddy allocator",
		hexAttr("start", p.Start), hexAttr("end", p.End),
		"leaf_size", p.LeafSize, "max_alignment", p.MaxAlignment)

	// Rounding to MaxAlignment keeps every chunk naturally aligned. A region
	// smaller than MaxAlignment only needs its own power-of-two size: no
	// request larger than that can be served anyway.
	gran := max(p.LeafSize, min(p.MaxAlignment, align.FloorPowerOfTwo(p.End-p.Start)))
	start, ok := align.UpChecked(p.Start, gran)
	end := align.Down(p.End, gran)
	if !ok || end <= start {
		panic(fmt.Errorf("%w: no %d-aligned memory in [%#x, %#x)", ErrInvalidParams, gran, p.Start, p.End))
	}
	size := end - start
	log.Debug("effective memory region", hexAttr("start", start), hexAttr("end", end), "size", size)

	leafShift := uint(bits.TrailingZeros64(uint64(p.LeafSize)))
	leaves := size >> leafShift
	if leaves >= maxChunks {
		panic(fmt.Errorf("%w: %d leaf chunks exceed the free-list index range", ErrInvalidParams, leaves))
	}
	if mem.Slice(start, size) == nil {
		panic(fmt.Errorf("%w: memory does not back [%#x, %#x)", ErrInvalidParams, start, end))
	}

	classCount := align.Log2(leaves) + 1
	metaBytes, ok := metadataSize(classCount, leaves)
	if !ok {
		panic(fmt.Errorf("%w: metadata size overflows", ErrInvalidParams))
	}

	// reservedEnd is the first byte the seeding may hand out.
	reservedEnd := start
	var arena []byte
	if p.Metadata != nil {
		if uintptr(len(p.Metadata)) < metaBytes {
			panic(fmt.Errorf("%w: metadata buffer holds %d bytes, need %d",
				ErrInvalidParams, len(p.Metadata), metaBytes))
		}
		arena = p.Metadata[:metaBytes]
	} else {
		metaEnd, ok := buf.AddOverflowSafe(start, metaBytes)
		if ok {
			reservedEnd, ok = align.UpChecked(metaEnd, p.LeafSize)
		}
		if !ok || reservedEnd >= end {
			panic(fmt.Errorf("%w: region of %d bytes cannot hold %d bytes of metadata",
				ErrInvalidParams, size, metaBytes))
		}
		arena = mem.Slice(start, metaBytes)
	}

	a.mem = mem
	a.log = log
	a.start = start
	a.end = end
	a.leafSize = p.LeafSize
	a.leafShift = leafShift
	a.maxAlign = p.MaxAlignment
	a.metaBytes = metaBytes
	a.reserved = reservedEnd - start
	a.classes = make([]chunkClass, classCount)

	c := cursor{arena: arena}
	for k := range a.classes {
		a.classes[k].free.hdr = c.take(listHeaderSize)
	}
	for k := range a.classes {
		cls := &a.classes[k]
		cls.size = p.LeafSize << k
		cls.capacity = leaves >> k
		cls.alloc = c.take(bitmapBytes(cls.capacity))
		if k > 0 {
			cls.split = c.take(bitmapBytes(cls.capacity))
		}
		cls.free.link = a.linkFunc(cls.size)
	}

	a.forEachRoot(func(k int, i uintptr) {
		a.seed(k, i, reservedEnd)
	})

	a.stats = Stats{
		RegionBytes:   uint64(size),
		MetadataBytes: uint64(metaBytes),
		ReservedBytes: uint64(a.reserved),
	}
	a.initialized = true

	log.Debug("buddy allocator ready",
		"classes", classCount,
		"metadata_bytes", metaBytes,
		"reserved_bytes", a.reserved)
}

// linkFunc returns the link accessor for chunks of the given size.
func (a *Allocator) linkFunc(size uintptr) func(i uintptr) []byte {
	return func(i uintptr) []byte {
		return a.mem.Slice(a.start+i*size, linkSize)
	}
}

// forEachRoot visits chunks without a parent, top class first. The top class
// holds one root; lower classes hold one more when the region size is not a
// power of two and the chunk tail of the region is left over.
func (a *Allocator) forEachRoot(fn func(k int, i uintptr)) {
	top := len(a.classes) - 1
	for k := top; k >= 0; k-- {
		var first uintptr
		if k < top {
			first = 2 * a.classes[k+1].capacity
		}
		for i := first; i < a.classes[k].capacity; i++ {
			fn(k, i)
		}
	}
}

// seed classifies chunk (k, i) against the reserved prefix [start, reservedEnd):
// fully reserved chunks are marked allocated, fully free chunks go on their
// free list, and the one straddling chunk per class is split.
func (a *Allocator) seed(k int, i uintptr, reservedEnd uintptr) {
	cls := &a.classes[k]
	lo := a.address(k, i)
	hi := lo + cls.size
	switch {
	case hi <= reservedEnd:
		cls.alloc.set(i)
	case lo >= reservedEnd:
		cls.free.push(i)
	default:
		cls.split.set(i)
		a.seed(k-1, 2*i, reservedEnd)
		a.seed(k-1, 2*i+1, reservedEnd)
	}
}

// Alloc returns the address of a free chunk of at least size bytes aligned to
// alignment. A zero size returns address 0 without touching any state; that
// address must never be dereferenced. An alignment of 0 is treated as 1.
// The alignment is validated for every size, zero included.
//
// Alloc panics with ErrAlignment when alignment is not a power of two or
// exceeds MaxAlignment. It returns an error wrapping ErrOutOfMemory when no
// chunk of the needed class or larger is free.
func (a *Allocator) Alloc(size, alignment uintptr) (uintptr, error) {
	a.mustBeInitialized()
	a.checkAlignment(alignment)
	if size == 0 {
		return 0, nil
	}
	a.stats.AllocCalls++

	k, err := a.classFor(size, alignment)
	if err != nil {
		a.stats.OutOfMemory++
		return 0, err
	}

	// Fast path: exact class has a free chunk. Otherwise find the nearest
	// larger class that does.
	j := k
	for j < len(a.classes) && a.classes[j].free.len() == 0 {
		j++
	}
	if j == len(a.classes) {
		a.stats.OutOfMemory++
		if traceAlloc {
			a.log.Debug("alloc: out of memory", "size", size, "align", alignment, "class", k)
		}
		return 0, ErrOutOfMemory
	}

	i, _ := a.classes[j].free.pop()
	for ; j > k; j-- {
		a.classes[j].split.set(i)
		i *= 2
		a.classes[j-1].free.push(i + 1)
		a.stats.Splits++
	}
	a.classes[k].alloc.set(i)

	a.stats.BytesInUse += uint64(a.classes[k].size)
	a.stats.PeakBytesInUse = max(a.stats.PeakBytesInUse, a.stats.BytesInUse)

	addr := a.address(k, i)
	if traceAlloc {
		a.log.Debug("alloc", "size", size, "align", alignment, "class", k, hexAttr("addr", addr))
	}
	return addr, nil
}

// Free returns the chunk at addr, allocated with the same size and alignment,
// and coalesces it with free buddies. A zero size is a no-op apart from
// validating the alignment.
//
// Free panics with ErrBadAddress when addr cannot be a chunk of that layout
// or lies in the chunks reserved for in-region metadata, with ErrDoubleFree
// when the chunk is not allocated, and with ErrCorrupt when the bitmaps
// disagree.
func (a *Allocator) Free(addr, size, alignment uintptr) {
	a.mustBeInitialized()
	a.checkAlignment(alignment)
	if size == 0 {
		return
	}

	k, err := a.classFor(size, alignment)
	if err != nil {
		panic(fmt.Errorf("%w: %#x: no chunk class holds %d bytes", ErrBadAddress, addr, size))
	}
	i := a.index(k, addr)

	cls := &a.classes[k]
	if !cls.alloc.test(i) {
		panic(fmt.Errorf("%w: %#x (class %d)", ErrDoubleFree, addr, k))
	}
	a.stats.FreeCalls++
	a.stats.BytesInUse -= uint64(cls.size)
	cls.alloc.clear(i)

	for k+1 < len(a.classes) {
		parent := i / 2
		up := &a.classes[k+1]
		if parent >= up.capacity {
			break // root chunk
		}
		if !up.split.test(parent) {
			panic(fmt.Errorf("%w: class %d chunk %d is live but parent %d is not split",
				ErrCorrupt, k, i, parent))
		}
		buddy := i ^ 1
		if a.classes[k].busy(buddy) {
			break
		}
		a.classes[k].free.remove(buddy)
		up.split.clear(parent)
		i = parent
		k++
		a.stats.Coalesces++
	}
	a.classes[k].free.push(i)

	if traceAlloc {
		a.log.Debug("free", "size", size, "align", alignment, "class", k, hexAttr("addr", addr))
	}
}

// classFor returns the smallest class whose chunks cover size and alignment.
func (a *Allocator) classFor(size, alignment uintptr) (int, error) {
	a.checkAlignment(alignment)
	need := max(size, alignment)
	if top := a.classes[len(a.classes)-1].size; need > top {
		return 0, fmt.Errorf("%w: %d bytes exceeds the largest chunk (%d)", ErrOutOfMemory, need, top)
	}
	if need <= a.leafSize {
		return 0, nil
	}
	return bits.Len64(uint64((need - 1) >> a.leafShift)), nil
}

// checkAlignment panics with ErrAlignment unless alignment is 0 or a power of
// two no larger than MaxAlignment.
func (a *Allocator) checkAlignment(alignment uintptr) {
	if alignment == 0 {
		return
	}
	if !align.IsPowerOfTwo(alignment) {
		panic(fmt.Errorf("%w: %d is not a power of 2", ErrAlignment, alignment))
	}
	if alignment > a.maxAlign {
		panic(fmt.Errorf("%w: %d exceeds max alignment %d", ErrAlignment, alignment, a.maxAlign))
	}
}

// address returns the physical address of chunk i of class k.
func (a *Allocator) address(k int, i uintptr) uintptr {
	return a.start + i*a.classes[k].size
}

// index returns the index of the class-k chunk at addr, panicking when addr
// is outside the region, inside the reserved metadata chunks, or not on a
// class-k boundary.
func (a *Allocator) index(k int, addr uintptr) uintptr {
	cls := &a.classes[k]
	if addr < a.start || addr >= a.end || (addr-a.start)%cls.size != 0 {
		panic(fmt.Errorf("%w: %#x is not a %d-byte chunk of [%#x, %#x)",
			ErrBadAddress, addr, cls.size, a.start, a.end))
	}
	if addr-a.start < a.reserved {
		panic(fmt.Errorf("%w: %#x lies in the %d bytes reserved for allocator metadata",
			ErrBadAddress, addr, a.reserved))
	}
	i := (addr - a.start) / cls.size
	if i >= cls.capacity {
		panic(fmt.Errorf("%w: %#x: chunk %d past class %d capacity %d",
			ErrBadAddress, addr, i, k, cls.capacity))
	}
	return i
}

func (a *Allocator) mustBeInitialized() {
	if !a.initialized {
		panic(ErrNotInitialized)
	}
}

// Initialized reports whether Init has completed.
func (a *Allocator) Initialized() bool { return a.initialized }

// Region returns the effective region [start, end).
func (a *Allocator) Region() (start, end uintptr) { return a.start, a.end }

// LeafSize returns the class-0 chunk size.
func (a *Allocator) LeafSize() uintptr { return a.leafSize }

// MaxAlignment returns the largest supported alignment.
func (a *Allocator) MaxAlignment() uintptr { return a.maxAlign }

// ClassCount returns the number of chunk classes.
func (a *Allocator) ClassCount() int { return len(a.classes) }

// ChunkSize returns the chunk size of class k.
func (a *Allocator) ChunkSize(k int) uintptr { return a.classes[k].size }

// Capacity returns how many class-k chunks fit in the region.
func (a *Allocator) Capacity(k int) uintptr { return a.classes[k].capacity }

// MetadataBytes returns the size of the carved headers and bitmaps.
func (a *Allocator) MetadataBytes() uintptr { return a.metaBytes }

// ReservedBytes returns the region bytes withheld to store the metadata.
func (a *Allocator) ReservedBytes() uintptr { return a.reserved }

func hexAttr(key string, v uintptr) slog.Attr {
	return slog.String(key, fmt.Sprintf("%#x", v))
}
