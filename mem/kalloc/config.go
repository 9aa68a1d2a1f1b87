package kalloc

import (
	"log/slog"

	"github.com/joshuapare/kalloc/mem/buddy"
)

// QEMU virt machine DRAM.
const (
	DRAMStart uintptr = 0x80000000
	DRAMSize  uintptr = 256 << 20
	DRAMEnd           = DRAMStart + DRAMSize
)

// Allocator defaults.
const (
	DefaultLeafSize     uintptr = 16
	DefaultMaxAlignment uintptr = 4096
)

// Config describes the memory handed to the allocator at boot.
type Config struct {
	// KernelEnd is the first address past the kernel image; the managed
	// region starts here (rounded up).
	KernelEnd uintptr

	// RegionEnd bounds the managed region (rounded down).
	RegionEnd uintptr

	LeafSize     uintptr // Smallest chunk size (default DefaultLeafSize)
	MaxAlignment uintptr // Largest supported alignment (default DefaultMaxAlignment)

	// Metadata, when set, holds the allocator metadata outside the region.
	// Nil carves it from the head of the region, as on bare metal.
	Metadata []byte

	Logger *slog.Logger
}

// DefaultConfig returns the boot configuration for a kernel ending at kernelEnd.
func DefaultConfig(kernelEnd uintptr) Config {
	return Config{
		KernelEnd:    kernelEnd,
		RegionEnd:    DRAMEnd,
		LeafSize:     DefaultLeafSize,
		MaxAlignment: DefaultMaxAlignment,
	}
}

// params fills unset sizes with the defaults.
func (c Config) params() buddy.Params {
	p := buddy.Params{
		Start:        c.KernelEnd,
		End:          c.RegionEnd,
		LeafSize:     c.LeafSize,
		MaxAlignment: c.MaxAlignment,
		Metadata:     c.Metadata,
		Logger:       c.Logger,
	}
	if p.End == 0 {
		p.End = DRAMEnd
	}
	if p.LeafSize == 0 {
		p.LeafSize = DefaultLeafSize
	}
	if p.MaxAlignment == 0 {
		p.MaxAlignment = DefaultMaxAlignment
	}
	return p
}
