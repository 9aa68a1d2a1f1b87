package main

import (
	"errors"
	"fmt"

	"github.com/joshuapare/kalloc/internal/physmem"
	"github.com/joshuapare/kalloc/locks"
	"github.com/joshuapare/kalloc/mem/kalloc"
)

// machine describes the simulated board.
type machine struct {
	dramSize   uint64 // Bytes of DRAM mapped at kalloc.DRAMStart
	kernelSize uint64 // Bytes at the start of DRAM taken by the kernel image
	leaf       uint64
	maxAlign   uint64
	metadata   []byte // Optional out-of-region metadata buffer
}

// boot maps the DRAM and initializes an allocator over the memory after the
// kernel image, the way the kernel's startup routine does. Allocator panics
// during Init are reported as errors.
func boot(h locks.Holder, m machine) (kmem *kalloc.Allocator, dram *physmem.Region, err error) {
	if m.dramSize == 0 || m.kernelSize >= m.dramSize {
		return nil, nil, fmt.Errorf("kernel image (%s) does not fit in DRAM (%s)",
			formatBytes(m.kernelSize), formatBytes(m.dramSize))
	}
	dram, err = physmem.Map(kalloc.DRAMStart, int(m.dramSize))
	if err != nil {
		return nil, nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			err = bootError(r, dram.Close())
			kmem, dram = nil, nil
		}
	}()

	kmem = kalloc.New(locks.New("kmem"))
	kmem.Init(h, dram, kalloc.Config{
		KernelEnd:    kalloc.DRAMStart + uintptr(m.kernelSize),
		RegionEnd:    dram.End(),
		LeafSize:     uintptr(m.leaf),
		MaxAlignment: uintptr(m.maxAlign),
		Metadata:     m.metadata,
	})
	printVerbose("Booted allocator over DRAM [%#x, %#x)\n", dram.Base(), dram.End())
	return kmem, dram, nil
}

// bootError turns a recovered Init panic, and any failure to release the DRAM
// mapping afterwards, into one error.
func bootError(r any, closeErr error) error {
	err := fmt.Errorf("boot allocator: %v", r)
	if e, ok := r.(error); ok {
		err = fmt.Errorf("boot allocator: %w", e)
	}
	return errors.Join(err, closeErr)
}
