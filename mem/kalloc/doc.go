// Package kalloc is the kernel's physical memory allocator: a buddy
// allocator behind a spin lock.
//
// The kernel boots exactly one Allocator over the DRAM that follows its own
// image and passes it, by reference, to every subsystem that needs memory.
// Each call names the Holder (the current core) taking the lock, so the
// allocator itself never touches interrupt state:
//
//	kmem := kalloc.New(locks.New("kmem"))
//	kmem.Init(core, dram, kalloc.DefaultConfig(kernelEnd))
//
//	page, err := kmem.Allocate(core, 4096, 4096)
//	if errors.Is(err, buddy.ErrOutOfMemory) {
//	    // recoverable: free something or fail the caller
//	}
//	kmem.Free(core, page, 4096, 4096)
//
// Every entry point releases the lock and leaves the critical section on all
// paths, including the panics raised for configuration errors, contract
// violations and detected corruption.
package kalloc
