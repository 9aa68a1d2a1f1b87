package buddy

import "fmt"

// Check walks the chunk forest and verifies that every chunk is exactly one
// of free, allocated or split, that the free lists hold exactly the free
// chunks with consistent links, and that no bit is set outside the live
// forest. It returns an error wrapping ErrCorrupt describing the first
// violation found.
func (a *Allocator) Check() error {
	a.mustBeInitialized()

	n := len(a.classes)
	free := make([]map[uintptr]struct{}, n)
	allocSeen := make([]int, n)
	splitSeen := make([]int, n)
	for k := range free {
		free[k] = make(map[uintptr]struct{})
	}

	var walkErr error
	var walk func(k int, i uintptr)
	walk = func(k int, i uintptr) {
		if walkErr != nil {
			return
		}
		cls := &a.classes[k]
		switch {
		case cls.split != nil && cls.split.test(i):
			if cls.alloc.test(i) {
				walkErr = fmt.Errorf("%w: class %d chunk %d is both split and allocated", ErrCorrupt, k, i)
				return
			}
			splitSeen[k]++
			walk(k-1, 2*i)
			walk(k-1, 2*i+1)
		case cls.alloc.test(i):
			allocSeen[k]++
		default:
			free[k][i] = struct{}{}
		}
	}
	a.forEachRoot(walk)
	if walkErr != nil {
		return walkErr
	}

	var allocBytes uint64
	for k := range a.classes {
		cls := &a.classes[k]
		if got := cls.alloc.count(); got != allocSeen[k] {
			return fmt.Errorf("%w: class %d has %d allocation bits, %d reachable",
				ErrCorrupt, k, got, allocSeen[k])
		}
		if cls.split != nil {
			if got := cls.split.count(); got != splitSeen[k] {
				return fmt.Errorf("%w: class %d has %d split bits, %d reachable",
					ErrCorrupt, k, got, splitSeen[k])
			}
		}
		allocBytes += uint64(allocSeen[k]) * uint64(cls.size)

		if err := a.checkFreeList(k, free[k]); err != nil {
			return err
		}
	}

	if want := a.stats.BytesInUse + a.stats.ReservedBytes; allocBytes != want {
		return fmt.Errorf("%w: %d allocated chunk bytes, counters say %d in use + %d reserved",
			ErrCorrupt, allocBytes, a.stats.BytesInUse, a.stats.ReservedBytes)
	}
	return nil
}

// checkFreeList verifies that the class-k list holds exactly the chunks in
// want, once each, with matching back links. want is consumed.
func (a *Allocator) checkFreeList(k int, want map[uintptr]struct{}) error {
	l := &a.classes[k].free
	length := l.len()
	seen := 0
	prev := noRef

	i, ok := l.head()
	for ok {
		if seen == length {
			return fmt.Errorf("%w: class %d free list is longer than its length %d", ErrCorrupt, k, length)
		}
		if i >= a.classes[k].capacity {
			return fmt.Errorf("%w: class %d free list links to chunk %d past capacity", ErrCorrupt, k, i)
		}
		if _, free := want[i]; !free {
			return fmt.Errorf("%w: class %d chunk %d is listed free but is not a free chunk", ErrCorrupt, k, i)
		}
		if got := l.prevRef(i); got != prev {
			return fmt.Errorf("%w: class %d chunk %d has back link %d, want %d", ErrCorrupt, k, i, got, prev)
		}
		delete(want, i)
		seen++
		prev = toRef(i)
		i, ok = l.next(i)
	}
	if seen != length {
		return fmt.Errorf("%w: class %d free list has %d entries, header says %d", ErrCorrupt, k, seen, length)
	}
	for i := range want {
		return fmt.Errorf("%w: class %d chunk %d is free but not on the free list", ErrCorrupt, k, i)
	}
	return nil
}
