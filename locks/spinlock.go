// Package locks provides the spin lock guarding kernel-global state.
//
// A lock is taken on behalf of a Holder, the core executing the critical
// section. Acquire masks the holder's interrupts before spinning so an
// interrupt handler on the same core can never deadlock against it.
package locks

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

var (
	// ErrAlreadyHolding indicates a recursive Acquire by the current owner.
	ErrAlreadyHolding = errors.New("locks: already holding")

	// ErrNotHolding indicates Release by a holder that does not own the lock.
	ErrNotHolding = errors.New("locks: not holding")
)

// Holder is the execution context taking a lock.
type Holder interface {
	// ID identifies the holder (the hart id).
	ID() int

	// EnterCritical and ExitCritical bracket an interrupt-masked section.
	// They nest.
	EnterCritical()
	ExitCritical()
}

const noOwner = -1

// SpinLock is a mutual-exclusion lock that busy-waits. It records its owner
// so misuse is caught instead of deadlocking.
type SpinLock struct {
	name   string
	locked atomic.Bool
	owner  atomic.Int64
	spins  *xsync.Counter
}

// New returns an unlocked spin lock.
func New(name string) *SpinLock {
	l := &SpinLock{name: name, spins: xsync.NewCounter()}
	l.owner.Store(noOwner)
	return l
}

// Name returns the lock name.
func (l *SpinLock) Name() string { return l.name }

// Acquire enters a critical section on h and spins until the lock is free.
// It panics with ErrAlreadyHolding when h owns the lock already.
func (l *SpinLock) Acquire(h Holder) {
	h.EnterCritical()
	if l.Holding(h) {
		h.ExitCritical()
		panic(fmt.Errorf("%w: %s (holder %d)", ErrAlreadyHolding, l.name, h.ID()))
	}
	for !l.locked.CompareAndSwap(false, true) {
		for l.locked.Load() {
			l.spins.Inc()
			runtime.Gosched()
		}
	}
	l.owner.Store(int64(h.ID()))
}

// Release unlocks and leaves the critical section entered by Acquire.
// It panics with ErrNotHolding when h is not the owner.
func (l *SpinLock) Release(h Holder) {
	if !l.Holding(h) {
		panic(fmt.Errorf("%w: %s (holder %d)", ErrNotHolding, l.name, h.ID()))
	}
	l.owner.Store(noOwner)
	l.locked.Store(false)
	h.ExitCritical()
}

// Holding reports whether h owns the lock.
func (l *SpinLock) Holding(h Holder) bool {
	return l.locked.Load() && l.owner.Load() == int64(h.ID())
}

// With runs fn with the lock held by h. The lock is released even if fn panics.
func (l *SpinLock) With(h Holder, fn func()) {
	l.Acquire(h)
	defer l.Release(h)
	fn()
}

// Spins returns how many times waiters found the lock taken.
func (l *SpinLock) Spins() int64 { return l.spins.Value() }
