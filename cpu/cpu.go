// Package cpu models the per-core state the kernel keeps around critical
// sections: the interrupt-enable flag and the nesting depth of
// interrupt-disabled regions.
//
// A Core is owned by the goroutine simulating that hart and is not safe for
// concurrent use.
package cpu

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/joshuapare/kalloc/locks"
)

var (
	// ErrUnbalancedExit indicates ExitCritical without a matching EnterCritical.
	ErrUnbalancedExit = errors.New("cpu: critical section exit without enter")

	// ErrInterruptible indicates interrupts were re-enabled inside a critical section.
	ErrInterruptible = errors.New("cpu: interrupts enabled inside critical section")
)

// Interrupts controls a core's interrupt-enable flag.
type Interrupts interface {
	Enabled() bool
	Disable()
	Enable()
}

// SoftInterrupts is an Interrupts backed by an atomic flag, standing in for
// the supervisor interrupt-enable bit.
type SoftInterrupts struct {
	on atomic.Bool
}

// NewSoftInterrupts returns a flag in the given state.
func NewSoftInterrupts(enabled bool) *SoftInterrupts {
	s := &SoftInterrupts{}
	s.on.Store(enabled)
	return s
}

func (s *SoftInterrupts) Enabled() bool { return s.on.Load() }
func (s *SoftInterrupts) Disable()      { s.on.Store(false) }
func (s *SoftInterrupts) Enable()       { s.on.Store(true) }

// Core is one hart. It counts nested critical sections and remembers whether
// interrupts were enabled when the outermost one began.
type Core struct {
	id    int
	irq   Interrupts
	depth int
	saved bool
}

var _ locks.Holder = (*Core)(nil)

// NewCore returns core id driving irq.
func NewCore(id int, irq Interrupts) *Core {
	return &Core{id: id, irq: irq}
}

// ID returns the hart id.
func (c *Core) ID() int { return c.id }

// Depth returns the current critical-section nesting depth.
func (c *Core) Depth() int { return c.depth }

// InterruptsEnabled reports the core's interrupt-enable flag.
func (c *Core) InterruptsEnabled() bool { return c.irq.Enabled() }

// EnterCritical masks interrupts. The outermost call saves the previous
// enable state; nested calls only count.
func (c *Core) EnterCritical() {
	on := c.irq.Enabled()
	c.irq.Disable()
	if c.depth == 0 {
		c.saved = on
	}
	c.depth++
}

// ExitCritical undoes one EnterCritical. The outermost exit re-enables
// interrupts only if they were enabled before the matching outermost enter.
func (c *Core) ExitCritical() {
	if c.irq.Enabled() {
		panic(fmt.Errorf("%w (core %d)", ErrInterruptible, c.id))
	}
	if c.depth == 0 {
		panic(fmt.Errorf("%w (core %d)", ErrUnbalancedExit, c.id))
	}
	c.depth--
	if c.depth == 0 && c.saved {
		c.irq.Enable()
	}
}

// CPU owns one Core per hart, each with interrupts initially enabled.
type CPU struct {
	cores []*Core
}

// New returns a CPU with n cores.
func New(n int) *CPU {
	if n <= 0 {
		panic(fmt.Sprintf("cpu: core count %d must be positive", n))
	}
	c := &CPU{cores: make([]*Core, n)}
	for id := range c.cores {
		c.cores[id] = NewCore(id, NewSoftInterrupts(true))
	}
	return c
}

// NumCores returns the number of harts.
func (c *CPU) NumCores() int { return len(c.cores) }

// Core returns hart id.
func (c *CPU) Core(id int) *Core {
	if id < 0 || id >= len(c.cores) {
		panic(fmt.Sprintf("cpu: no core %d (have %d)", id, len(c.cores)))
	}
	return c.cores[id]
}
