package kalloc

import (
	"bytes"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/kalloc/cpu"
	"github.com/joshuapare/kalloc/internal/physmem"
	"github.com/joshuapare/kalloc/locks"
	"github.com/joshuapare/kalloc/mem/buddy"
)

func newDRAM(t *testing.T, size int) *physmem.Region {
	t.Helper()
	r, err := physmem.New(DRAMStart, make([]byte, size))
	require.NoError(t, err)
	return r
}

func requirePanicsWith(t *testing.T, target error, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a panic wrapping %v", target)
		err, ok := r.(error)
		require.True(t, ok, "panic value %v is not an error", r)
		require.ErrorIs(t, err, target)
	}()
	fn()
}

// requireUnlocked checks that no lock or critical section outlived a call.
func requireUnlocked(t *testing.T, a *Allocator, core *cpu.Core) {
	t.Helper()
	require.False(t, a.Lock().Holding(core))
	require.Equal(t, 0, core.Depth())
	require.True(t, core.InterruptsEnabled())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig(DRAMStart + 0x1000)
	require.Equal(t, DRAMStart+0x1000, cfg.KernelEnd)
	require.Equal(t, uintptr(0x90000000), cfg.RegionEnd)
	require.Equal(t, uintptr(16), cfg.LeafSize)
	require.Equal(t, uintptr(4096), cfg.MaxAlignment)
	require.Nil(t, cfg.Metadata)

	p := Config{KernelEnd: DRAMStart}.params()
	require.Equal(t, DRAMEnd, p.End)
	require.Equal(t, DefaultLeafSize, p.LeafSize)
	require.Equal(t, DefaultMaxAlignment, p.MaxAlignment)
}

func TestBootAfterKernelImage(t *testing.T) {
	const dramSize = 4 << 20
	kernelEnd := DRAMStart + 0x23456
	core := cpu.NewCore(0, cpu.NewSoftInterrupts(true))

	cfg := DefaultConfig(kernelEnd)
	cfg.RegionEnd = DRAMStart + dramSize

	kmem := New(locks.New("kmem"))
	kmem.Init(core, newDRAM(t, dramSize), cfg)
	requireUnlocked(t, kmem, core)

	start, end := kmem.Region(core)
	require.Equal(t, DRAMStart+0x24000, start)
	require.Equal(t, DRAMStart+dramSize, end)
	require.Equal(t, Layout{
		Start:        start,
		End:          end,
		LeafSize:     DefaultLeafSize,
		MaxAlignment: DefaultMaxAlignment,
		Classes:      len(kmem.Classes(core)),
	}, kmem.Layout(core))
	require.NoError(t, kmem.Check(core))

	stats := kmem.Stats(core)
	require.NotZero(t, stats.ReservedBytes)

	page, err := kmem.Allocate(core, 4096, 4096)
	require.NoError(t, err)
	require.Zero(t, page%4096)
	require.GreaterOrEqual(t, page, start+uintptr(stats.ReservedBytes))

	kmem.Free(core, page, 4096, 4096)
	require.NoError(t, kmem.Check(core))
	requireUnlocked(t, kmem, core)
}

func TestFacadeScenario(t *testing.T) {
	core := cpu.NewCore(0, cpu.NewSoftInterrupts(true))
	kmem := New(locks.New("kmem"))
	kmem.Init(core, newDRAM(t, 128), Config{
		KernelEnd: DRAMStart,
		RegionEnd: DRAMStart + 128,
		Metadata:  make([]byte, 64),
	})

	r, err := kmem.Allocate(core, 16, 16)
	require.NoError(t, err)
	require.Equal(t, DRAMStart, r)

	r2, err := kmem.Allocate(core, 16, 16)
	require.NoError(t, err)
	require.Equal(t, DRAMStart+16, r2)

	kmem.Free(core, r, 16, 16)
	kmem.Free(core, r2, 16, 16)

	classes := kmem.Classes(core)
	require.Len(t, classes, 4)
	require.Equal(t, 1, classes[3].Free)
	require.Equal(t, []uintptr{DRAMStart}, kmem.FreeChunks(core, 3))
	for _, c := range classes[:3] {
		require.Zero(t, c.Free, "class %d", c.Class)
	}
	requireUnlocked(t, kmem, core)

	var out bytes.Buffer
	kmem.PrintStats(core, &out)
	require.Contains(t, out.String(), "Coalesces:")
}

func TestPanicsReleaseLock(t *testing.T) {
	core := cpu.NewCore(0, cpu.NewSoftInterrupts(true))
	kmem := New(locks.New("kmem"))

	requirePanicsWith(t, buddy.ErrNotInitialized, func() { _, _ = kmem.Allocate(core, 16, 16) })
	requireUnlocked(t, kmem, core)

	cfg := Config{KernelEnd: DRAMStart, RegionEnd: DRAMStart + 4096, Metadata: make([]byte, 256)}
	kmem.Init(core, newDRAM(t, 4096), cfg)

	requirePanicsWith(t, buddy.ErrAlreadyInitialized, func() { kmem.Init(core, newDRAM(t, 4096), cfg) })
	requireUnlocked(t, kmem, core)

	requirePanicsWith(t, buddy.ErrAlignment, func() { _, _ = kmem.Allocate(core, 16, 8192) })
	requireUnlocked(t, kmem, core)

	requirePanicsWith(t, buddy.ErrDoubleFree, func() { kmem.Free(core, DRAMStart, 16, 16) })
	requireUnlocked(t, kmem, core)

	// The allocator is still usable.
	_, err := kmem.Allocate(core, 16, 16)
	require.NoError(t, err)
}

func TestOutOfMemoryIsRecoverable(t *testing.T) {
	core := cpu.NewCore(0, cpu.NewSoftInterrupts(true))
	kmem := New(locks.New("kmem"))
	kmem.Init(core, newDRAM(t, 4096), Config{KernelEnd: DRAMStart, RegionEnd: DRAMStart + 4096, Metadata: make([]byte, 256)})

	all, err := kmem.Allocate(core, 4096, 16)
	require.NoError(t, err)

	_, err = kmem.Allocate(core, 16, 16)
	require.ErrorIs(t, err, buddy.ErrOutOfMemory)
	requireUnlocked(t, kmem, core)

	kmem.Free(core, all, 4096, 16)
	_, err = kmem.Allocate(core, 16, 16)
	require.NoError(t, err)
}

// Cores allocate concurrently, fill their chunks with a per-core pattern and
// verify it before freeing. Any overlap between live chunks corrupts a pattern.
func TestConcurrentCores(t *testing.T) {
	const (
		cores    = 4
		opsEach  = 500
		dramSize = 1 << 20
	)
	dram := newDRAM(t, dramSize)
	machine := cpu.New(cores)
	boot := machine.Core(0)

	kmem := New(locks.New("kmem"))
	kmem.Init(boot, dram, Config{KernelEnd: DRAMStart, RegionEnd: DRAMStart + dramSize})
	bootState := kmem.State(boot)

	type chunk struct{ addr, size, align uintptr }
	var wg sync.WaitGroup
	errs := make(chan error, cores)
	report := func(err error) {
		select {
		case errs <- err:
		default:
		}
	}

	for id := range cores {
		wg.Add(1)
		go func(core *cpu.Core) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(core.ID())))
			pattern := byte(core.ID() + 1)
			var live []chunk

			release := func(c chunk) {
				b := dram.Slice(c.addr, c.size)
				if !bytes.Equal(b, bytes.Repeat([]byte{pattern}, int(c.size))) {
					report(buddy.ErrCorrupt)
				}
				kmem.Free(core, c.addr, c.size, c.align)
			}

			for range opsEach {
				if len(live) > 0 && rng.Intn(3) == 0 {
					j := rng.Intn(len(live))
					release(live[j])
					live[j] = live[len(live)-1]
					live = live[:len(live)-1]
					continue
				}
				size := uintptr(1 + rng.Intn(1024))
				align := uintptr(1) << rng.Intn(7)
				addr, err := kmem.Allocate(core, size, align)
				if err != nil {
					continue
				}
				if addr%align != 0 {
					report(buddy.ErrAlignment)
				}
				b := dram.Slice(addr, size)
				for i := range b {
					b[i] = pattern
				}
				live = append(live, chunk{addr, size, align})
			}
			for _, c := range live {
				release(c)
			}
		}(machine.Core(id))
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.NoError(t, kmem.Check(boot))
	require.Zero(t, kmem.Stats(boot).BytesInUse)
	require.True(t, bootState.Equal(kmem.State(boot)), "freeing everything must restore the boot state")
	for id := range cores {
		requireUnlocked(t, kmem, machine.Core(id))
	}
}
