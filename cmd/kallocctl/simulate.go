package main

import (
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"sync"

	"github.com/spf13/cobra"

	"github.com/joshuapare/kalloc/cpu"
	"github.com/joshuapare/kalloc/internal/align"
	"github.com/joshuapare/kalloc/mem/buddy"
	"github.com/joshuapare/kalloc/mem/kalloc"
)

var (
	simCores    int
	simOps      int
	simSeed     int64
	simMaxSize  uint64
	simDRAMSize uint64
)

func init() {
	cmd := newSimulateCmd()
	cmd.Flags().IntVar(&simCores, "cores", 4, "Number of simulated cores")
	cmd.Flags().IntVar(&simOps, "ops", 10000, "Allocate/free operations per core")
	cmd.Flags().Int64Var(&simSeed, "seed", 1, "Random seed (core i uses seed+i)")
	cmd.Flags().Uint64Var(&simMaxSize, "max-size", 4096, "Largest allocation size")
	cmd.Flags().Uint64Var(&simDRAMSize, "region-size", 16<<20, "Bytes of simulated DRAM")
	rootCmd.AddCommand(cmd)
}

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive the allocator from several cores and verify it",
		Long: `The simulate command runs one goroutine per simulated core, each issuing
random allocations and frees through the locked allocator. Afterwards it checks
that live chunks are aligned and disjoint, validates every allocator invariant,
frees everything and verifies the allocator is back in its boot state.

Example:
  kallocctl simulate
  kallocctl simulate --cores 8 --ops 50000 --seed 7
  kallocctl simulate --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate()
		},
	}
	return cmd
}

// SimulationReport is the simulate command's output.
type SimulationReport struct {
	Cores          int    `json:"cores"`
	OpsPerCore     int    `json:"ops_per_core"`
	Seed           int64  `json:"seed"`
	Allocations    int    `json:"allocations"`
	Frees          int    `json:"frees"`
	OutOfMemory    int    `json:"out_of_memory"`
	LiveAtEnd      int    `json:"live_at_end"`
	Splits         int    `json:"splits"`
	Coalesces      int    `json:"coalesces"`
	PeakBytesInUse uint64 `json:"peak_bytes_in_use"`
	LockSpins      int64  `json:"lock_spins"`
	Restored       bool   `json:"restored"`
}

// liveChunk is an allocation a simulated core still holds.
type liveChunk struct {
	addr, size, align uintptr
}

// span returns the chunk bytes the allocator reserved for c.
func (c liveChunk) span(leaf uintptr) uintptr {
	return align.CeilPowerOfTwo(max(c.size, c.align, leaf))
}

func runSimulate() error {
	if simCores <= 0 {
		return fmt.Errorf("--cores must be positive, got %d", simCores)
	}
	if simOps < 0 {
		return fmt.Errorf("--ops must not be negative, got %d", simOps)
	}
	if simMaxSize == 0 {
		return errors.New("--max-size must be positive")
	}

	board := cpu.New(simCores)
	bootCore := board.Core(0)
	kmem, dram, err := boot(bootCore, machine{
		dramSize: simDRAMSize,
		leaf:     uint64(kalloc.DefaultLeafSize),
		maxAlign: uint64(kalloc.DefaultMaxAlignment),
	})
	if err != nil {
		return err
	}
	defer dram.Close()
	bootState := kmem.State(bootCore)

	printVerbose("Running %d cores x %d operations (seed %d)\n", simCores, simOps, simSeed)

	held := make([][]liveChunk, simCores)
	errs := make([]error, simCores)
	var wg sync.WaitGroup
	for id := range simCores {
		wg.Add(1)
		go func(core *cpu.Core) {
			defer wg.Done()
			held[id], errs[id] = simulateCore(kmem, core, rand.New(rand.NewSource(simSeed+int64(id))))
		}(board.Core(id))
	}
	wg.Wait()
	if err := errors.Join(errs...); err != nil {
		return err
	}

	live := slices.Concat(held...)
	if err := verifyLive(live, kalloc.DefaultLeafSize); err != nil {
		return err
	}
	if err := kmem.Check(bootCore); err != nil {
		return err
	}
	stats := kmem.Stats(bootCore)

	for _, c := range live {
		kmem.Free(bootCore, c.addr, c.size, c.align)
	}
	if err := kmem.Check(bootCore); err != nil {
		return err
	}

	report := SimulationReport{
		Cores:          simCores,
		OpsPerCore:     simOps,
		Seed:           simSeed,
		Allocations:    stats.AllocCalls - stats.OutOfMemory,
		Frees:          stats.FreeCalls,
		OutOfMemory:    stats.OutOfMemory,
		LiveAtEnd:      len(live),
		Splits:         stats.Splits,
		Coalesces:      stats.Coalesces,
		PeakBytesInUse: stats.PeakBytesInUse,
		LockSpins:      kmem.Lock().Spins(),
		Restored:       bootState.Equal(kmem.State(bootCore)),
	}
	if !report.Restored {
		return fmt.Errorf("%w: freeing every chunk did not restore the boot state", buddy.ErrCorrupt)
	}

	if jsonOut {
		return printJSON(report)
	}
	printInfo("\nSimulation:\n")
	printInfo("  Cores:         %d x %s operations (seed %d)\n", report.Cores, formatNumber(report.OpsPerCore), report.Seed)
	printInfo("  Allocations:   %s (%s out of memory)\n", formatNumber(report.Allocations), formatNumber(report.OutOfMemory))
	printInfo("  Frees:         %s\n", formatNumber(report.Frees))
	printInfo("  Live at end:   %s\n", formatNumber(report.LiveAtEnd))
	printInfo("  Splits:        %s\n", formatNumber(report.Splits))
	printInfo("  Coalesces:     %s\n", formatNumber(report.Coalesces))
	printInfo("  Peak in use:   %s\n", formatBytes(report.PeakBytesInUse))
	printInfo("  Lock spins:    %s\n", formatNumber(report.LockSpins))
	printInfo("  Boot state restored after freeing everything\n")
	return nil
}

// simulateCore runs simOps random operations on core and returns the chunks
// it still holds. A panic inside the allocator is reported as an error.
func simulateCore(kmem *kalloc.Allocator, core *cpu.Core, rng *rand.Rand) (live []liveChunk, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("core %d: %v", core.ID(), r)
		}
	}()

	for range simOps {
		if len(live) > 0 && rng.Intn(3) == 0 {
			j := rng.Intn(len(live))
			c := live[j]
			live[j] = live[len(live)-1]
			live = live[:len(live)-1]
			kmem.Free(core, c.addr, c.size, c.align)
			continue
		}

		size := uintptr(1 + rng.Int63n(int64(simMaxSize)))
		alignment := uintptr(1) << rng.Intn(align.Log2(kalloc.DefaultMaxAlignment)+1)
		addr, err := kmem.Allocate(core, size, alignment)
		if errors.Is(err, buddy.ErrOutOfMemory) {
			continue
		}
		if err != nil {
			return live, err
		}
		live = append(live, liveChunk{addr: addr, size: size, align: alignment})
	}
	return live, nil
}

// verifyLive checks that every live chunk is aligned and that no two overlap.
func verifyLive(live []liveChunk, leaf uintptr) error {
	sorted := slices.Clone(live)
	slices.SortFunc(sorted, func(a, b liveChunk) int {
		switch {
		case a.addr < b.addr:
			return -1
		case a.addr > b.addr:
			return 1
		}
		return 0
	})
	for i, c := range sorted {
		if !align.IsAligned(c.addr, c.align) {
			return fmt.Errorf("%w: chunk %#x is not aligned to %d", buddy.ErrCorrupt, c.addr, c.align)
		}
		if i > 0 {
			prev := sorted[i-1]
			if prev.addr+prev.span(leaf) > c.addr {
				return fmt.Errorf("%w: chunk %#x overlaps chunk %#x", buddy.ErrCorrupt, prev.addr, c.addr)
			}
		}
	}
	return nil
}
