package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/kalloc/cpu"
	"github.com/joshuapare/kalloc/mem/buddy"
	"github.com/joshuapare/kalloc/mem/kalloc"
)

func init() {
	rootCmd.AddCommand(newScenarioCmd())
}

func newScenarioCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario",
		Short: "Replay the two-leaf split and coalesce scenario",
		Long: `The scenario command boots a 128-byte region with 16-byte leaves, allocates
two adjacent leaves, frees both and prints the free lists after every step. The
region must end up as a single free chunk of the top class.

Example:
  kallocctl scenario
  kallocctl scenario --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario()
		},
	}
	return cmd
}

// ScenarioStep records one operation and the free lists after it.
type ScenarioStep struct {
	Op        string     `json:"op"`
	Addr      string     `json:"addr,omitempty"`
	FreeLists [][]string `json:"free_lists"`
}

func runScenario() error {
	const (
		regionSize = 128
		leaf       = 16
	)
	core := cpu.New(1).Core(0)
	kmem, dram, err := boot(core, machine{
		dramSize: regionSize,
		leaf:     leaf,
		maxAlign: uint64(kalloc.DefaultMaxAlignment),
		metadata: make([]byte, 64),
	})
	if err != nil {
		return err
	}
	defer dram.Close()

	classes := len(kmem.Classes(core))
	snapshot := func(op string, addr uintptr) ScenarioStep {
		s := ScenarioStep{Op: op, FreeLists: make([][]string, classes)}
		if addr != 0 {
			s.Addr = fmt.Sprintf("%#x", addr)
		}
		for k := range classes {
			s.FreeLists[k] = []string{}
			for _, a := range kmem.FreeChunks(core, k) {
				s.FreeLists[k] = append(s.FreeLists[k], fmt.Sprintf("%#x", a))
			}
		}
		return s
	}

	steps := []ScenarioStep{snapshot("init", 0)}
	r1, err := kmem.Allocate(core, leaf, leaf)
	if err != nil {
		return err
	}
	steps = append(steps, snapshot("allocate(16, 16)", r1))
	r2, err := kmem.Allocate(core, leaf, leaf)
	if err != nil {
		return err
	}
	steps = append(steps, snapshot("allocate(16, 16)", r2))
	kmem.Free(core, r1, leaf, leaf)
	steps = append(steps, snapshot("free(R, 16, 16)", r1))
	kmem.Free(core, r2, leaf, leaf)
	steps = append(steps, snapshot("free(R+16, 16, 16)", r2))

	if r2 != r1+leaf {
		return fmt.Errorf("%w: second leaf at %#x, want %#x", buddy.ErrCorrupt, r2, r1+leaf)
	}
	start, _ := kmem.Region(core)
	if top := kmem.FreeChunks(core, classes-1); len(top) != 1 || top[0] != start {
		return fmt.Errorf("%w: top class free list is %#x, want [%#x]", buddy.ErrCorrupt, top, start)
	}
	if err := kmem.Check(core); err != nil {
		return err
	}

	if jsonOut {
		return printJSON(steps)
	}
	printInfo("\nScenario: %d-byte region, %d-byte leaves, %d classes\n", regionSize, leaf, classes)
	for _, s := range steps {
		if s.Addr != "" {
			printInfo("\n%s -> %s\n", s.Op, s.Addr)
		} else {
			printInfo("\n%s\n", s.Op)
		}
		for k, list := range s.FreeLists {
			printInfo("  class %d (%s): %v\n", k, formatBytes(uint64(leaf)<<k), list)
		}
	}
	printInfo("\nRegion coalesced back into one %s chunk\n", formatBytes(regionSize))
	return nil
}
