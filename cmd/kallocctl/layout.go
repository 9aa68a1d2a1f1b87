package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/kalloc/cpu"
	"github.com/joshuapare/kalloc/mem/buddy"
	"github.com/joshuapare/kalloc/mem/kalloc"
)

var (
	layoutKernelSize uint64
	layoutDRAMSize   uint64
	layoutLeaf       uint64
	layoutMaxAlign   uint64
)

func init() {
	cmd := newLayoutCmd()
	cmd.Flags().Uint64Var(&layoutKernelSize, "kernel-size", 0x23456, "Bytes of DRAM taken by the kernel image")
	cmd.Flags().Uint64Var(&layoutDRAMSize, "region-size", uint64(kalloc.DRAMSize), "Bytes of simulated DRAM")
	cmd.Flags().Uint64Var(&layoutLeaf, "leaf", uint64(kalloc.DefaultLeafSize), "Leaf chunk size (power of 2)")
	cmd.Flags().Uint64Var(&layoutMaxAlign, "max-align", uint64(kalloc.DefaultMaxAlignment), "Largest supported alignment (power of 2)")
	rootCmd.AddCommand(cmd)
}

func newLayoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Show the allocator layout after boot",
		Long: `The layout command boots the allocator over simulated DRAM and shows the
effective region, the metadata carved from it and every chunk class.

Example:
  kallocctl layout
  kallocctl layout --region-size 1048576 --leaf 64
  kallocctl layout --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLayout()
		},
	}
	return cmd
}

// LayoutReport is the layout command's output.
type LayoutReport struct {
	DRAMStart     string            `json:"dram_start"`
	DRAMEnd       string            `json:"dram_end"`
	KernelBytes   uint64            `json:"kernel_bytes"`
	RegionStart   string            `json:"region_start"`
	RegionEnd     string            `json:"region_end"`
	RegionBytes   uint64            `json:"region_bytes"`
	LeafSize      uint64            `json:"leaf_size"`
	MaxAlignment  uint64            `json:"max_alignment"`
	MetadataBytes uint64            `json:"metadata_bytes"`
	ReservedBytes uint64            `json:"reserved_bytes"`
	Classes       []buddy.ClassInfo `json:"classes"`
}

func runLayout() error {
	core := cpu.New(1).Core(0)
	kmem, dram, err := boot(core, machine{
		dramSize:   layoutDRAMSize,
		kernelSize: layoutKernelSize,
		leaf:       layoutLeaf,
		maxAlign:   layoutMaxAlign,
	})
	if err != nil {
		return err
	}
	defer dram.Close()

	geom := kmem.Layout(core)
	stats := kmem.Stats(core)
	report := LayoutReport{
		DRAMStart:     fmt.Sprintf("%#x", dram.Base()),
		DRAMEnd:       fmt.Sprintf("%#x", dram.End()),
		KernelBytes:   layoutKernelSize,
		RegionStart:   fmt.Sprintf("%#x", geom.Start),
		RegionEnd:     fmt.Sprintf("%#x", geom.End),
		RegionBytes:   stats.RegionBytes,
		LeafSize:      uint64(geom.LeafSize),
		MaxAlignment:  uint64(geom.MaxAlignment),
		MetadataBytes: stats.MetadataBytes,
		ReservedBytes: stats.ReservedBytes,
		Classes:       kmem.Classes(core),
	}

	if jsonOut {
		return printJSON(report)
	}

	printInfo("\nAllocator Layout:\n")
	printInfo("  DRAM:     [%s, %s) %s\n", report.DRAMStart, report.DRAMEnd, formatBytes(uint64(dram.Len())))
	printInfo("  Kernel:   %s\n", formatBytes(report.KernelBytes))
	printInfo("  Region:   [%s, %s) %s\n", report.RegionStart, report.RegionEnd, formatBytes(report.RegionBytes))
	printInfo("  Leaf:     %s (max alignment %s)\n", formatBytes(report.LeafSize), formatBytes(report.MaxAlignment))
	printInfo("  Metadata: %s (%s reserved in region)\n",
		formatBytes(report.MetadataBytes), formatBytes(report.ReservedBytes))
	printInfo("  Classes:  %d\n\n", len(report.Classes))
	printInfo("%s\n", renderClassTable(report.Classes))
	return nil
}
