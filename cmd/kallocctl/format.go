package main

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/joshuapare/kalloc/mem/buddy"
)

var numbers = message.NewPrinter(language.English)

// formatNumber groups thousands: 1234567 -> "1,234,567".
func formatNumber[T int | int64 | uint64 | uintptr](n T) string {
	return numbers.Sprintf("%d", n)
}

func formatBytes(b uint64) string {
	switch {
	case b >= 1<<30 && b%(1<<30) == 0:
		return fmt.Sprintf("%d GiB", b>>30)
	case b >= 1<<20:
		if b%(1<<20) == 0 {
			return fmt.Sprintf("%d MiB", b>>20)
		}
		return fmt.Sprintf("%.2f MiB", float64(b)/(1<<20))
	case b >= 1<<10:
		if b%(1<<10) == 0 {
			return fmt.Sprintf("%d KiB", b>>10)
		}
		return fmt.Sprintf("%.1f KiB", float64(b)/(1<<10))
	}
	return fmt.Sprintf("%d B", b)
}

// Table styles
var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().Padding(0, 1)

	numberStyle = cellStyle.Align(lipgloss.Right)

	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// renderClassTable renders one row per chunk class.
func renderClassTable(classes []buddy.ClassInfo) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers("CLASS", "CHUNK", "CAPACITY", "FREE", "ALLOCATED", "SPLIT").
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 0:
				return cellStyle
			default:
				return numberStyle
			}
		})
	for _, c := range classes {
		t.Row(
			strconv.Itoa(c.Class),
			formatBytes(uint64(c.ChunkSize)),
			formatNumber(c.Capacity),
			formatNumber(c.Free),
			formatNumber(c.Allocated),
			formatNumber(c.Split),
		)
	}
	return t.Render()
}
