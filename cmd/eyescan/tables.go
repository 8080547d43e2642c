// Copyright 2026 The eyescan Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
	highlightRowStyle = lipgloss.NewStyle().
				Foreground(lipgloss.AdaptiveColor{Light: "28", Dark: "10"}).
				Bold(true).
				PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 0, 4)
)

// table is a lipgloss table with alternating row styles, where some rows can be highlighted.
type table struct {
	*lgtable.Table
	count       int
	highlighted map[int]bool
}

// newTable creates a table: alignments are given per column, and the last one applies to the
// remaining columns.
func newTable(headers []string, alignments ...lipgloss.Position) *table {
	t := &table{highlighted: make(map[int]bool)}
	t.Table = lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row < 0 {
				return headerRowStyle
			}
			switch {
			case t.highlighted[row]:
				s = highlightRowStyle
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			alignment := lipgloss.Left
			if col < len(alignments) {
				alignment = alignments[col]
			} else if len(alignments) > 0 {
				alignment = alignments[len(alignments)-1]
			}
			return s.Align(alignment)
		})
	if len(headers) > 0 {
		t.Headers(headers...)
	}
	return t
}

// Add appends a row, highlighted if requested.
func (t *table) Add(highlight bool, row ...string) {
	if highlight {
		t.highlighted[t.count] = true
	}
	t.Row(row...)
	t.count++
}

func printTitle(title string) {
	fmt.Println(titleStyle.Render(title))
}

func percent(v float64) string {
	return fmt.Sprintf("%.2f%%", 100*v)
}
