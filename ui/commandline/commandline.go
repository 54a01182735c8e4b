// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline contains convenience UI tools for vizflow command line programs:
// overridable settings, a progress display for compositing rounds, and summary tables.
package commandline

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
)

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	headerStyle       = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	tableBorderColor  = "#705090"
)

// newTable returns a table in the style used by the package: first column right aligned.
func newTable() *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			if col == 0 {
				return rightAlignedStyle
			}
			return normalStyle
		})
}

// ReportTable writes a table with the given headers and rows to w.
func ReportTable(w io.Writer, title string, headers []string, rows [][]string) error {
	table := newTable().Headers(headers...).Rows(rows...)
	if title != "" {
		if _, err := fmt.Fprintln(w, lipgloss.NewStyle().Bold(true).Render(title)); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, table.String())
	return err
}

// FormatDuration prints d with two decimals in its largest unit, e.g. "1.23s" or "15.00ms".
// Durations of a minute or more are rounded to the second, e.g. "1m30s".
func FormatDuration(d time.Duration) string {
	switch {
	case d >= time.Minute:
		return d.Round(time.Second).String()
	case d >= time.Second:
		return fmt.Sprintf("%.2fs", d.Seconds())
	case d >= time.Millisecond:
		return fmt.Sprintf("%.2fms", float64(d)/float64(time.Millisecond))
	case d >= time.Microsecond:
		return fmt.Sprintf("%.2fµs", float64(d)/float64(time.Microsecond))
	}
	return fmt.Sprintf("%dns", d.Nanoseconds())
}
