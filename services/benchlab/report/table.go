// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/AleutianAI/benchlab/pkg/ux"
	"github.com/AleutianAI/benchlab/services/benchlab/backend"
	"github.com/AleutianAI/benchlab/services/benchlab/baseline"
	"github.com/AleutianAI/benchlab/services/benchlab/harness"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var summaryHeaders = []string{
	"Backend", "Action", "Level", "Samples", "Mean", "Min", "Max", "P50", "Mean size", "Ratio", "Pass",
}

// TableOptions controls table rendering.
type TableOptions struct {
	// Color enables styling. Usually ux.ShouldShowColors().
	Color bool
}

// SummaryTable renders one row per summary.
func SummaryTable(w io.Writer, summaries []harness.Summary, opts TableOptions) error {
	rows := make([][]string, 0, len(summaries))
	failing := make(map[int]bool)
	for i, s := range summaries {
		ratio := "-"
		if s.Ratio > 0 {
			ratio = strconv.FormatFloat(s.Ratio, 'f', 2, 64)
		}
		rows = append(rows, []string{
			s.Name,
			string(s.Action),
			levelCell(s),
			strconv.Itoa(s.Samples),
			duration(s.Mean),
			duration(s.Min),
			duration(s.Max),
			duration(s.P50),
			strconv.FormatFloat(s.MeanOutputSize, 'f', 0, 64),
			ratio,
			fmt.Sprintf("%d/%d", s.Passed, s.Repetitions),
		})
		failing[i] = s.Failed > 0
	}

	t := newTable(summaryHeaders, rows, opts, func(row int) lipgloss.Style {
		if failing[row] {
			return ux.Styles.Error
		}
		return lipgloss.NewStyle()
	})
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

var comparisonHeaders = []string{"Backend", "Baseline", "Current", "Ratio", "Status"}

// ComparisonTable renders baseline comparisons.
func ComparisonTable(w io.Writer, comparisons []baseline.Comparison, opts TableOptions) error {
	rows := make([][]string, 0, len(comparisons))
	regressed := make(map[int]bool)
	for i, c := range comparisons {
		status := "ok"
		switch {
		case c.Regressed:
			status = "regressed"
		case c.WorkloadChanged:
			status = "workload changed"
		}
		rows = append(rows, []string{
			c.Name,
			duration(c.BaselineMean),
			duration(c.CurrentMean),
			strconv.FormatFloat(c.Ratio, 'f', 3, 64),
			status,
		})
		regressed[i] = c.Regressed
	}

	t := newTable(comparisonHeaders, rows, opts, func(row int) lipgloss.Style {
		if regressed[row] {
			return ux.Styles.Warning
		}
		return ux.Styles.Success
	})
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

var backendHeaders = []string{"Backend", "Kind", "Capabilities", "Levels", "Source"}

// BackendTable renders registered backends.
func BackendTable(w io.Writer, handles []backend.Handle, opts TableOptions) error {
	rows := make([][]string, 0, len(handles))
	for _, h := range handles {
		levels := "-"
		if h.Kind() == backend.KindCodec && h.Caps.Has(backend.CapCompress) {
			r := h.Levels()
			levels = fmt.Sprintf("%d..%d", r.Min, r.Max)
		}
		source := "-"
		if id, level, ok := h.Source(); ok {
			source = fmt.Sprintf("%s@%d", id, level)
		}
		rows = append(rows, []string{h.ID, string(h.Kind()), h.Caps.String(), levels, source})
	}

	t := newTable(backendHeaders, rows, opts, func(int) lipgloss.Style { return lipgloss.NewStyle() })
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

var baselineHeaders = []string{"Name", "Action", "Level", "Samples", "Mean", "P50", "Ratio", "Created"}

// BaselineTable renders stored baselines.
func BaselineTable(w io.Writer, baselines []baseline.Baseline, opts TableOptions) error {
	rows := make([][]string, 0, len(baselines))
	for _, b := range baselines {
		level := "-"
		if b.Action != harness.ActionAlloc {
			level = strconv.Itoa(b.Level)
		}
		ratio := "-"
		if b.Ratio > 0 {
			ratio = strconv.FormatFloat(b.Ratio, 'f', 2, 64)
		}
		rows = append(rows, []string{
			b.Name,
			string(b.Action),
			level,
			strconv.Itoa(b.Samples),
			duration(b.Mean),
			duration(b.P50),
			ratio,
			b.CreatedAt.UTC().Format(time.DateTime),
		})
	}

	t := newTable(baselineHeaders, rows, opts, func(int) lipgloss.Style { return lipgloss.NewStyle() })
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

func newTable(headers []string, rows [][]string, opts TableOptions, rowStyle func(row int) lipgloss.Style) *table.Table {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers(headers...).
		Rows(rows...)

	if !opts.Color {
		return t.StyleFunc(func(_, _ int) lipgloss.Style {
			return lipgloss.NewStyle().Padding(0, 1)
		})
	}
	return t.
		BorderStyle(lipgloss.NewStyle().Foreground(ux.ColorTealDeep)).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return ux.Styles.Header.Padding(0, 1)
			}
			return rowStyle(row).Padding(0, 1)
		})
}

func levelCell(s harness.Summary) string {
	if s.Action == harness.ActionAlloc {
		return "-"
	}
	return strconv.Itoa(s.Level)
}

// duration formats d for a table cell.
func duration(d time.Duration) string {
	switch {
	case d == 0:
		return "-"
	case d >= time.Second:
		return d.Round(time.Millisecond).String()
	case d >= time.Millisecond:
		return d.Round(time.Microsecond).String()
	default:
		return d.String()
	}
}
