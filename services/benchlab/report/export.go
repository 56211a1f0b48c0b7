// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package report renders benchmark results as JSON, CSV and terminal tables.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/benchlab/services/benchlab/harness"
	"github.com/AleutianAI/benchlab/services/benchlab/verify"
)

// Row actions. A round trip expands into one compression and one
// decompression row.
const (
	ActionCompression   = "compression"
	ActionDecompression = "decompression"
	ActionAllocation    = "allocation"
)

// CSVHeader is the first line of every CSV export.
var CSVHeader = []string{
	"Algorithm", "Action", "Elapsed (ms)", "Compressed Size (bytes)", "Compression Ratio", "Verification",
}

// Row is one exported measurement.
type Row struct {
	Algorithm           string   `json:"algorithm"`
	Action              string   `json:"action"`
	ElapsedMs           float64  `json:"elapsedMs"`
	CompressedSizeBytes *int     `json:"compressedSizeBytes,omitempty"`
	CompressionRatio    *float64 `json:"compressionRatio,omitempty"`

	BackendID    string         `json:"backend_id"`
	Level        int            `json:"level"`
	Repetition   int            `json:"repetition"`
	Warmup       bool           `json:"warmup,omitempty"`
	ElapsedTime  time.Duration  `json:"elapsed_time"`
	OutputSize   int            `json:"output_size"`
	Verification verify.Verdict `json:"verification"`
}

// Export is the JSON document written by WriteJSON.
type Export struct {
	Filename      string    `json:"filename"`
	FileSizeBytes int       `json:"fileSizeBytes"`
	Timestamp     time.Time `json:"timestamp"`
	Results       []Row     `json:"results"`
}

// NewExport builds the export of results measured on an input named
// filename of size bytes.
func NewExport(filename string, size int, results []harness.Result, now time.Time) Export {
	return Export{
		Filename:      filename,
		FileSizeBytes: size,
		Timestamp:     now.UTC(),
		Results:       Rows(results),
	}
}

// Rows flattens results into export rows.
func Rows(results []harness.Result) []Row {
	rows := make([]Row, 0, len(results))
	for _, r := range results {
		base := Row{
			Algorithm:    r.Name,
			BackendID:    r.BackendID,
			Level:        r.Level,
			Repetition:   r.Repetition,
			Warmup:       r.Warmup,
			ElapsedTime:  r.Elapsed,
			OutputSize:   r.OutputSize,
			Verification: r.Verification,
		}

		switch r.Action {
		case harness.ActionRoundTrip:
			rows = append(rows, compressionRow(base, r.CompressElapsed, r))
			dec := base
			dec.Action = ActionDecompression
			dec.ElapsedMs = millis(r.DecompressElapsed)
			rows = append(rows, dec)
		case harness.ActionCompress:
			rows = append(rows, compressionRow(base, r.Elapsed, r))
		case harness.ActionDecompress:
			base.Action = ActionDecompression
			base.ElapsedMs = millis(r.Elapsed)
			rows = append(rows, base)
		default:
			base.Action = ActionAllocation
			base.ElapsedMs = millis(r.Elapsed)
			rows = append(rows, base)
		}
	}
	return rows
}

func compressionRow(base Row, elapsed time.Duration, r harness.Result) Row {
	base.Action = ActionCompression
	base.ElapsedMs = millis(elapsed)
	if r.OutputSize > 0 {
		size := r.OutputSize
		ratio := round2(float64(r.InputSize) / float64(size))
		base.CompressedSizeBytes = &size
		base.CompressionRatio = &ratio
	}
	return base
}

// millis converts d to milliseconds with microsecond precision.
func millis(d time.Duration) float64 {
	return math.Round(float64(d)/float64(time.Microsecond)) / 1000
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// WriteJSON writes e as indented JSON.
func WriteJSON(w io.Writer, e Export) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(e); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}

// WriteCSV writes rows with CSVHeader. Size and ratio are left empty for
// rows without them.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range rows {
		size, ratio := "", ""
		if r.CompressedSizeBytes != nil {
			size = strconv.Itoa(*r.CompressedSizeBytes)
		}
		if r.CompressionRatio != nil {
			ratio = strconv.FormatFloat(*r.CompressionRatio, 'f', -1, 64)
		}
		record := []string{
			r.Algorithm,
			r.Action,
			strconv.FormatFloat(r.ElapsedMs, 'f', -1, 64),
			size,
			ratio,
			r.Verification.String(),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Filename returns "<prefix>-benchmark-<input stem>-<date>.<ext>".
//
// Example:
//
//	report.Filename("compression", "corpus/enwik8.txt", "json", now)
//	// compression-benchmark-enwik8-2026-10-19.json
func Filename(prefix, input, ext string, now time.Time) string {
	stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	if stem == "" || stem == "." {
		stem = "workload"
	}
	return fmt.Sprintf("%s-benchmark-%s-%s.%s", prefix, stem, now.UTC().Format(time.DateOnly), ext)
}
