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
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/benchlab/services/benchlab/backend"
	"github.com/AleutianAI/benchlab/services/benchlab/backends/codec"
	"github.com/AleutianAI/benchlab/services/benchlab/baseline"
	"github.com/AleutianAI/benchlab/services/benchlab/harness"
	"github.com/AleutianAI/benchlab/services/benchlab/verify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixture() []harness.Result {
	return []harness.Result{
		{
			Name: "zstd-3", BackendID: "zstd", Action: harness.ActionRoundTrip, Level: 3,
			Elapsed: 3 * time.Millisecond, CompressElapsed: 2 * time.Millisecond, DecompressElapsed: time.Millisecond,
			InputSize: 1000, OutputSize: 300, Ratio: 1000.0 / 300, Verification: verify.Pass(),
		},
		{
			Name: "zstd-read", BackendID: "zstd-read", Action: harness.ActionDecompress, Level: 3,
			Elapsed: 1500 * time.Microsecond, InputSize: 300, OutputSize: 1000, Verification: verify.Pass(),
		},
		{
			Name: "bump", BackendID: "bump", Action: harness.ActionAlloc,
			Elapsed: 250 * time.Microsecond, OutputSize: 3, Verification: verify.Fail(verify.ReasonCountMismatch),
		},
	}
}

func TestRows(t *testing.T) {
	rows := Rows(fixture())
	require.Len(t, rows, 4)

	comp := rows[0]
	assert.Equal(t, "zstd-3", comp.Algorithm)
	assert.Equal(t, ActionCompression, comp.Action)
	assert.InDelta(t, 2.0, comp.ElapsedMs, 1e-9)
	require.NotNil(t, comp.CompressedSizeBytes)
	assert.Equal(t, 300, *comp.CompressedSizeBytes)
	require.NotNil(t, comp.CompressionRatio)
	assert.InDelta(t, 3.33, *comp.CompressionRatio, 1e-9)

	dec := rows[1]
	assert.Equal(t, ActionDecompression, dec.Action)
	assert.InDelta(t, 1.0, dec.ElapsedMs, 1e-9)
	assert.Nil(t, dec.CompressedSizeBytes)

	assert.Equal(t, ActionDecompression, rows[2].Action)
	assert.InDelta(t, 1.5, rows[2].ElapsedMs, 1e-9)

	assert.Equal(t, ActionAllocation, rows[3].Action)
	assert.InDelta(t, 0.25, rows[3].ElapsedMs, 1e-9)
}

func TestWriteJSON(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, NewExport("enwik.txt", 1000, fixture(), now)))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "enwik.txt", doc["filename"])
	assert.InDelta(t, 1000.0, doc["fileSizeBytes"], 0)
	assert.Equal(t, "2026-10-19T12:00:00Z", doc["timestamp"])

	results := doc["results"].([]any)
	require.Len(t, results, 4)
	first := results[0].(map[string]any)
	assert.Equal(t, "compression", first["action"])
	assert.InDelta(t, 300.0, first["compressedSizeBytes"], 0)
	assert.Equal(t, "zstd", first["backend_id"])
	assert.Equal(t, map[string]any{"status": "pass"}, first["verification"])

	second := results[1].(map[string]any)
	assert.NotContains(t, second, "compressedSizeBytes")
	assert.NotContains(t, second, "compressionRatio")
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, Rows(fixture())))

	assert.True(t, strings.HasPrefix(buf.String(),
		"Algorithm,Action,Elapsed (ms),Compressed Size (bytes),Compression Ratio,Verification\n"))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 5)
	assert.Equal(t, []string{"zstd-3", "compression", "2", "300", "3.33", "pass"}, records[1])
	assert.Equal(t, []string{"zstd-3", "decompression", "1", "", "", "pass"}, records[2])
	assert.Equal(t, []string{"bump", "allocation", "0.25", "", "", "fail(count mismatch)"}, records[4])
}

func TestFilename(t *testing.T) {
	now := time.Date(2026, 10, 19, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, "compression-benchmark-enwik8-2026-10-19.json", Filename("compression", "data/enwik8.txt", "json", now))
	assert.Equal(t, "allocation-benchmark-workload-2026-10-19.csv", Filename("allocation", "", "csv", now))
}

func TestSummaryTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, SummaryTable(&buf, harness.Summarize(fixture()), TableOptions{}))

	out := buf.String()
	for _, want := range []string{"Backend", "zstd-3", "zstd-read", "bump", "1/1", "0/1", "3.33"} {
		assert.Contains(t, out, want)
	}
}

func TestComparisonTable(t *testing.T) {
	var buf bytes.Buffer
	err := ComparisonTable(&buf, []baseline.Comparison{
		{Name: "gzip-6", BaselineMean: time.Millisecond, CurrentMean: 2 * time.Millisecond, Ratio: 2, Regressed: true},
		{Name: "s2-1", BaselineMean: time.Millisecond, CurrentMean: time.Millisecond, Ratio: 1},
	}, TableOptions{Color: true})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "regressed")
	assert.Contains(t, out, "s2-1")
	assert.Contains(t, out, "2.000")
}

func TestBackendTable(t *testing.T) {
	reg := backend.NewRegistry()
	require.NoError(t, codec.RegisterDefaults(reg))

	var buf bytes.Buffer
	require.NoError(t, BackendTable(&buf, reg.Handles(), TableOptions{}))

	out := buf.String()
	assert.Contains(t, out, "zstd")
	assert.Contains(t, out, "1..22")
	assert.Contains(t, out, "zstd@3")
	assert.Contains(t, out, "zlib@6")
}

func TestBaselineTable(t *testing.T) {
	created := time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC)
	var buf bytes.Buffer
	err := BaselineTable(&buf, []baseline.Baseline{
		{Name: "zstd-3", Action: harness.ActionRoundTrip, Level: 3, Samples: 4, Mean: 2 * time.Millisecond, P50: 2 * time.Millisecond, Ratio: 3.5, CreatedAt: created},
		{Name: "bump", Action: harness.ActionAlloc, Samples: 2, Mean: time.Millisecond, CreatedAt: created},
	}, TableOptions{})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "zstd-3")
	assert.Contains(t, out, "3.50")
	assert.Contains(t, out, "2026-10-19 08:30:00")
}

func TestDuration(t *testing.T) {
	assert.Equal(t, "-", duration(0))
	assert.Equal(t, "1.5s", duration(1500*time.Millisecond+400*time.Microsecond))
	assert.Equal(t, "2.001ms", duration(2001*time.Microsecond+300*time.Nanosecond))
	assert.Equal(t, "250µs", duration(250*time.Microsecond))
}
