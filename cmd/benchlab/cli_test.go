// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/benchlab/services/benchlab/backend"
	"github.com/AleutianAI/benchlab/services/benchlab/baseline"
	"github.com/AleutianAI/benchlab/services/benchlab/harness"
	"github.com/AleutianAI/benchlab/services/benchlab/report"
	"github.com/AleutianAI/benchlab/services/benchlab/telemetry"
	"github.com/AleutianAI/benchlab/services/benchlab/workload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Helpers
// =============================================================================

// testEnv writes a config with a file baseline store under a temp dir.
func testEnv(t *testing.T) (cfgPath, baselineDir string) {
	t.Helper()
	dir := t.TempDir()
	cfgPath = filepath.Join(dir, "benchlab.yaml")
	baselineDir = filepath.Join(dir, "baselines")

	cfg := `
output: machine
run:
  repetitions: 2
  warmup: false
  verify: true
  mode: auto
  cpu: -1
baseline:
  store: file
  dir: ` + baselineDir + `
  threshold: 0.1
logging:
  level: error
telemetry:
  service_name: benchlab-test
  trace_exporter: none
  metric_exporter: none
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0600))
	return cfgPath, baselineDir
}

func execute(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	rootCmd, cleanup := newRootCmd()

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(append([]string{"--config", cfgPath}, args...))

	err := rootCmd.ExecuteContext(context.Background())
	require.NoError(t, cleanup(context.Background()))
	return out.String(), err
}

var helloArgs = []string{"--corpus", "hello", "--iterations", "3", "--fanout", "5"}

// =============================================================================
// Informational commands
// =============================================================================

func TestVersion(t *testing.T) {
	cfgPath, _ := testEnv(t)
	out, err := execute(t, cfgPath, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "benchlab dev")
}

func TestList(t *testing.T) {
	cfgPath, _ := testEnv(t)
	out, err := execute(t, cfgPath, "list")
	require.NoError(t, err)
	for _, want := range []string{"bump", "mempool", "zstd", "zstd@3", "zlib@6", "1..22"} {
		assert.Contains(t, out, want)
	}
}

func TestPresets(t *testing.T) {
	cfgPath, _ := testEnv(t)
	out, err := execute(t, cfgPath, "presets")
	require.NoError(t, err)
	assert.Contains(t, out, "[1 3 5 7]")
	assert.Contains(t, out, "zlib-read")
	assert.Contains(t, out, "[zstd@3]")
}

func TestConfigCreatedOnFirstUse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "benchlab.yaml")
	t.Setenv("BENCHLAB_OUTPUT", "machine")
	t.Setenv("OTEL_METRICS_EXPORTER", "none")
	_, err := execute(t, path, "list")
	require.NoError(t, err)
	assert.FileExists(t, path)
}

// =============================================================================
// run
// =============================================================================

func TestRunAlloc_JSON(t *testing.T) {
	cfgPath, _ := testEnv(t)
	args := append([]string{"run", "alloc", "bump", "-n", "3", "--format", "json"}, helloArgs...)
	out, err := execute(t, cfgPath, args...)
	require.NoError(t, err)

	var export report.Export
	require.NoError(t, json.Unmarshal([]byte(out), &export))
	assert.Equal(t, "workload", export.Filename)
	assert.Equal(t, 5, export.FileSizeBytes)
	require.Len(t, export.Results, 3)
	for _, row := range export.Results {
		assert.Equal(t, "bump", row.Algorithm)
		assert.Equal(t, report.ActionAllocation, row.Action)
		assert.Equal(t, 3, row.OutputSize)
		assert.True(t, row.Verification.Passed())
	}
}

func TestRunAlloc_AllBackendsTable(t *testing.T) {
	cfgPath, _ := testEnv(t)
	out, err := execute(t, cfgPath, append([]string{"run", "alloc"}, helloArgs...)...)
	require.NoError(t, err)
	for _, id := range []string{"general", "bump", "bump-sized", "pool", "mempool"} {
		assert.Contains(t, out, id)
	}
	assert.Contains(t, out, "2/2")
}

func TestRunCodec_CSV(t *testing.T) {
	cfgPath, _ := testEnv(t)
	out, err := execute(t, cfgPath,
		"run", "codec", "zstd", "--level", "3",
		"--generate", "compressible", "--size", "4096",
		"--format", "csv",
	)
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1+4)
	assert.Equal(t, report.CSVHeader, records[0])
	assert.Equal(t, []string{"zstd", "compression"}, records[1][:2])
	assert.Equal(t, []string{"zstd", "decompression"}, records[2][:2])
	assert.NotEmpty(t, records[1][3])
	assert.Empty(t, records[2][3])
	assert.Equal(t, "pass", records[1][5])
}

func TestRunCodec_ExportDir(t *testing.T) {
	cfgPath, _ := testEnv(t)
	exportDir := filepath.Join(t.TempDir(), "reports")

	input := filepath.Join(t.TempDir(), "sample.txt")
	require.NoError(t, os.WriteFile(input, bytes.Repeat([]byte("benchlab "), 200), 0600))

	_, err := execute(t, cfgPath,
		"run", "codec", "lz4", "s2", "--input", input, "-n", "1", "--export-dir", exportDir,
	)
	require.NoError(t, err)

	jsonFiles, err := filepath.Glob(filepath.Join(exportDir, "compression-benchmark-sample-*.json"))
	require.NoError(t, err)
	require.Len(t, jsonFiles, 1)
	csvFiles, err := filepath.Glob(filepath.Join(exportDir, "compression-benchmark-sample-*.csv"))
	require.NoError(t, err)
	require.Len(t, csvFiles, 1)

	data, err := os.ReadFile(jsonFiles[0])
	require.NoError(t, err)
	var export report.Export
	require.NoError(t, json.Unmarshal(data, &export))
	assert.Equal(t, 1800, export.FileSizeBytes)
	assert.Len(t, export.Results, 4)
}

func TestRunCodec_DecompressMode(t *testing.T) {
	cfgPath, _ := testEnv(t)
	out, err := execute(t, cfgPath, "run", "codec", "zstd-read", "--mode", "decompress", "-n", "1", "--format", "json")
	require.NoError(t, err)

	var export report.Export
	require.NoError(t, json.Unmarshal([]byte(out), &export))
	require.Len(t, export.Results, 1)
	assert.Equal(t, report.ActionDecompression, export.Results[0].Action)
	assert.Equal(t, 3, export.Results[0].Level)
}

func TestRun_Errors(t *testing.T) {
	cfgPath, _ := testEnv(t)

	_, err := execute(t, cfgPath, "run", "alloc", "zstd")
	assert.ErrorIs(t, err, ErrKindMismatch)

	_, err = execute(t, cfgPath, "run", "codec", "nope")
	assert.ErrorIs(t, err, backend.ErrUnknownBackend)

	_, err = execute(t, cfgPath, "run", "codec", "zstd", "--mode", "sideways")
	assert.ErrorIs(t, err, harness.ErrInvalidConfig)

	_, err = execute(t, cfgPath, "run", "codec", "zstd-read", "--mode", "compress")
	assert.ErrorIs(t, err, harness.ErrModeUnsupported)

	_, err = execute(t, cfgPath, "run", "alloc", "bump", "--format", "xml")
	assert.Error(t, err)

	_, err = execute(t, cfgPath, "run", "codec", "--presets", "--level", "3")
	assert.Error(t, err)
}

// =============================================================================
// baseline
// =============================================================================

func TestBaselineLifecycle(t *testing.T) {
	cfgPath, baselineDir := testEnv(t)

	save := append([]string{"baseline", "save", "bump", "--kind", "allocation", "-n", "3"}, helloArgs...)
	out, err := execute(t, cfgPath, save...)
	require.NoError(t, err)
	assert.Contains(t, out, "saved 1 baselines")
	assert.FileExists(t, filepath.Join(baselineDir, "bump.json"))

	out, err = execute(t, cfgPath, "baseline", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "bump")

	out, err = execute(t, cfgPath, "baseline", "show", "bump")
	require.NoError(t, err)
	assert.Contains(t, out, "samples")
	assert.Contains(t, out, "3")

	compare := append([]string{"baseline", "compare", "bump", "--kind", "allocation", "-n", "3", "--threshold", "1000"}, helloArgs...)
	out, err = execute(t, cfgPath, compare...)
	require.NoError(t, err)
	assert.Contains(t, out, "ok")

	_, err = execute(t, cfgPath, "baseline", "delete", "bump")
	require.NoError(t, err)

	_, err = execute(t, cfgPath, "baseline", "show", "bump")
	assert.ErrorIs(t, err, baseline.ErrBaselineNotFound)
}

func TestBaselineCompare_Regression(t *testing.T) {
	cfgPath, baselineDir := testEnv(t)

	store, err := baseline.OpenFileStore(baselineDir)
	require.NoError(t, err)
	w := workload.MustGenerate([]byte("hello"), 3, 5)
	require.NoError(t, store.Set(context.Background(), baseline.Baseline{
		Name:        "bump",
		BackendID:   "bump",
		Action:      harness.ActionAlloc,
		Fingerprint: baseline.Fingerprint(w.Fingerprint()),
		Samples:     1,
		Mean:        time.Nanosecond,
		Min:         time.Nanosecond,
		Max:         time.Nanosecond,
		CreatedAt:   time.Now(),
	}))
	require.NoError(t, store.Close())

	compare := append([]string{"baseline", "compare", "bump", "--kind", "allocation"}, helloArgs...)
	out, err := execute(t, cfgPath, compare...)
	assert.ErrorIs(t, err, ErrRegression)
	assert.Contains(t, out, "regressed")

	_, err = execute(t, cfgPath, append(compare, "--no-fail")...)
	assert.NoError(t, err)
}

func TestBaselineCompare_NothingStored(t *testing.T) {
	cfgPath, _ := testEnv(t)
	compare := append([]string{"baseline", "compare", "bump", "--kind", "allocation"}, helloArgs...)
	_, err := execute(t, cfgPath, compare...)
	assert.NoError(t, err)
}

func TestParseKind(t *testing.T) {
	k, err := parseKind("alloc")
	require.NoError(t, err)
	assert.Equal(t, backend.KindAllocation, k)

	k, err = parseKind("codec")
	require.NoError(t, err)
	assert.Equal(t, backend.KindCodec, k)

	_, err = parseKind("gpu")
	assert.Error(t, err)
}

// =============================================================================
// serve
// =============================================================================

func TestFlushLoop_StopsOnCancel(t *testing.T) {
	a := &app{sink: telemetry.NewNoOpSink(), logger: slog.New(slog.DiscardHandler)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.flushLoop(ctx, time.Millisecond) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("flush loop did not stop")
	}
}
