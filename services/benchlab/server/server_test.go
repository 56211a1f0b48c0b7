// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/AleutianAI/benchlab/services/benchlab/backend"
	"github.com/AleutianAI/benchlab/services/benchlab/backends/alloc"
	"github.com/AleutianAI/benchlab/services/benchlab/backends/codec"
	"github.com/AleutianAI/benchlab/services/benchlab/config"
	"github.com/AleutianAI/benchlab/services/benchlab/harness"
	"github.com/AleutianAI/benchlab/services/benchlab/workload"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Helpers
// =============================================================================

func testServerConfig() config.ServerConfig {
	return config.ServerConfig{
		Addr:           "127.0.0.1:0",
		RateLimit:      1000,
		Burst:          1000,
		MaxRepetitions: 10,
		MaxIterations:  100,
	}
}

func newTestServer(t *testing.T, cfg config.ServerConfig, opts ...Option) *Server {
	t.Helper()
	reg := backend.NewRegistry()
	require.NoError(t, alloc.RegisterDefaults(reg))
	require.NoError(t, codec.RegisterDefaults(reg))

	logger := slog.New(slog.DiscardHandler)
	runner := harness.NewRunner(reg, harness.WithWarmup(false))
	runner.SetLogger(logger)

	w, err := workload.Generate([]byte("hello"), 3, 5)
	require.NoError(t, err)

	base := []Option{WithWorkload(w), WithLogger(logger), WithGatherer(prometheus.NewRegistry())}
	s, err := New(runner, cfg, append(base, opts...)...)
	require.NoError(t, err)
	return s
}

func postRun(t *testing.T, s *Server, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/runs", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	s.Router().ServeHTTP(w, req)
	return w
}

func decodeRun(t *testing.T, w *httptest.ResponseRecorder) RunResponse {
	t.Helper()
	var resp RunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// =============================================================================
// Construction
// =============================================================================

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, testServerConfig())
	assert.ErrorIs(t, err, ErrNilRunner)

	runner := harness.NewRunner(backend.NewRegistry())
	bad := testServerConfig()
	bad.RateLimit = 0
	_, err = New(runner, bad)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	bad = testServerConfig()
	bad.MaxRepetitions = 0
	_, err = New(runner, bad)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

// =============================================================================
// Read-only routes
// =============================================================================

func TestHealthz(t *testing.T) {
	s := newTestServer(t, testServerConfig())

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/healthz", nil)
	s.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")

	var response map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "ok", response["status"])
	assert.EqualValues(t, s.runner.Registry().Count(), response["backends"])
}

func TestBackends_ListsRegistry(t *testing.T) {
	s := newTestServer(t, testServerConfig())

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/backends", nil)
	s.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Backends []BackendInfo `json:"backends"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	require.Len(t, response.Backends, s.runner.Registry().Count())

	byID := make(map[string]BackendInfo)
	for _, b := range response.Backends {
		byID[b.ID] = b
	}

	assert.Equal(t, "allocation", byID[alloc.IDGeneral].Kind)

	zstd := byID[codec.IDZstd]
	assert.Equal(t, "codec", zstd.Kind)
	assert.Equal(t, 1, zstd.MinLevel)
	assert.Equal(t, 22, zstd.MaxLevel)

	read := byID[codec.IDZstdRead]
	assert.Equal(t, codec.IDZstd, read.Source)
	assert.Equal(t, 3, read.SourceLevel)
}

func TestMetrics_ServesGatherer(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "benchlab_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	s := newTestServer(t, testServerConfig(), WithGatherer(reg))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/metrics", nil)
	s.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "benchlab_test_total 1")
}

// =============================================================================
// POST /runs
// =============================================================================

func TestRun_SingleAllocationBackend(t *testing.T) {
	s := newTestServer(t, testServerConfig())

	w := postRun(t, s, RunRequest{Backends: []string{alloc.IDBump}, Repetitions: 3})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decodeRun(t, w)
	assert.NotEmpty(t, resp.RunID)
	assert.Empty(t, resp.Error)
	require.Len(t, resp.Results, 3)
	for i, r := range resp.Results {
		assert.Equal(t, resp.RunID, r.RunID)
		assert.Equal(t, i, r.Repetition)
		assert.Equal(t, 3, r.OutputSize)
		assert.Equal(t, 15, r.InnerBuffers)
		assert.True(t, r.Verification.Passed())
	}
	require.Len(t, resp.Summaries, 1)
	assert.Equal(t, 3, resp.Summaries[0].Samples)
}

func TestRun_CodecAtLevel(t *testing.T) {
	s := newTestServer(t, testServerConfig())
	level := 9

	w := postRun(t, s, RunRequest{
		Backends:    []string{codec.IDZstd},
		Repetitions: 2,
		Level:       &level,
		Corpus:      "abcabcabcabcabcabc",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decodeRun(t, w)
	require.Len(t, resp.Results, 2)
	for _, r := range resp.Results {
		assert.Equal(t, harness.ActionRoundTrip, r.Action)
		assert.Equal(t, 9, r.Level)
		assert.Equal(t, 18, r.InputSize)
		assert.True(t, r.Verification.Passed())
	}
}

func TestRun_KindSweep(t *testing.T) {
	s := newTestServer(t, testServerConfig())

	w := postRun(t, s, RunRequest{Kind: "allocation", Repetitions: 1})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decodeRun(t, w)
	ids := s.runner.Registry().ListKind(backend.KindAllocation)
	require.Len(t, resp.Results, len(ids))
	for i, r := range resp.Results {
		assert.Equal(t, ids[i], r.BackendID)
	}
}

func TestRun_PartialSweepReportsError(t *testing.T) {
	s := newTestServer(t, testServerConfig())

	w := postRun(t, s, RunRequest{
		Backends:    []string{alloc.IDBump, codec.IDZstdRead},
		Repetitions: 1,
		Mode:        "compress",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decodeRun(t, w)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, alloc.IDBump, resp.Results[0].BackendID)
	assert.Contains(t, resp.Error, codec.IDZstdRead)
}

func TestRun_Presets(t *testing.T) {
	s := newTestServer(t, testServerConfig(), WithPresets(map[string][]int{codec.IDLZ4: {0, 9}}))

	w := postRun(t, s, RunRequest{Presets: true, Repetitions: 1})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decodeRun(t, w)
	names := make([]string, 0, len(resp.Summaries))
	for _, sum := range resp.Summaries {
		names = append(names, sum.Name)
	}
	assert.Equal(t, []string{"lz4-0", "lz4-9", codec.IDZlibRead, codec.IDZstdRead}, names)
}

func TestRun_PresetsNotConfigured(t *testing.T) {
	s := newTestServer(t, testServerConfig())

	w := postRun(t, s, RunRequest{Presets: true, Repetitions: 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRun_ErrorStatuses(t *testing.T) {
	iterations := 1000
	fanout := 0

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"malformed json", "not json", http.StatusBadRequest},
		{"missing repetitions", RunRequest{Backends: []string{alloc.IDBump}}, http.StatusBadRequest},
		{"bad mode", RunRequest{Repetitions: 1, Mode: "sideways"}, http.StatusBadRequest},
		{"bad kind", RunRequest{Repetitions: 1, Kind: "gpu"}, http.StatusBadRequest},
		{"empty id", RunRequest{Repetitions: 1, Backends: []string{""}}, http.StatusBadRequest},
		{"too many repetitions", RunRequest{Backends: []string{alloc.IDBump}, Repetitions: 11}, http.StatusBadRequest},
		{"too many iterations", RunRequest{Backends: []string{alloc.IDBump}, Repetitions: 1, Iterations: &iterations}, http.StatusBadRequest},
		{"bad fanout", RunRequest{Backends: []string{alloc.IDBump}, Repetitions: 1, Fanout: &fanout}, http.StatusBadRequest},
		{"unknown backend", RunRequest{Backends: []string{"nope"}, Repetitions: 1}, http.StatusNotFound},
		{"mode unsupported", RunRequest{Backends: []string{codec.IDZstdRead}, Repetitions: 1, Mode: "compress"}, http.StatusUnprocessableEntity},
	}

	s := newTestServer(t, testServerConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postRun(t, s, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())

			var response map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
			assert.NotEmpty(t, response["error"])
		})
	}
}

func TestRun_RateLimited(t *testing.T) {
	cfg := testServerConfig()
	cfg.RateLimit = 0.001
	cfg.Burst = 1
	s := newTestServer(t, cfg)

	first := postRun(t, s, RunRequest{Backends: []string{alloc.IDBump}, Repetitions: 1})
	assert.Equal(t, http.StatusOK, first.Code)

	second := postRun(t, s, RunRequest{Backends: []string{alloc.IDBump}, Repetitions: 1})
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(context.Canceled))
	assert.Equal(t, http.StatusBadRequest, statusFor(harness.ErrInvalidConfig))
	assert.Equal(t, http.StatusBadRequest, statusFor(backend.ErrInvalidLevel))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}

func TestRun_InvalidLevel(t *testing.T) {
	s := newTestServer(t, testServerConfig())
	level := 99

	w := postRun(t, s, RunRequest{
		Backends:    []string{codec.IDZstd},
		Repetitions: 3,
		Level:       &level,
		Mode:        "decompress",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "invalid level")
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestListenAndServe_StopsOnCancel(t *testing.T) {
	s := newTestServer(t, testServerConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
