// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink counts calls and can fail on demand.
type recordingSink struct {
	mu          sync.Mutex
	repetitions int
	regressions int
	errors      int
	flushes     int
	closes      int
	fail        error
}

func (r *recordingSink) RecordRepetition(_ context.Context, _ *RepetitionData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.repetitions++
	return r.fail
}

func (r *recordingSink) RecordRegression(_ context.Context, _ *RegressionData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.regressions++
	return r.fail
}

func (r *recordingSink) RecordError(_ context.Context, _ *ErrorData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors++
	return r.fail
}

func (r *recordingSink) Flush(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushes++
	return r.fail
}

func (r *recordingSink) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes++
	return nil
}

func sampleRepetition() *RepetitionData {
	return &RepetitionData{
		RunID:             "run-1",
		Backend:           "zstd",
		Action:            "roundtrip",
		Level:             3,
		Repetition:        1,
		Timestamp:         time.Unix(1700000000, 0),
		Elapsed:           3 * time.Millisecond,
		CompressElapsed:   2 * time.Millisecond,
		DecompressElapsed: time.Millisecond,
		InputSize:         4000,
		OutputSize:        1000,
		Verification:      "pass",
	}
}

// -----------------------------------------------------------------------------
// Composite / NoOp
// -----------------------------------------------------------------------------

func TestNewCompositeSink(t *testing.T) {
	_, err := NewCompositeSink()
	assert.ErrorIs(t, err, ErrNoSinks)

	_, err = NewCompositeSink(nil, nil)
	assert.ErrorIs(t, err, ErrNoSinks)

	c, err := NewCompositeSink(nil, NewNoOpSink())
	require.NoError(t, err)
	assert.Len(t, c.sinks, 1)
}

func TestCompositeSink_FansOut(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{fail: errors.New("b down")}
	c, err := NewCompositeSink(a, b)
	require.NoError(t, err)
	ctx := context.Background()

	err = c.RecordRepetition(ctx, sampleRepetition())
	assert.ErrorContains(t, err, "b down")
	assert.Equal(t, 1, a.repetitions)
	assert.Equal(t, 1, b.repetitions)

	_ = c.RecordRegression(ctx, &RegressionData{Backend: "zstd"})
	_ = c.RecordError(ctx, &ErrorData{Component: "zstd"})
	_ = c.Flush(ctx)
	assert.Equal(t, 1, a.regressions)
	assert.Equal(t, 1, a.errors)
	assert.Equal(t, 1, a.flushes)

	assert.ErrorIs(t, c.RecordRepetition(ctx, nil), ErrNilData)
	//nolint:staticcheck // nil context is the case under test
	assert.ErrorIs(t, c.RecordRepetition(nil, sampleRepetition()), ErrNilContext)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, 1, a.closes)
	assert.ErrorIs(t, c.RecordRepetition(ctx, sampleRepetition()), ErrSinkClosed)
	assert.ErrorIs(t, c.Flush(ctx), ErrSinkClosed)
}

func TestNoOpSink(t *testing.T) {
	s := NewNoOpSink()
	ctx := context.Background()
	assert.NoError(t, s.RecordRepetition(ctx, sampleRepetition()))
	assert.ErrorIs(t, s.RecordRegression(ctx, nil), ErrNilData)
	//nolint:staticcheck // nil context is the case under test
	assert.ErrorIs(t, s.Flush(nil), ErrNilContext)
	assert.NoError(t, s.Close())
}

// -----------------------------------------------------------------------------
// Prometheus
// -----------------------------------------------------------------------------

func newTestPrometheusSink(t *testing.T) (*PrometheusSink, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	cfg := DefaultPrometheusConfig()
	cfg.Registry = reg
	s, err := NewPrometheusSink(cfg)
	require.NoError(t, err)
	return s, reg
}

func TestPrometheusConfig_Validate(t *testing.T) {
	cfg := DefaultPrometheusConfig()
	assert.NoError(t, cfg.Validate())

	cfg.Namespace = ""
	assert.Error(t, cfg.Validate())

	_, err := NewPrometheusSink(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewPrometheusSink(nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestPrometheusSink_RecordRepetition(t *testing.T) {
	s, reg := newTestPrometheusSink(t)
	ctx := context.Background()

	warm := sampleRepetition()
	warm.Backend = "s2"
	warm.Warmup = true
	require.NoError(t, s.RecordRepetition(ctx, warm))
	require.NoError(t, s.RecordRepetition(ctx, sampleRepetition()))

	failed := sampleRepetition()
	failed.Verification = "fail"
	failed.ErrorKind = "corrupt_input"
	require.NoError(t, s.RecordRepetition(ctx, failed))

	assert.Equal(t, 1.0, testutil.ToFloat64(s.repetitionsTotal.WithLabelValues("zstd", "roundtrip", "pass")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.repetitionsTotal.WithLabelValues("zstd", "roundtrip", "fail")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.errorsTotal.WithLabelValues("zstd", "roundtrip", "corrupt_input")))
	assert.Equal(t, 4.0, testutil.ToFloat64(s.compressionRatio.WithLabelValues("zstd", "3")))

	// the s2 warm-up is kept out of the histogram
	count, err := testutil.GatherAndCount(reg, "benchlab_harness_repetition_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	expected := `
# HELP benchlab_harness_repetitions_total Repetitions executed by backend, action and verification status
# TYPE benchlab_harness_repetitions_total counter
benchlab_harness_repetitions_total{action="roundtrip",backend="s2",verification="pass"} 1
benchlab_harness_repetitions_total{action="roundtrip",backend="zstd",verification="fail"} 1
benchlab_harness_repetitions_total{action="roundtrip",backend="zstd",verification="pass"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "benchlab_harness_repetitions_total"))
}

func TestPrometheusSink_RecordRegression(t *testing.T) {
	s, _ := newTestPrometheusSink(t)
	ctx := context.Background()

	require.NoError(t, s.RecordRegression(ctx, &RegressionData{Backend: "gzip", Ratio: 1.5, Regressed: true}))
	require.NoError(t, s.RecordRegression(ctx, &RegressionData{Backend: "gzip", Ratio: 0.9}))

	assert.Equal(t, 0.9, testutil.ToFloat64(s.regressionRatio.WithLabelValues("gzip")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.regressionsTotal.WithLabelValues("gzip")))
}

func TestPrometheusSink_LabelCardinality(t *testing.T) {
	reg := prometheus.NewRegistry()
	cfg := DefaultPrometheusConfig()
	cfg.Registry = reg
	cfg.MaxLabelCardinality = 2
	s, err := NewPrometheusSink(cfg)
	require.NoError(t, err)

	assert.Equal(t, "a", s.sanitizeLabel("backend", "a"))
	assert.Equal(t, "b", s.sanitizeLabel("backend", "b"))
	assert.Equal(t, "_other", s.sanitizeLabel("backend", "c"))
	assert.Equal(t, "a", s.sanitizeLabel("backend", "a"))
}

func TestPrometheusSink_Close(t *testing.T) {
	s, reg := newTestPrometheusSink(t)
	ctx := context.Background()
	require.NoError(t, s.RecordError(ctx, &ErrorData{Component: "lz4", Operation: "source", ErrorType: "unsupported"}))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.RecordRepetition(ctx, sampleRepetition()), ErrSinkClosed)
	assert.ErrorIs(t, s.Flush(ctx), ErrSinkClosed)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Empty(t, families)

	// collectors were unregistered, so a fresh sink registers cleanly
	cfg := DefaultPrometheusConfig()
	cfg.Registry = reg
	_, err = NewPrometheusSink(cfg)
	assert.NoError(t, err)
}

// -----------------------------------------------------------------------------
// Influx
// -----------------------------------------------------------------------------

type fakeWriter struct {
	mu     sync.Mutex
	writes [][]*write.Point
	err    error
}

func (f *fakeWriter) WritePoint(_ context.Context, points ...*write.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.writes = append(f.writes, points)
	return nil
}

func TestInfluxConfig_Validate(t *testing.T) {
	err := InfluxConfig{}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url")
	assert.Contains(t, err.Error(), "bucket")

	assert.NoError(t, InfluxConfig{URL: "http://localhost:8086", Org: "o", Bucket: "b"}.Validate())

	_, err = NewInfluxSink(InfluxConfig{})
	assert.Error(t, err)
}

func TestInfluxSink_Batches(t *testing.T) {
	w := &fakeWriter{}
	closed := false
	s := newInfluxSink(w, func() { closed = true }, 2)
	ctx := context.Background()

	require.NoError(t, s.RecordRepetition(ctx, sampleRepetition()))
	assert.Empty(t, w.writes)

	require.NoError(t, s.RecordRegression(ctx, &RegressionData{Backend: "zstd", Ratio: 1.1}))
	require.Len(t, w.writes, 1)
	assert.Len(t, w.writes[0], 2)

	p := w.writes[0][0]
	assert.Equal(t, MeasurementRepetition, p.Name())
	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	assert.Equal(t, "zstd", tags["backend"])
	assert.Equal(t, "3", tags["level"])
	assert.Equal(t, time.Unix(1700000000, 0), p.Time())

	require.NoError(t, s.RecordError(ctx, &ErrorData{Component: "lz4"}))
	require.NoError(t, s.Close())
	assert.True(t, closed)
	require.Len(t, w.writes, 2)
	assert.Equal(t, MeasurementError, w.writes[1][0].Name())

	assert.ErrorIs(t, s.RecordRepetition(ctx, sampleRepetition()), ErrSinkClosed)
	assert.ErrorIs(t, s.Flush(ctx), ErrSinkClosed)
	assert.NoError(t, s.Close())
}

func TestInfluxSink_WriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("503")}
	s := newInfluxSink(w, nil, 0)

	err := s.RecordRepetition(context.Background(), sampleRepetition())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
