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
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Metrics holds the OpenTelemetry instruments recorded by the runner.
//
// All instruments use the "benchlab_" prefix.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// RepetitionsTotal counts repetitions by backend, action and verification.
	RepetitionsTotal metric.Int64Counter

	// RepetitionDuration records measured repetition time in seconds.
	RepetitionDuration metric.Float64Histogram

	// BackendErrorsTotal counts repetitions that failed inside a backend.
	BackendErrorsTotal metric.Int64Counter

	// ActiveRuns is one while a RunOnce holds the run lock.
	ActiveRuns metric.Int64UpDownCounter
}

// NewMetrics registers the instruments on meter.
//
// Example:
//
//	m, err := telemetry.NewMetrics(otel.Meter("benchlab.harness"))
//	if err != nil {
//	    return fmt.Errorf("create metrics: %w", err)
//	}
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.RepetitionsTotal, err = meter.Int64Counter(
		"benchlab_repetitions_total",
		metric.WithDescription("Total harness repetitions"),
		metric.WithUnit("{repetition}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create repetitions_total: %w", err)
	}

	m.RepetitionDuration, err = meter.Float64Histogram(
		"benchlab_repetition_duration_seconds",
		metric.WithDescription("Measured repetition time in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.00001, 0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 60),
	)
	if err != nil {
		return nil, fmt.Errorf("create repetition_duration: %w", err)
	}

	m.BackendErrorsTotal, err = meter.Int64Counter(
		"benchlab_backend_errors_total",
		metric.WithDescription("Repetitions failed inside a backend"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create backend_errors_total: %w", err)
	}

	m.ActiveRuns, err = meter.Int64UpDownCounter(
		"benchlab_active_runs",
		metric.WithDescription("Runs currently holding the run lock"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create active_runs: %w", err)
	}

	return m, nil
}

// ObserveRepetition records one repetition on every applicable instrument.
func (m *Metrics) ObserveRepetition(ctx context.Context, data *RepetitionData) {
	if m == nil || data == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("backend", data.Backend),
		attribute.String("action", data.Action),
	)
	m.RepetitionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", data.Backend),
		attribute.String("action", data.Action),
		attribute.String("verification", data.Verification),
	))
	if data.ErrorKind != "" {
		m.BackendErrorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("backend", data.Backend),
			attribute.String("error_type", data.ErrorKind),
		))
	}
	if !data.Warmup {
		m.RepetitionDuration.Record(ctx, data.Elapsed.Seconds(), attrs)
	}
}

// RecordSpanError records err on span and marks it failed. Nil span or nil
// err is a no-op.
func RecordSpanError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if span == nil || err == nil {
		return
	}
	opts := make([]trace.EventOption, 0, 1)
	if len(attrs) > 0 {
		opts = append(opts, trace.WithAttributes(attrs...))
	}
	span.RecordError(err, opts...)
	span.SetStatus(codes.Error, err.Error())
}
