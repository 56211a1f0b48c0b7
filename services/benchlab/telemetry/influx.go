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
	"fmt"
	"strconv"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by InfluxSink.
const (
	MeasurementRepetition = "benchlab_repetitions"
	MeasurementRegression = "benchlab_regressions"
	MeasurementError      = "benchlab_errors"
)

// InfluxConfig configures the InfluxDB sink.
type InfluxConfig struct {
	URL    string `yaml:"url" validate:"omitempty,url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`

	// BatchSize is the number of points buffered before a blocking write.
	// Values below 1 write every point immediately.
	BatchSize int `yaml:"batch_size" validate:"gte=0"`
}

// Validate checks required fields.
func (c InfluxConfig) Validate() error {
	var errs []error
	if c.URL == "" {
		errs = append(errs, errors.New("influx url is required"))
	}
	if c.Org == "" {
		errs = append(errs, errors.New("influx org is required"))
	}
	if c.Bucket == "" {
		errs = append(errs, errors.New("influx bucket is required"))
	}
	return errors.Join(errs...)
}

// pointWriter is the subset of api.WriteAPIBlocking used by the sink.
type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxSink writes harness telemetry to InfluxDB as points.
//
// Description:
//
//	Points are buffered and written with the blocking write API once
//	BatchSize is reached, on Flush and on Close. Every point carries the
//	backend and action as tags and the measurements as fields.
//
// Thread Safety: Safe for concurrent use.
type InfluxSink struct {
	writer    pointWriter
	closeFn   func()
	batchSize int

	mu      sync.Mutex
	pending []*write.Point
	closed  bool
}

// NewInfluxSink connects a blocking write API for cfg.Org and cfg.Bucket.
func NewInfluxSink(cfg InfluxConfig) (*InfluxSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("influx sink: %w", err)
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return newInfluxSink(client.WriteAPIBlocking(cfg.Org, cfg.Bucket), client.Close, cfg.BatchSize), nil
}

func newInfluxSink(w pointWriter, closeFn func(), batchSize int) *InfluxSink {
	if batchSize < 1 {
		batchSize = 1
	}
	return &InfluxSink{
		writer:    w,
		closeFn:   closeFn,
		batchSize: batchSize,
		pending:   make([]*write.Point, 0, batchSize),
	}
}

// RecordRepetition buffers one point per repetition.
func (s *InfluxSink) RecordRepetition(ctx context.Context, data *RepetitionData) error {
	if err := checkArgs(ctx, data == nil); err != nil {
		return err
	}
	p := influxdb2.NewPointWithMeasurement(MeasurementRepetition).
		AddTag("backend", data.Backend).
		AddTag("action", data.Action).
		AddTag("level", strconv.Itoa(data.Level)).
		AddTag("run_id", data.RunID).
		AddTag("verification", data.Verification).
		AddField("repetition", data.Repetition).
		AddField("warmup", data.Warmup).
		AddField("elapsed_ns", data.Elapsed.Nanoseconds()).
		AddField("compress_ns", data.CompressElapsed.Nanoseconds()).
		AddField("decompress_ns", data.DecompressElapsed.Nanoseconds()).
		AddField("input_size", data.InputSize).
		AddField("output_size", data.OutputSize).
		SetTime(stamp(data.Timestamp))
	if data.ErrorKind != "" {
		p.AddField("error_kind", data.ErrorKind)
	}
	return s.add(ctx, p)
}

// RecordRegression buffers one point per comparison.
func (s *InfluxSink) RecordRegression(ctx context.Context, data *RegressionData) error {
	if err := checkArgs(ctx, data == nil); err != nil {
		return err
	}
	p := influxdb2.NewPointWithMeasurement(MeasurementRegression).
		AddTag("backend", data.Backend).
		AddField("baseline_mean_ns", data.BaselineMean.Nanoseconds()).
		AddField("current_mean_ns", data.CurrentMean.Nanoseconds()).
		AddField("ratio", data.Ratio).
		AddField("regressed", data.Regressed).
		SetTime(stamp(data.Timestamp))
	return s.add(ctx, p)
}

// RecordError buffers one point per error.
func (s *InfluxSink) RecordError(ctx context.Context, data *ErrorData) error {
	if err := checkArgs(ctx, data == nil); err != nil {
		return err
	}
	p := influxdb2.NewPointWithMeasurement(MeasurementError).
		AddTag("component", data.Component).
		AddTag("operation", data.Operation).
		AddTag("error_type", data.ErrorType).
		AddField("message", data.Message).
		SetTime(stamp(data.Timestamp))
	return s.add(ctx, p)
}

func (s *InfluxSink) add(ctx context.Context, p *write.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	s.pending = append(s.pending, p)
	if len(s.pending) < s.batchSize {
		return nil
	}
	return s.flushLocked(ctx)
}

// Flush writes every buffered point.
func (s *InfluxSink) Flush(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	return s.flushLocked(ctx)
}

func (s *InfluxSink) flushLocked(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	batch := s.pending
	s.pending = make([]*write.Point, 0, s.batchSize)
	if err := s.writer.WritePoint(ctx, batch...); err != nil {
		return fmt.Errorf("influx write of %d points: %w", len(batch), err)
	}
	return nil
}

// Close writes pending points and closes the client. Idempotent.
func (s *InfluxSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.flushLocked(ctx)
	if s.closeFn != nil {
		s.closeFn()
	}
	return err
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

var _ Sink = (*InfluxSink)(nil)
