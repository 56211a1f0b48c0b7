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
	"sync"
	"time"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrNilContext is returned when a nil context is provided.
	ErrNilContext = errors.New("context must not be nil")

	// ErrNilData is returned when nil data is provided to a recording method.
	ErrNilData = errors.New("data must not be nil")

	// ErrSinkClosed is returned when attempting to use a closed sink.
	ErrSinkClosed = errors.New("sink has been closed")

	// ErrNoSinks is returned when creating a composite sink with no children.
	ErrNoSinks = errors.New("at least one sink is required")
)

// -----------------------------------------------------------------------------
// Interface
// -----------------------------------------------------------------------------

// Sink receives harness telemetry.
//
// Description:
//
//	The runner pushes one RepetitionData per measured repetition after the
//	timed region closes. Baseline comparisons push RegressionData. Sinks
//	never see raw payloads.
//
// Thread Safety: All implementations must be safe for concurrent use.
type Sink interface {
	// RecordRepetition records the outcome of one repetition.
	RecordRepetition(ctx context.Context, data *RepetitionData) error

	// RecordRegression records a baseline comparison for one backend.
	RecordRegression(ctx context.Context, data *RegressionData) error

	// RecordError records a failure outside a repetition, such as a
	// misconfigured backend or an unreadable baseline.
	RecordError(ctx context.Context, data *ErrorData) error

	// Flush exports buffered data.
	Flush(ctx context.Context) error

	// Close flushes and releases resources. Idempotent. After Close every
	// recording method returns ErrSinkClosed.
	Close() error
}

// -----------------------------------------------------------------------------
// Data Types
// -----------------------------------------------------------------------------

// RepetitionData is the telemetry view of one run result.
type RepetitionData struct {
	RunID      string
	Backend    string
	Action     string
	Level      int
	Repetition int
	Warmup     bool
	Timestamp  time.Time

	// Elapsed is the measured time of the whole repetition.
	Elapsed time.Duration

	// CompressElapsed and DecompressElapsed are zero for directions that
	// did not run.
	CompressElapsed   time.Duration
	DecompressElapsed time.Duration

	InputSize  int
	OutputSize int

	// Verification is "pass", "fail" or "skipped".
	Verification string

	// ErrorKind is empty unless the repetition failed inside the backend.
	ErrorKind string
}

// RegressionData is the result of comparing a backend against its baseline.
type RegressionData struct {
	Backend      string
	Timestamp    time.Time
	BaselineMean time.Duration
	CurrentMean  time.Duration

	// Ratio is CurrentMean / BaselineMean.
	Ratio     float64
	Regressed bool
}

// ErrorData describes a failure outside the timed region.
type ErrorData struct {
	Timestamp time.Time
	Component string
	Operation string
	ErrorType string
	Message   string
}

// -----------------------------------------------------------------------------
// Composite Sink
// -----------------------------------------------------------------------------

// CompositeSink forwards telemetry to several sinks.
//
// One child's failure does not stop the others; child errors are joined.
//
// Thread Safety: Safe for concurrent use.
type CompositeSink struct {
	sinks  []Sink
	mu     sync.RWMutex
	closed bool
}

// NewCompositeSink creates a composite over the non-nil sinks given.
//
// Outputs:
//   - *CompositeSink: Never nil on success.
//   - error: ErrNoSinks if no non-nil sink was provided.
func NewCompositeSink(sinks ...Sink) (*CompositeSink, error) {
	valid := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			valid = append(valid, s)
		}
	}
	if len(valid) == 0 {
		return nil, ErrNoSinks
	}
	return &CompositeSink{sinks: valid}, nil
}

func (c *CompositeSink) children() ([]Sink, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrSinkClosed
	}
	return c.sinks, nil
}

func (c *CompositeSink) each(ctx context.Context, fn func(Sink) error) error {
	if ctx == nil {
		return ErrNilContext
	}
	sinks, err := c.children()
	if err != nil {
		return err
	}
	var errs []error
	for _, s := range sinks {
		if err := fn(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordRepetition forwards to every child.
func (c *CompositeSink) RecordRepetition(ctx context.Context, data *RepetitionData) error {
	if data == nil {
		return ErrNilData
	}
	return c.each(ctx, func(s Sink) error { return s.RecordRepetition(ctx, data) })
}

// RecordRegression forwards to every child.
func (c *CompositeSink) RecordRegression(ctx context.Context, data *RegressionData) error {
	if data == nil {
		return ErrNilData
	}
	return c.each(ctx, func(s Sink) error { return s.RecordRegression(ctx, data) })
}

// RecordError forwards to every child.
func (c *CompositeSink) RecordError(ctx context.Context, data *ErrorData) error {
	if data == nil {
		return ErrNilData
	}
	return c.each(ctx, func(s Sink) error { return s.RecordError(ctx, data) })
}

// Flush flushes all children concurrently.
func (c *CompositeSink) Flush(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	sinks, err := c.children()
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(sinks))
	for _, s := range sinks {
		wg.Add(1)
		go func(s Sink) {
			defer wg.Done()
			if err := s.Flush(ctx); err != nil {
				errCh <- err
			}
		}(s)
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close closes all children. Idempotent.
func (c *CompositeSink) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sinks := c.sinks
	c.mu.Unlock()

	var errs []error
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// -----------------------------------------------------------------------------
// No-Op Sink
// -----------------------------------------------------------------------------

// NoOpSink validates its arguments and discards everything.
type NoOpSink struct{}

// NewNoOpSink returns a NoOpSink.
func NewNoOpSink() *NoOpSink { return &NoOpSink{} }

// RecordRepetition discards data.
func (*NoOpSink) RecordRepetition(ctx context.Context, data *RepetitionData) error {
	return checkArgs(ctx, data == nil)
}

// RecordRegression discards data.
func (*NoOpSink) RecordRegression(ctx context.Context, data *RegressionData) error {
	return checkArgs(ctx, data == nil)
}

// RecordError discards data.
func (*NoOpSink) RecordError(ctx context.Context, data *ErrorData) error {
	return checkArgs(ctx, data == nil)
}

// Flush does nothing.
func (*NoOpSink) Flush(ctx context.Context) error {
	return checkArgs(ctx, false)
}

// Close does nothing.
func (*NoOpSink) Close() error { return nil }

func checkArgs(ctx context.Context, nilData bool) error {
	if ctx == nil {
		return ErrNilContext
	}
	if nilData {
		return ErrNilData
	}
	return nil
}

// Verify interface compliance at compile time.
var (
	_ Sink = (*CompositeSink)(nil)
	_ Sink = (*NoOpSink)(nil)
)
