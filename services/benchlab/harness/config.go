// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package harness

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/benchlab/services/benchlab/telemetry"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrNilContext is returned when a nil context is provided.
	ErrNilContext = errors.New("context must not be nil")

	// ErrInvalidConfig indicates run options that fail validation.
	ErrInvalidConfig = errors.New("invalid run configuration")

	// ErrInvalidRepetitions indicates a repetition count below one.
	ErrInvalidRepetitions = errors.New("repetitions must be at least 1")

	// ErrModeUnsupported indicates a codec mode the backend cannot serve.
	ErrModeUnsupported = errors.New("mode not supported by backend")
)

// -----------------------------------------------------------------------------
// Mode
// -----------------------------------------------------------------------------

// Mode selects which codec directions a repetition measures.
type Mode string

const (
	// ModeAuto measures a round trip when the codec has both directions and
	// the single available direction otherwise.
	ModeAuto Mode = "auto"

	// ModeRoundTrip measures compress then decompress.
	ModeRoundTrip Mode = "roundtrip"

	// ModeCompress measures compress only.
	ModeCompress Mode = "compress"

	// ModeDecompress measures decompress only, on an untimed cached payload.
	ModeDecompress Mode = "decompress"
)

// ParseMode converts a mode name. The empty string is ModeAuto.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeRoundTrip, ModeCompress, ModeDecompress:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, s)
	}
}

// -----------------------------------------------------------------------------
// Config
// -----------------------------------------------------------------------------

// Config holds the options of one RunOnce call.
type Config struct {
	// Warmup flags the first repetition as warm-up. It is still returned.
	Warmup bool

	// Verify enables output verification. Disabled runs report "skipped".
	Verify bool

	// Level is the codec level. Ignored unless HasLevel is set; otherwise the
	// bottom of the codec's range is used.
	Level    int
	HasLevel bool

	// Mode selects codec directions.
	Mode Mode

	// Cooldown is slept between repetitions.
	Cooldown time.Duration

	// GCBetween forces a collection before every repetition.
	GCBetween bool

	// CPU pins the measuring thread to one CPU. -1 disables pinning.
	CPU int

	// Timeout bounds the whole run. Zero means no bound.
	Timeout time.Duration

	// RunID groups results. Empty generates a fresh id per RunOnce.
	RunID string

	// Name is the display name of the results. Empty uses the backend id.
	Name string

	// Sink receives one record per repetition. Nil disables.
	Sink telemetry.Sink

	// Logger overrides the runner logger.
	Logger *slog.Logger
}

// DefaultConfig returns the defaults: warm-up flagged, verification on,
// automatic mode, no pinning.
func DefaultConfig() *Config {
	return &Config{
		Warmup: true,
		Verify: true,
		Mode:   ModeAuto,
		CPU:    -1,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs []error
	if _, err := ParseMode(string(c.Mode)); err != nil {
		errs = append(errs, err)
	}
	if c.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("cooldown %v is negative", c.Cooldown))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout %v is negative", c.Timeout))
	}
	if c.CPU < -1 {
		errs = append(errs, fmt.Errorf("cpu %d is invalid", c.CPU))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// -----------------------------------------------------------------------------
// Run Options
// -----------------------------------------------------------------------------

// RunOption configures a run. Options apply in order.
type RunOption func(*Config)

// WithWarmup sets whether the first repetition is flagged as warm-up.
func WithWarmup(enabled bool) RunOption {
	return func(c *Config) { c.Warmup = enabled }
}

// WithVerification enables or disables output verification.
//
// Example:
//
//	runner.RunOnce(ctx, "zstd", w, 5, harness.WithVerification(false))
func WithVerification(enabled bool) RunOption {
	return func(c *Config) { c.Verify = enabled }
}

// WithLevel sets the codec level. The level is never clamped: RunOnce
// rejects a level outside the codec's range with backend.ErrInvalidLevel
// before any repetition runs.
func WithLevel(level int) RunOption {
	return func(c *Config) {
		c.Level = level
		c.HasLevel = true
	}
}

// WithMode selects codec directions.
func WithMode(m Mode) RunOption {
	return func(c *Config) { c.Mode = m }
}

// WithCooldown sets the pause between repetitions. Negative values are ignored.
func WithCooldown(d time.Duration) RunOption {
	return func(c *Config) {
		if d >= 0 {
			c.Cooldown = d
		}
	}
}

// WithGCBetween forces runtime.GC before each repetition, outside timing.
func WithGCBetween(enabled bool) RunOption {
	return func(c *Config) { c.GCBetween = enabled }
}

// WithCPU pins measurement to cpu. Pass -1 to disable.
func WithCPU(cpu int) RunOption {
	return func(c *Config) { c.CPU = cpu }
}

// WithTimeout bounds the whole run. Non-positive values are ignored.
func WithTimeout(d time.Duration) RunOption {
	return func(c *Config) {
		if d > 0 {
			c.Timeout = d
		}
	}
}

// WithRunID sets the id shared by every result of the run.
func WithRunID(id string) RunOption {
	return func(c *Config) { c.RunID = id }
}

// WithName sets the display name of the results.
func WithName(name string) RunOption {
	return func(c *Config) { c.Name = name }
}

// WithSink forwards every repetition to s.
func WithSink(s telemetry.Sink) RunOption {
	return func(c *Config) { c.Sink = s }
}

// WithLogger overrides the runner logger for the run. Nil is ignored.
func WithLogger(l *slog.Logger) RunOption {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}
