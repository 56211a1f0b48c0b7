// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package baseline stores reference measurements and flags regressions.
//
// A Baseline condenses the measured repetitions of one named run (a backend
// id, or "<id>-<level>" for presets) into latency statistics. Later runs are
// compared against it; a run regresses when its mean elapsed time exceeds
// the baseline mean by more than the configured threshold.
package baseline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/AleutianAI/benchlab/services/benchlab/harness"
	"github.com/AleutianAI/benchlab/services/benchlab/telemetry"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrBaselineNotFound indicates no baseline is stored under a name.
	ErrBaselineNotFound = errors.New("baseline not found")

	// ErrInvalidBaseline indicates a baseline without a name or samples.
	ErrInvalidBaseline = errors.New("invalid baseline")

	// ErrInvalidThreshold indicates a non-positive regression threshold.
	ErrInvalidThreshold = errors.New("threshold must be positive")

	// ErrNoSamples indicates results without a measured repetition.
	ErrNoSamples = errors.New("no measured repetitions")

	// ErrStoreClosed is returned by operations on a closed store.
	ErrStoreClosed = errors.New("baseline store closed")
)

// DefaultThreshold flags a regression when the mean grows by more than 10%.
const DefaultThreshold = 0.10

// -----------------------------------------------------------------------------
// Baseline
// -----------------------------------------------------------------------------

// Fingerprint is a workload fingerprint. It is encoded as a hex string in
// JSON so 64-bit values survive decoders that read numbers as float64.
type Fingerprint uint64

// MarshalText implements encoding.TextMarshaler.
func (f Fingerprint) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("%016x", uint64(f))), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Fingerprint) UnmarshalText(text []byte) error {
	v, err := strconv.ParseUint(string(text), 16, 64)
	if err != nil {
		return fmt.Errorf("fingerprint %q: %w", text, err)
	}
	*f = Fingerprint(v)
	return nil
}

// Baseline is the reference measurement of one named run.
type Baseline struct {
	Name        string         `json:"name"`
	BackendID   string         `json:"backend_id"`
	Action      harness.Action `json:"action"`
	Level       int            `json:"level"`
	Fingerprint Fingerprint    `json:"fingerprint"`
	RunID       string         `json:"run_id,omitempty"`

	Samples int           `json:"samples"`
	Mean    time.Duration `json:"mean"`
	Min     time.Duration `json:"min"`
	Max     time.Duration `json:"max"`
	P50     time.Duration `json:"p50"`
	StdDev  time.Duration `json:"stddev"`

	MeanOutputSize float64   `json:"mean_output_size"`
	Ratio          float64   `json:"compression_ratio,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Validate checks that b can be stored and compared.
func (b Baseline) Validate() error {
	switch {
	case b.Name == "":
		return fmt.Errorf("%w: empty name", ErrInvalidBaseline)
	case b.Samples < 1:
		return fmt.Errorf("%w: %s has no samples", ErrInvalidBaseline, b.Name)
	case b.Mean <= 0:
		return fmt.Errorf("%w: %s has non-positive mean %v", ErrInvalidBaseline, b.Name, b.Mean)
	}
	return nil
}

// FromResults builds one baseline per result name.
//
// Description:
//
//	Groups results with harness.Summarize. Warm-up and failed repetitions
//	are excluded from the statistics; names without a single measured
//	repetition are skipped.
//
// Inputs:
//   - results: Results of one or more runs over the same workload.
//   - fingerprint: The workload fingerprint.
//
// Outputs:
//   - []Baseline: In first-seen name order.
//   - error: ErrNoSamples when no name had a measured repetition.
func FromResults(results []harness.Result, fingerprint uint64) ([]Baseline, error) {
	now := time.Now().UTC()
	runIDs := make(map[string]string)
	for _, r := range results {
		if _, ok := runIDs[r.Name]; !ok {
			runIDs[r.Name] = r.RunID
		}
	}

	var out []Baseline
	for _, s := range harness.Summarize(results) {
		if s.Samples == 0 {
			continue
		}
		out = append(out, Baseline{
			Name:           s.Name,
			BackendID:      s.BackendID,
			Action:         s.Action,
			Level:          s.Level,
			Fingerprint:    Fingerprint(fingerprint),
			RunID:          runIDs[s.Name],
			Samples:        s.Samples,
			Mean:           s.Mean,
			Min:            s.Min,
			Max:            s.Max,
			P50:            s.P50,
			StdDev:         s.StdDev,
			MeanOutputSize: s.MeanOutputSize,
			Ratio:          s.Ratio,
			CreatedAt:      now,
		})
	}
	if len(out) == 0 {
		return nil, ErrNoSamples
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Comparison
// -----------------------------------------------------------------------------

// Comparison is the outcome of comparing a run with its baseline.
type Comparison struct {
	Name         string        `json:"name"`
	BaselineMean time.Duration `json:"baseline_mean"`
	CurrentMean  time.Duration `json:"current_mean"`

	// Ratio is current mean over baseline mean.
	Ratio     float64 `json:"ratio"`
	Threshold float64 `json:"threshold"`
	Regressed bool    `json:"regressed"`

	// WorkloadChanged is set when the fingerprints differ. The comparison is
	// still made but the numbers measure different inputs.
	WorkloadChanged bool `json:"workload_changed,omitempty"`
}

// Compare checks current against base.
//
// Inputs:
//   - base: The stored baseline. Must be valid.
//   - current: A baseline built from the new run, usually via FromResults.
//   - threshold: Allowed relative growth of the mean, e.g. 0.1 for 10%.
//
// Outputs:
//   - Comparison: Regressed when current.Mean > base.Mean * (1 + threshold).
//   - error: ErrInvalidThreshold or ErrInvalidBaseline.
func Compare(base, current Baseline, threshold float64) (Comparison, error) {
	if threshold <= 0 {
		return Comparison{}, fmt.Errorf("%w: got %v", ErrInvalidThreshold, threshold)
	}
	if err := base.Validate(); err != nil {
		return Comparison{}, err
	}
	if err := current.Validate(); err != nil {
		return Comparison{}, err
	}

	ratio := float64(current.Mean) / float64(base.Mean)
	return Comparison{
		Name:            base.Name,
		BaselineMean:    base.Mean,
		CurrentMean:     current.Mean,
		Ratio:           ratio,
		Threshold:       threshold,
		Regressed:       ratio > 1+threshold,
		WorkloadChanged: base.Fingerprint != current.Fingerprint,
	}, nil
}

// CompareStored compares every current baseline with the stored one of the
// same name. Names without a stored baseline are skipped.
func CompareStored(ctx context.Context, store Store, current []Baseline, threshold float64) ([]Comparison, error) {
	var out []Comparison
	for _, cur := range current {
		base, err := store.Get(ctx, cur.Name)
		if errors.Is(err, ErrBaselineNotFound) {
			continue
		}
		if err != nil {
			return out, err
		}
		c, err := Compare(base, cur, threshold)
		if err != nil {
			return out, fmt.Errorf("compare %s: %w", cur.Name, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// Telemetry converts the comparison for a telemetry sink.
func (c Comparison) Telemetry() *telemetry.RegressionData {
	return &telemetry.RegressionData{
		Backend:      c.Name,
		Timestamp:    time.Now(),
		BaselineMean: c.BaselineMean,
		CurrentMean:  c.CurrentMean,
		Ratio:        c.Ratio,
		Regressed:    c.Regressed,
	}
}
