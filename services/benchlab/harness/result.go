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
	"math"
	"slices"
	"time"

	"github.com/AleutianAI/benchlab/services/benchlab/telemetry"
	"github.com/AleutianAI/benchlab/services/benchlab/verify"
)

// Action names what a repetition measured.
type Action string

const (
	ActionAlloc      Action = "alloc"
	ActionRoundTrip  Action = "roundtrip"
	ActionCompress   Action = "compress"
	ActionDecompress Action = "decompress"
)

// Result is the outcome of one repetition. It is written once by the runner
// and never modified afterwards.
type Result struct {
	RunID string `json:"run_id"`

	// Name is the display name: the backend id, or "<id>-<level>" for
	// preset runs.
	Name       string `json:"name"`
	BackendID  string `json:"backend_id"`
	Action     Action `json:"action"`
	Level      int    `json:"level"`
	Repetition int    `json:"repetition"`
	Warmup     bool   `json:"warmup"`

	// Elapsed is the measured time of the repetition. For round trips it is
	// the sum of both directions.
	Elapsed           time.Duration `json:"elapsed_time"`
	CompressElapsed   time.Duration `json:"compress_time,omitempty"`
	DecompressElapsed time.Duration `json:"decompress_time,omitempty"`

	// OutputSize is the final container count for allocation runs, the
	// compressed size for round trips and compress runs, and the decoded
	// size for decompress runs.
	OutputSize int `json:"output_size"`
	InputSize  int `json:"input_size,omitempty"`

	// Ratio is uncompressed size over compressed size; zero when unknown.
	Ratio float64 `json:"compression_ratio,omitempty"`

	// InnerBuffers is the allocation backend's reported inner copy count.
	InnerBuffers int `json:"inner_buffers,omitempty"`

	Verification verify.Verdict `json:"verification"`
	ErrorKind    string         `json:"error_kind,omitempty"`
	Err          error          `json:"-"`

	// MaxRSSKB is the process peak resident set after the repetition, where
	// the platform reports it.
	MaxRSSKB  int64     `json:"max_rss_kb,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Measured reports whether the result counts towards statistics: not a
// warm-up and not failed.
func (r Result) Measured() bool {
	return !r.Warmup && !r.Verification.Failed()
}

func (r Result) telemetry() *telemetry.RepetitionData {
	return &telemetry.RepetitionData{
		RunID:             r.RunID,
		Backend:           r.Name,
		Action:            string(r.Action),
		Level:             r.Level,
		Repetition:        r.Repetition,
		Warmup:            r.Warmup,
		Timestamp:         r.Timestamp,
		Elapsed:           r.Elapsed,
		CompressElapsed:   r.CompressElapsed,
		DecompressElapsed: r.DecompressElapsed,
		InputSize:         r.InputSize,
		OutputSize:        r.OutputSize,
		Verification:      string(r.Verification.Status),
		ErrorKind:         r.ErrorKind,
	}
}

// -----------------------------------------------------------------------------
// Summary
// -----------------------------------------------------------------------------

// Summary aggregates the measured results of one name.
type Summary struct {
	Name      string `json:"name"`
	BackendID string `json:"backend_id"`
	Action    Action `json:"action"`
	Level     int    `json:"level"`

	// Repetitions counts every result; Samples only measured ones.
	Repetitions int `json:"repetitions"`
	Samples     int `json:"samples"`
	Passed      int `json:"passed"`
	Failed      int `json:"failed"`

	Mean   time.Duration `json:"mean"`
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	P50    time.Duration `json:"p50"`
	StdDev time.Duration `json:"stddev"`

	MeanOutputSize float64 `json:"mean_output_size"`
	Ratio          float64 `json:"compression_ratio,omitempty"`
}

// Summarize groups results by name in first-seen order. Warm-up and failed
// repetitions are counted but excluded from timing statistics.
func Summarize(results []Result) []Summary {
	order := make([]string, 0)
	groups := make(map[string][]Result)
	for _, r := range results {
		if _, ok := groups[r.Name]; !ok {
			order = append(order, r.Name)
		}
		groups[r.Name] = append(groups[r.Name], r)
	}

	out := make([]Summary, 0, len(order))
	for _, name := range order {
		out = append(out, summarize(groups[name]))
	}
	return out
}

func summarize(rs []Result) Summary {
	first := rs[0]
	s := Summary{
		Name:        first.Name,
		BackendID:   first.BackendID,
		Action:      first.Action,
		Level:       first.Level,
		Repetitions: len(rs),
	}

	samples := make([]time.Duration, 0, len(rs))
	var outTotal, ratioTotal float64
	var ratios int
	for _, r := range rs {
		switch r.Verification.Status {
		case verify.StatusPass:
			s.Passed++
		case verify.StatusFail:
			s.Failed++
		}
		if !r.Measured() {
			continue
		}
		samples = append(samples, r.Elapsed)
		outTotal += float64(r.OutputSize)
		if r.Ratio > 0 {
			ratioTotal += r.Ratio
			ratios++
		}
	}

	s.Samples = len(samples)
	if s.Samples == 0 {
		return s
	}
	stats := latencyStats(samples)
	s.Mean, s.Min, s.Max, s.P50, s.StdDev = stats.mean, stats.min, stats.max, stats.p50, stats.stddev
	s.MeanOutputSize = outTotal / float64(s.Samples)
	if ratios > 0 {
		s.Ratio = ratioTotal / float64(ratios)
	}
	return s
}

type latency struct {
	mean, min, max, p50, stddev time.Duration
}

// latencyStats computes the statistics of a non-empty sample set.
func latencyStats(samples []time.Duration) latency {
	sorted := slices.Clone(samples)
	slices.Sort(sorted)

	var sum float64
	for _, d := range sorted {
		sum += float64(d)
	}
	mean := sum / float64(len(sorted))

	var sq float64
	for _, d := range sorted {
		diff := float64(d) - mean
		sq += diff * diff
	}
	var stddev float64
	if len(sorted) > 1 {
		stddev = math.Sqrt(sq / float64(len(sorted)-1))
	}

	return latency{
		mean:   time.Duration(mean),
		min:    sorted[0],
		max:    sorted[len(sorted)-1],
		p50:    percentile(sorted, 0.5),
		stddev: time.Duration(stddev),
	}
}

// percentile interpolates linearly between the closest ranks of sorted.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + time.Duration(frac*float64(sorted[hi]-sorted[lo]))
}
