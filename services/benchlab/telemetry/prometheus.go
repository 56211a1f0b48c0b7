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
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrInvalidConfig is returned when the Prometheus configuration is invalid.
	ErrInvalidConfig = errors.New("invalid prometheus configuration")

	// ErrRegistrationFailed is returned when metric registration fails.
	ErrRegistrationFailed = errors.New("metric registration failed")
)

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// PrometheusConfig configures the Prometheus sink.
type PrometheusConfig struct {
	// Namespace is the metrics namespace. Required.
	Namespace string

	// Subsystem is the metrics subsystem. Required.
	Subsystem string

	// Registry receives the collectors. Nil uses prometheus.DefaultRegisterer.
	Registry prometheus.Registerer

	// DurationBuckets are histogram buckets for repetition times, in seconds.
	DurationBuckets []float64

	// SizeBuckets are histogram buckets for output sizes, in bytes.
	SizeBuckets []float64

	// MaxLabelCardinality caps distinct values per label. Values beyond the
	// cap are reported as "_other". Default: 1000.
	MaxLabelCardinality int
}

// DefaultPrometheusConfig returns the benchlab namespace with buckets sized
// for microsecond-to-minute repetitions.
func DefaultPrometheusConfig() *PrometheusConfig {
	return &PrometheusConfig{
		Namespace: "benchlab",
		Subsystem: "harness",
		DurationBuckets: []float64{
			0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
		},
		SizeBuckets: prometheus.ExponentialBuckets(64, 4, 12),

		MaxLabelCardinality: 1000,
	}
}

// Validate checks required fields.
func (c *PrometheusConfig) Validate() error {
	if c.Namespace == "" {
		return errors.New("namespace is required")
	}
	if c.Subsystem == "" {
		return errors.New("subsystem is required")
	}
	return nil
}

// -----------------------------------------------------------------------------
// Prometheus Sink
// -----------------------------------------------------------------------------

// PrometheusSink exposes harness telemetry as Prometheus metrics.
//
// Description:
//
//	Collectors are registered on creation and unregistered on Close when
//	the registry is a *prometheus.Registry. Warm-up repetitions are counted
//	but kept out of the duration histograms.
//
// Thread Safety: Safe for concurrent use.
type PrometheusSink struct {
	config   *PrometheusConfig
	registry prometheus.Registerer

	repetitionsTotal   *prometheus.CounterVec
	repetitionDuration *prometheus.HistogramVec
	directionDuration  *prometheus.HistogramVec
	outputBytes        *prometheus.HistogramVec
	compressionRatio   *prometheus.GaugeVec
	regressionRatio    *prometheus.GaugeVec
	regressionsTotal   *prometheus.CounterVec
	errorsTotal        *prometheus.CounterVec

	mu     sync.RWMutex
	closed bool

	collectors []prometheus.Collector

	labelMu        sync.RWMutex
	seenLabels     map[string]map[string]struct{}
	maxCardinality int
}

// NewPrometheusSink creates and registers the collectors.
//
// Inputs:
//   - config: Must not be nil. Nil bucket slices take the defaults.
//
// Outputs:
//   - *PrometheusSink: Never nil on success.
//   - error: ErrInvalidConfig or ErrRegistrationFailed. Collectors that are
//     already registered are tolerated.
func NewPrometheusSink(config *PrometheusConfig) (*PrometheusSink, error) {
	if config == nil {
		return nil, ErrInvalidConfig
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}

	cfg := *config
	defaults := DefaultPrometheusConfig()
	if cfg.DurationBuckets == nil {
		cfg.DurationBuckets = defaults.DurationBuckets
	}
	if cfg.SizeBuckets == nil {
		cfg.SizeBuckets = defaults.SizeBuckets
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	maxCard := cfg.MaxLabelCardinality
	if maxCard <= 0 {
		maxCard = 1000
	}

	s := &PrometheusSink{
		config:         &cfg,
		registry:       registry,
		seenLabels:     make(map[string]map[string]struct{}),
		maxCardinality: maxCard,
	}

	s.repetitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "repetitions_total",
			Help:      "Repetitions executed by backend, action and verification status",
		},
		[]string{"backend", "action", "verification"},
	)

	s.repetitionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "repetition_duration_seconds",
			Help:      "Measured repetition time in seconds, warm-up excluded",
			Buckets:   cfg.DurationBuckets,
		},
		[]string{"backend", "action"},
	)

	s.directionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "codec_direction_duration_seconds",
			Help:      "Codec time per direction in seconds, warm-up excluded",
			Buckets:   cfg.DurationBuckets,
		},
		[]string{"backend", "direction"},
	)

	s.outputBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "output_size_bytes",
			Help:      "Reported output size per repetition",
			Buckets:   cfg.SizeBuckets,
		},
		[]string{"backend", "action"},
	)

	s.compressionRatio = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "compression_ratio",
			Help:      "Input size over compressed size of the latest repetition",
		},
		[]string{"backend", "level"},
	)

	s.regressionRatio = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "baseline_ratio",
			Help:      "Current mean elapsed time over baseline mean",
		},
		[]string{"backend"},
	)

	s.regressionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "regressions_total",
			Help:      "Baseline comparisons that exceeded the threshold",
		},
		[]string{"backend"},
	)

	s.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "errors_total",
			Help:      "Errors by component, operation and type",
		},
		[]string{"component", "operation", "error_type"},
	)

	s.collectors = []prometheus.Collector{
		s.repetitionsTotal,
		s.repetitionDuration,
		s.directionDuration,
		s.outputBytes,
		s.compressionRatio,
		s.regressionRatio,
		s.regressionsTotal,
		s.errorsTotal,
	}
	for _, c := range s.collectors {
		if err := registry.Register(c); err != nil {
			var alreadyErr prometheus.AlreadyRegisteredError
			if !errors.As(err, &alreadyErr) {
				return nil, errors.Join(ErrRegistrationFailed, err)
			}
		}
	}

	return s, nil
}

func (s *PrometheusSink) open(ctx context.Context, nilData bool) error {
	if err := checkArgs(ctx, nilData); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}
	return nil
}

// RecordRepetition updates counters, and histograms for measured repetitions.
func (s *PrometheusSink) RecordRepetition(ctx context.Context, data *RepetitionData) error {
	if err := s.open(ctx, data == nil); err != nil {
		return err
	}

	name := s.sanitizeLabel("backend", orUnknown(data.Backend))
	action := s.sanitizeLabel("action", orUnknown(data.Action))
	status := orUnknown(data.Verification)

	s.repetitionsTotal.WithLabelValues(name, action, status).Inc()
	if data.ErrorKind != "" {
		s.errorsTotal.WithLabelValues(name, action, s.sanitizeLabel("error_type", data.ErrorKind)).Inc()
	}
	if data.Warmup {
		return nil
	}

	s.repetitionDuration.WithLabelValues(name, action).Observe(data.Elapsed.Seconds())
	s.outputBytes.WithLabelValues(name, action).Observe(float64(data.OutputSize))
	if data.CompressElapsed > 0 {
		s.directionDuration.WithLabelValues(name, "compress").Observe(data.CompressElapsed.Seconds())
	}
	if data.DecompressElapsed > 0 {
		s.directionDuration.WithLabelValues(name, "decompress").Observe(data.DecompressElapsed.Seconds())
	}
	if data.OutputSize > 0 && data.InputSize > 0 && data.CompressElapsed > 0 {
		level := s.sanitizeLabel("level", strconv.Itoa(data.Level))
		s.compressionRatio.WithLabelValues(name, level).Set(float64(data.InputSize) / float64(data.OutputSize))
	}
	return nil
}

// RecordRegression sets the baseline ratio gauge.
func (s *PrometheusSink) RecordRegression(ctx context.Context, data *RegressionData) error {
	if err := s.open(ctx, data == nil); err != nil {
		return err
	}
	name := s.sanitizeLabel("backend", orUnknown(data.Backend))
	s.regressionRatio.WithLabelValues(name).Set(data.Ratio)
	if data.Regressed {
		s.regressionsTotal.WithLabelValues(name).Inc()
	}
	return nil
}

// RecordError increments the error counter.
func (s *PrometheusSink) RecordError(ctx context.Context, data *ErrorData) error {
	if err := s.open(ctx, data == nil); err != nil {
		return err
	}
	s.errorsTotal.WithLabelValues(
		s.sanitizeLabel("component", orUnknown(data.Component)),
		s.sanitizeLabel("operation", orUnknown(data.Operation)),
		s.sanitizeLabel("error_type", orUnknown(data.ErrorType)),
	).Inc()
	return nil
}

// Flush is a no-op; Prometheus is pull-based.
func (s *PrometheusSink) Flush(ctx context.Context) error {
	return s.open(ctx, false)
}

// Close unregisters the collectors from a *prometheus.Registry. Idempotent.
func (s *PrometheusSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if reg, ok := s.registry.(*prometheus.Registry); ok {
		for _, c := range s.collectors {
			reg.Unregister(c)
		}
	}
	return nil
}

// sanitizeLabel maps values beyond the cardinality cap to "_other".
func (s *PrometheusSink) sanitizeLabel(labelName, labelValue string) string {
	s.labelMu.RLock()
	seen := s.seenLabels[labelName]
	if seen != nil {
		if _, exists := seen[labelValue]; exists {
			s.labelMu.RUnlock()
			return labelValue
		}
		if len(seen) >= s.maxCardinality {
			s.labelMu.RUnlock()
			return "_other"
		}
	}
	s.labelMu.RUnlock()

	s.labelMu.Lock()
	defer s.labelMu.Unlock()

	if s.seenLabels[labelName] == nil {
		s.seenLabels[labelName] = make(map[string]struct{})
	}
	if _, exists := s.seenLabels[labelName][labelValue]; exists {
		return labelValue
	}
	if len(s.seenLabels[labelName]) >= s.maxCardinality {
		return "_other"
	}
	s.seenLabels[labelName][labelValue] = struct{}{}
	return labelValue
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

var _ Sink = (*PrometheusSink)(nil)
