// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the benchlab configuration file.
//
// The file is YAML, created with defaults on first use. Values from the
// environment (BENCHLAB_*, optionally read from a .env file) override the
// file, and the result is validated with struct tags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AleutianAI/benchlab/services/benchlab/baseline"
	"github.com/AleutianAI/benchlab/services/benchlab/harness"
	"github.com/AleutianAI/benchlab/services/benchlab/telemetry"
	"github.com/AleutianAI/benchlab/services/benchlab/workload"
	"github.com/go-playground/validator/v10"
)

// ErrInvalidConfig indicates a configuration that fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

const (
	// DirName is the per-user directory under the home directory.
	DirName = ".benchlab"

	// FileName is the configuration file inside DirName.
	FileName = "benchlab.yaml"

	// EnvConfigPath overrides the configuration file location.
	EnvConfigPath = "BENCHLAB_CONFIG"
)

// File is the on-disk configuration.
type File struct {
	Workload  WorkloadConfig          `yaml:"workload"`
	Run       RunConfig               `yaml:"run"`
	Baseline  BaselineConfig          `yaml:"baseline"`
	Logging   LoggingConfig           `yaml:"logging"`
	Telemetry telemetry.Config        `yaml:"telemetry"`
	Influx    *telemetry.InfluxConfig `yaml:"influx,omitempty"`
	Server    ServerConfig            `yaml:"server"`

	// Output is the terminal output mode: rich, plain or machine. Empty
	// detects it from the terminal.
	Output string `yaml:"output" validate:"omitempty,oneof=rich plain machine"`
}

// WorkloadConfig describes the default workload.
type WorkloadConfig struct {
	// Corpus is the inline seed text. Ignored when CorpusFile is set.
	Corpus string `yaml:"corpus"`

	// CorpusFile reads the seed bytes from a file.
	CorpusFile string `yaml:"corpus_file"`

	Iterations int `yaml:"iterations" validate:"gte=0"`
	Fanout     int `yaml:"fanout" validate:"gte=1"`
}

// RunConfig holds the default run options.
type RunConfig struct {
	Repetitions int           `yaml:"repetitions" validate:"gte=1"`
	Warmup      bool          `yaml:"warmup"`
	Verify      bool          `yaml:"verify"`
	Mode        string        `yaml:"mode" validate:"oneof=auto roundtrip compress decompress"`
	Cooldown    time.Duration `yaml:"cooldown" validate:"gte=0"`
	GCBetween   bool          `yaml:"gc_between"`
	CPU         int           `yaml:"cpu" validate:"gte=-1"`
	Timeout     time.Duration `yaml:"timeout" validate:"gte=0"`
}

// BaselineConfig selects the baseline store.
type BaselineConfig struct {
	Store     string  `yaml:"store" validate:"oneof=badger file memory"`
	Dir       string  `yaml:"dir" validate:"required_unless=Store memory"`
	Threshold float64 `yaml:"threshold" validate:"gt=0"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`

	// RateLimit is the sustained POST /runs rate per second.
	RateLimit float64 `yaml:"rate_limit" validate:"gt=0"`
	Burst     int     `yaml:"burst" validate:"gte=1"`

	// MaxRepetitions caps the repetitions of one request.
	MaxRepetitions int `yaml:"max_repetitions" validate:"gte=1"`

	// MaxIterations caps the allocation iterations of one request.
	MaxIterations int `yaml:"max_iterations" validate:"gte=0"`
}

// Default returns the defaults written on first use.
func Default() File {
	return File{
		Workload: WorkloadConfig{
			Corpus:     workload.DefaultCorpus,
			Iterations: workload.DefaultIterations,
			Fanout:     workload.DefaultFanout,
		},
		Run: RunConfig{
			Repetitions: 5,
			Warmup:      true,
			Verify:      true,
			Mode:        string(harness.ModeAuto),
			CPU:         -1,
		},
		Baseline: BaselineConfig{
			Store:     "badger",
			Dir:       filepath.Join("~", DirName, "baselines"),
			Threshold: baseline.DefaultThreshold,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: telemetry.DefaultConfig(),
		Server: ServerConfig{
			Addr:           "127.0.0.1:8088",
			RateLimit:      1,
			Burst:          2,
			MaxRepetitions: 50,
			MaxIterations:  1_000_000,
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field.
func (f File) Validate() error {
	var errs []error
	if err := validate.Struct(f); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
		} else {
			errs = append(errs, err)
		}
	}
	if f.Influx != nil {
		if err := f.Influx.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Descriptor builds the configured workload.
func (f File) Descriptor() (workload.Descriptor, error) {
	corpus := []byte(f.Workload.Corpus)
	if f.Workload.CorpusFile != "" {
		path, err := ExpandHome(f.Workload.CorpusFile)
		if err != nil {
			return workload.Descriptor{}, err
		}
		corpus, err = os.ReadFile(path)
		if err != nil {
			return workload.Descriptor{}, fmt.Errorf("read corpus: %w", err)
		}
	}
	return workload.Generate(corpus, f.Workload.Iterations, f.Workload.Fanout)
}

// RunOptions converts the run section into harness options.
func (f File) RunOptions() ([]harness.RunOption, error) {
	mode, err := harness.ParseMode(f.Run.Mode)
	if err != nil {
		return nil, err
	}
	return []harness.RunOption{
		harness.WithWarmup(f.Run.Warmup),
		harness.WithVerification(f.Run.Verify),
		harness.WithMode(mode),
		harness.WithCooldown(f.Run.Cooldown),
		harness.WithGCBetween(f.Run.GCBetween),
		harness.WithCPU(f.Run.CPU),
		harness.WithTimeout(f.Run.Timeout),
	}, nil
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") && !strings.HasPrefix(path, `~\`) {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}
