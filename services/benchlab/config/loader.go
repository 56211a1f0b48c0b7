// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/AleutianAI/benchlab/services/benchlab/baseline"
	"github.com/AleutianAI/benchlab/services/benchlab/telemetry"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath returns $BENCHLAB_CONFIG or ~/.benchlab/benchlab.yaml.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, DirName, FileName), nil
}

// LoadDotEnv reads .env files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the configuration at path, creating it with defaults when it
// does not exist. Environment overrides are applied before validation.
//
// Description:
//
//	Fields missing from the file keep their defaults. The environment is
//	read through os.LookupEnv, so call LoadDotEnv first to honor a .env
//	file.
//
// Outputs:
//   - File: The validated configuration.
//   - error: Read, parse or ErrInvalidConfig errors.
func Load(path string, logger *slog.Logger) (File, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		logger.Info("first run, creating config", slog.String("path", path))
		if err := WriteDefault(path); err != nil {
			return File{}, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("failed to read the config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return File{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data over the defaults, applies the environment and
// validates.
func Parse(data []byte) (File, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return File{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return File{}, err
	}
	if err := cfg.Validate(); err != nil {
		return File{}, err
	}
	return cfg, nil
}

// WriteDefault writes Default() to path, creating parent directories.
func WriteDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// ApplyEnv overlays BENCHLAB_* variables read through lookup.
func ApplyEnv(cfg *File, lookup func(string) (string, bool)) error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}

	str("BENCHLAB_CORPUS", &cfg.Workload.Corpus)
	str("BENCHLAB_CORPUS_FILE", &cfg.Workload.CorpusFile)
	integer("BENCHLAB_ITERATIONS", &cfg.Workload.Iterations)
	integer("BENCHLAB_FANOUT", &cfg.Workload.Fanout)

	integer("BENCHLAB_REPETITIONS", &cfg.Run.Repetitions)
	boolean("BENCHLAB_WARMUP", &cfg.Run.Warmup)
	boolean("BENCHLAB_VERIFY", &cfg.Run.Verify)
	str("BENCHLAB_MODE", &cfg.Run.Mode)
	dur("BENCHLAB_COOLDOWN", &cfg.Run.Cooldown)
	integer("BENCHLAB_CPU", &cfg.Run.CPU)
	dur("BENCHLAB_TIMEOUT", &cfg.Run.Timeout)

	str("BENCHLAB_BASELINE_STORE", &cfg.Baseline.Store)
	str("BENCHLAB_BASELINE_DIR", &cfg.Baseline.Dir)
	float("BENCHLAB_BASELINE_THRESHOLD", &cfg.Baseline.Threshold)

	str("BENCHLAB_LOG_LEVEL", &cfg.Logging.Level)
	str("BENCHLAB_LOG_DIR", &cfg.Logging.Dir)
	boolean("BENCHLAB_LOG_JSON", &cfg.Logging.JSON)

	str("BENCHLAB_SERVER_ADDR", &cfg.Server.Addr)
	str("BENCHLAB_OUTPUT", &cfg.Output)

	if url, ok := lookup("BENCHLAB_INFLUX_URL"); ok {
		if cfg.Influx == nil {
			cfg.Influx = &telemetry.InfluxConfig{}
		}
		cfg.Influx.URL = url
		str("BENCHLAB_INFLUX_TOKEN", &cfg.Influx.Token)
		str("BENCHLAB_INFLUX_ORG", &cfg.Influx.Org)
		str("BENCHLAB_INFLUX_BUCKET", &cfg.Influx.Bucket)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// OpenStore opens the configured baseline store.
func (f File) OpenStore(logger *slog.Logger) (baseline.Store, error) {
	if f.Baseline.Store == "memory" {
		return baseline.NewMemoryStore(), nil
	}
	dir, err := ExpandHome(f.Baseline.Dir)
	if err != nil {
		return nil, err
	}
	switch f.Baseline.Store {
	case "file":
		return baseline.OpenFileStore(dir)
	case "badger":
		cfg := baseline.DefaultBadgerConfig(dir)
		cfg.Logger = logger
		return baseline.OpenBadger(cfg)
	}
	return nil, fmt.Errorf("%w: unknown baseline store %q", ErrInvalidConfig, f.Baseline.Store)
}
