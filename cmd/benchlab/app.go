// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/benchlab/pkg/logging"
	"github.com/AleutianAI/benchlab/pkg/ux"
	"github.com/AleutianAI/benchlab/services/benchlab/backend"
	"github.com/AleutianAI/benchlab/services/benchlab/backends/alloc"
	"github.com/AleutianAI/benchlab/services/benchlab/backends/codec"
	"github.com/AleutianAI/benchlab/services/benchlab/baseline"
	"github.com/AleutianAI/benchlab/services/benchlab/config"
	"github.com/AleutianAI/benchlab/services/benchlab/harness"
	"github.com/AleutianAI/benchlab/services/benchlab/telemetry"
	"github.com/spf13/cobra"
)

// app holds the state shared by every command of one invocation.
type app struct {
	cfg      config.File
	log      *logging.Logger
	logger   *slog.Logger
	registry *backend.Registry
	runner   *harness.Runner
	sink     telemetry.Sink
	store    baseline.Store

	shutdownTelemetry func(context.Context) error
}

// globalFlags are the persistent root flags.
type globalFlags struct {
	configPath string
	output     string
	logLevel   string
	logJSON    bool
}

// setup loads the configuration and wires logging, telemetry and the runner.
func (a *app) setup(cmd *cobra.Command, flags *globalFlags) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ux.SetOutput(cmd.OutOrStdout(), cmd.ErrOrStderr())

	if err := config.LoadDotEnv(); err != nil {
		return err
	}

	path := flags.configPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return err
		}
	}
	bootstrap := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg, err := config.Load(path, bootstrap)
	if err != nil {
		return err
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if cmd.Flags().Changed("log-json") {
		cfg.Logging.JSON = flags.logJSON
	}
	if flags.output != "" {
		cfg.Output = flags.output
	}
	a.cfg = cfg

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	a.log = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "benchlab",
		JSON:    cfg.Logging.JSON,
		Output:  cmd.ErrOrStderr(),
	})
	a.logger = a.log.Slog()
	slog.SetDefault(a.logger)

	if cfg.Output != "" {
		ux.SetMode(ux.ParseMode(cfg.Output))
	} else {
		ux.InitMode()
	}

	if a.shutdownTelemetry, err = telemetry.Init(ctx, cfg.Telemetry); err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	if a.sink, err = a.openSink(); err != nil {
		return err
	}

	a.registry = backend.NewRegistry()
	if err := alloc.RegisterDefaults(a.registry); err != nil {
		return fmt.Errorf("register allocation backends: %w", err)
	}
	if err := codec.RegisterDefaults(a.registry); err != nil {
		return fmt.Errorf("register codec backends: %w", err)
	}

	opts, err := cfg.RunOptions()
	if err != nil {
		return err
	}
	opts = append(opts, harness.WithSink(a.sink), harness.WithLogger(a.logger))
	a.runner = harness.NewRunner(a.registry, opts...)
	a.runner.SetLogger(a.logger)

	a.logger.Debug("benchlab ready",
		slog.String("config", path),
		slog.Int("backends", a.registry.Count()),
		slog.String("output", string(ux.GetMode())),
	)
	return nil
}

// openSink builds the Prometheus sink, fanned out to InfluxDB when configured.
func (a *app) openSink() (telemetry.Sink, error) {
	prom, err := telemetry.NewPrometheusSink(telemetry.DefaultPrometheusConfig())
	if err != nil {
		return nil, fmt.Errorf("create prometheus sink: %w", err)
	}
	if a.cfg.Influx == nil {
		return prom, nil
	}

	influx, err := telemetry.NewInfluxSink(*a.cfg.Influx)
	if err != nil {
		_ = prom.Close()
		return nil, fmt.Errorf("create influx sink: %w", err)
	}
	composite, err := telemetry.NewCompositeSink(prom, influx)
	if err != nil {
		return nil, err
	}
	return composite, nil
}

// baselines opens the configured store on first use.
func (a *app) baselines() (baseline.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	store, err := a.cfg.OpenStore(a.logger)
	if err != nil {
		return nil, fmt.Errorf("open baseline store: %w", err)
	}
	a.store = store
	return store, nil
}

// close releases everything setup opened. Safe on a partially set up app.
func (a *app) close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var errs []error
	if a.sink != nil {
		if err := a.sink.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush telemetry: %w", err))
		}
		if err := a.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close telemetry: %w", err))
		}
		a.sink = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close baseline store: %w", err))
		}
		a.store = nil
	}
	if a.shutdownTelemetry != nil {
		if err := a.shutdownTelemetry(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
		}
		a.shutdownTelemetry = nil
	}
	if a.log != nil {
		if err := a.log.Close(); err != nil {
			errs = append(errs, err)
		}
		a.log = nil
	}
	return errors.Join(errs...)
}
