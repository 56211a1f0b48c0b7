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
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/AleutianAI/benchlab/pkg/ux"
	"github.com/AleutianAI/benchlab/services/benchlab/backend"
	"github.com/AleutianAI/benchlab/services/benchlab/baseline"
	"github.com/AleutianAI/benchlab/services/benchlab/report"
	"github.com/spf13/cobra"
)

// ErrRegression is returned by 'baseline compare' when a backend regressed.
var ErrRegression = errors.New("performance regression detected")

func newBaselineCmd(a *app) *cobra.Command {
	baselineCmd := &cobra.Command{
		Use:   "baseline",
		Short: "Save, inspect and compare against stored baselines",
	}

	baselineCmd.AddCommand(newBaselineSaveCmd(a))
	baselineCmd.AddCommand(newBaselineCompareCmd(a))
	baselineCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored baselines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.baselines()
			if err != nil {
				return err
			}
			list, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(list) == 0 {
				ux.Info("no baselines stored")
				return nil
			}
			return report.BaselineTable(cmd.OutOrStdout(), list, tableOptions())
		},
	})
	baselineCmd.AddCommand(&cobra.Command{
		Use:   "show <name>",
		Short: "Show one baseline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.baselines()
			if err != nil {
				return err
			}
			b, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			ux.Title(b.Name)
			ux.KeyValues(
				[2]string{"backend", b.BackendID},
				[2]string{"action", string(b.Action)},
				[2]string{"level", strconv.Itoa(b.Level)},
				[2]string{"samples", strconv.Itoa(b.Samples)},
				[2]string{"mean", b.Mean.String()},
				[2]string{"min", b.Min.String()},
				[2]string{"max", b.Max.String()},
				[2]string{"p50", b.P50.String()},
				[2]string{"stddev", b.StdDev.String()},
				[2]string{"mean size", strconv.FormatFloat(b.MeanOutputSize, 'f', 0, 64)},
				[2]string{"ratio", strconv.FormatFloat(b.Ratio, 'f', 2, 64)},
				[2]string{"workload", fmt.Sprintf("%016x", uint64(b.Fingerprint))},
				[2]string{"run", b.RunID},
				[2]string{"created", b.CreatedAt.UTC().Format(time.RFC3339)},
			)
			return nil
		},
	})
	baselineCmd.AddCommand(&cobra.Command{
		Use:     "delete <name>...",
		Short:   "Delete baselines",
		Aliases: []string{"rm"},
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.baselines()
			if err != nil {
				return err
			}
			for _, name := range args {
				if err := store.Delete(cmd.Context(), name); err != nil {
					return fmt.Errorf("delete %s: %w", name, err)
				}
				ux.Success("deleted " + name)
			}
			return nil
		},
	})
	return baselineCmd
}

// bindKind adds --kind to a baseline command.
func bindKind(cmd *cobra.Command, kind *string) {
	cmd.Flags().StringVarP(kind, "kind", "k", string(backend.KindCodec), "Backend kind: allocation or codec")
}

func parseKind(s string) (backend.Kind, error) {
	switch backend.Kind(s) {
	case backend.KindAllocation, backend.KindCodec:
		return backend.Kind(s), nil
	case "alloc":
		return backend.KindAllocation, nil
	}
	return "", fmt.Errorf("unknown kind %q", s)
}

// measure runs backends and turns the results into baselines.
func (a *app) measure(cmd *cobra.Command, kindName string, ids []string, f *runFlags) ([]baseline.Baseline, error) {
	kind, err := parseKind(kindName)
	if err != nil {
		return nil, err
	}
	target, runErr := a.execute(cmd, kind, ids, f)
	if target == nil {
		if runErr == nil {
			runErr = baseline.ErrNoSamples
		}
		return nil, runErr
	}
	if runErr != nil {
		a.logger.Warn("run finished with errors", slog.String("error", runErr.Error()))
	}
	return baseline.FromResults(target.results, target.workload.Fingerprint())
}

func newBaselineSaveCmd(a *app) *cobra.Command {
	f := &runFlags{}
	var kind string
	cmd := &cobra.Command{
		Use:   "save [backend...]",
		Short: "Run backends and store the results as baselines",
		RunE: func(cmd *cobra.Command, args []string) error {
			current, err := a.measure(cmd, kind, args, f)
			if err != nil {
				return err
			}
			store, err := a.baselines()
			if err != nil {
				return err
			}
			for _, b := range current {
				if err := store.Set(cmd.Context(), b); err != nil {
					return fmt.Errorf("save %s: %w", b.Name, err)
				}
			}
			ux.Success(fmt.Sprintf("saved %d baselines", len(current)))
			return report.BaselineTable(cmd.OutOrStdout(), current, tableOptions())
		},
	}
	bindRunFlags(cmd, f)
	bindCodecFlags(cmd, f)
	bindKind(cmd, &kind)
	return cmd
}

func newBaselineCompareCmd(a *app) *cobra.Command {
	f := &runFlags{}
	var kind string
	var threshold float64
	var noFail bool
	cmd := &cobra.Command{
		Use:   "compare [backend...]",
		Short: "Run backends and compare against the stored baselines",
		RunE: func(cmd *cobra.Command, args []string) error {
			current, err := a.measure(cmd, kind, args, f)
			if err != nil {
				return err
			}
			store, err := a.baselines()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("threshold") {
				threshold = a.cfg.Baseline.Threshold
			}

			comparisons, err := baseline.CompareStored(cmd.Context(), store, current, threshold)
			if err != nil {
				return err
			}
			if len(comparisons) == 0 {
				ux.Warning("no stored baselines match this run")
				return nil
			}

			regressed := 0
			for _, c := range comparisons {
				if err := a.sink.RecordRegression(cmd.Context(), c.Telemetry()); err != nil {
					a.logger.Warn("record regression", slog.String("error", err.Error()))
				}
				if c.WorkloadChanged {
					ux.Warning(c.Name + ": workload differs from the baseline")
				}
				if c.Regressed {
					regressed++
				}
			}
			if err := report.ComparisonTable(cmd.OutOrStdout(), comparisons, tableOptions()); err != nil {
				return err
			}
			if regressed > 0 && !noFail {
				return fmt.Errorf("%w: %d of %d backends", ErrRegression, regressed, len(comparisons))
			}
			return nil
		},
	}
	bindRunFlags(cmd, f)
	bindCodecFlags(cmd, f)
	bindKind(cmd, &kind)
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Allowed mean growth, e.g. 0.1 for 10% (default from config)")
	cmd.Flags().BoolVar(&noFail, "no-fail", false, "Exit zero even when a backend regressed")
	return cmd
}
