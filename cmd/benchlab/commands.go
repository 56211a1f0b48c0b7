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
	"fmt"
	"maps"
	"runtime"
	"slices"

	"github.com/AleutianAI/benchlab/services/benchlab/backends/codec"
	"github.com/AleutianAI/benchlab/services/benchlab/report"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// newRootCmd builds the command tree. Each call returns an independent tree
// and the cleanup that releases what the executed command opened. Cleanup
// must run even when the command fails.
func newRootCmd() (*cobra.Command, func(context.Context) error) {
	a := &app{}
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "benchlab",
		Short: "Benchmark allocation strategies and compression codecs",
		Long: `benchlab runs pluggable allocation and codec backends against a
shared workload, verifies every repetition and reports timings, sizes and
regressions against stored baselines.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd, flags)
		},
	}
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "Config file (default $BENCHLAB_CONFIG or ~/.benchlab/benchlab.yaml)")
	rootCmd.PersistentFlags().StringVarP(&flags.output, "output", "o", "", "Output mode: rich, plain or machine")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVar(&flags.logJSON, "log-json", false, "Log as JSON")

	rootCmd.AddCommand(newRunCmd(a))
	rootCmd.AddCommand(newListCmd(a))
	rootCmd.AddCommand(newPresetsCmd(a))
	rootCmd.AddCommand(newBaselineCmd(a))
	rootCmd.AddCommand(newServeCmd(a))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd, a.close
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List registered backends",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return report.BackendTable(cmd.OutOrStdout(), a.registry.Handles(), tableOptions())
		},
	}
}

func newPresetsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "Show the codec levels compared by 'run codec --presets'",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			presets := codec.Presets()
			out := cmd.OutOrStdout()
			for _, id := range slices.Sorted(maps.Keys(presets)) {
				if _, err := fmt.Fprintf(out, "%-12s %v\n", id, presets[id]); err != nil {
					return err
				}
			}
			for _, h := range a.registry.Handles() {
				if src, level, ok := h.Source(); ok {
					if _, err := fmt.Fprintf(out, "%-12s [%s@%d]\n", h.ID, src, level); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		// No configuration needed.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "benchlab %s (%s %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
			return err
		},
	}
}
