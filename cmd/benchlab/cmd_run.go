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
	"os"
	"path/filepath"
	"time"

	"github.com/AleutianAI/benchlab/pkg/ux"
	"github.com/AleutianAI/benchlab/pkg/validation"
	"github.com/AleutianAI/benchlab/services/benchlab/backend"
	"github.com/AleutianAI/benchlab/services/benchlab/backends/codec"
	"github.com/AleutianAI/benchlab/services/benchlab/harness"
	"github.com/AleutianAI/benchlab/services/benchlab/report"
	"github.com/AleutianAI/benchlab/services/benchlab/workload"
	"github.com/spf13/cobra"
)

// ErrKindMismatch is returned when a run names a backend of the other kind.
var ErrKindMismatch = errors.New("backend kind mismatch")

// runFlags are the flags shared by every command that runs backends.
type runFlags struct {
	repetitions int
	corpus      string
	corpusFile  string
	iterations  int
	fanout      int
	warmup      bool
	verify      bool
	cooldown    time.Duration
	gc          bool
	cpu         int
	timeout     time.Duration

	// codec only
	mode     string
	level    int
	presets  bool
	generate string
	size     int
	seed     uint64

	format    string
	exportDir string
}

// runTarget is what a run measured, for reports and baselines.
type runTarget struct {
	kind      backend.Kind
	workload  workload.Descriptor
	inputName string
	results   []harness.Result
}

func newRunCmd(a *app) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run benchmarks",
	}

	allocFlags := &runFlags{}
	allocCmd := &cobra.Command{
		Use:   "alloc [backend...]",
		Short: "Run allocation backends (all when none are named)",
		RunE: func(cmd *cobra.Command, args []string) error {
			target, runErr := a.execute(cmd, backend.KindAllocation, args, allocFlags)
			if target == nil {
				return runErr
			}
			return errors.Join(runErr, a.report(cmd, target, allocFlags))
		},
	}
	bindRunFlags(allocCmd, allocFlags)

	codecFlags := &runFlags{}
	codecCmd := &cobra.Command{
		Use:   "codec [backend...]",
		Short: "Run codec backends (all when none are named)",
		Example: `  benchlab run codec zstd --level 3
  benchlab run codec --presets --input enwik8 --export-dir reports/
  benchlab run codec lz4 s2 --generate random --size 1048576 --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			target, runErr := a.execute(cmd, backend.KindCodec, args, codecFlags)
			if target == nil {
				return runErr
			}
			return errors.Join(runErr, a.report(cmd, target, codecFlags))
		},
	}
	bindRunFlags(codecCmd, codecFlags)
	bindCodecFlags(codecCmd, codecFlags)

	runCmd.AddCommand(allocCmd)
	runCmd.AddCommand(codecCmd)
	return runCmd
}

func bindRunFlags(cmd *cobra.Command, f *runFlags) {
	cmd.Flags().IntVarP(&f.repetitions, "repetitions", "n", 0, "Repetitions per backend (default from config)")
	cmd.Flags().StringVar(&f.corpus, "corpus", "", "Inline seed text")
	cmd.Flags().StringVar(&f.corpusFile, "corpus-file", "", "Read the seed bytes from a file")
	cmd.Flags().IntVar(&f.iterations, "iterations", 0, "Outer containers per allocation run")
	cmd.Flags().IntVar(&f.fanout, "fanout", 0, "Corpus copies per container")
	cmd.Flags().BoolVar(&f.warmup, "warmup", true, "Flag the first repetition as warm-up")
	cmd.Flags().BoolVar(&f.verify, "verify", true, "Verify every repetition")
	cmd.Flags().DurationVar(&f.cooldown, "cooldown", 0, "Pause between repetitions")
	cmd.Flags().BoolVar(&f.gc, "gc", false, "Run the garbage collector between repetitions")
	cmd.Flags().IntVar(&f.cpu, "cpu", -1, "Pin the run to this CPU (-1 disables)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "Abort a backend after this long")
	cmd.Flags().StringVarP(&f.format, "format", "f", "table", "Output format: table, json or csv")
	cmd.Flags().StringVar(&f.exportDir, "export-dir", "", "Also write JSON and CSV reports into this directory")
}

func bindCodecFlags(cmd *cobra.Command, f *runFlags) {
	cmd.Flags().StringVar(&f.mode, "mode", "", "auto, roundtrip, compress or decompress")
	cmd.Flags().IntVar(&f.level, "level", 0, "Compression level (default: the bottom of each range)")
	cmd.Flags().BoolVar(&f.presets, "presets", false, "Run every codec at its preset levels")
	cmd.Flags().StringVar(&f.corpusFile, "input", "", "Alias for --corpus-file")
	cmd.Flags().StringVar(&f.generate, "generate", "", "Generate the input: random, compressible, zeros or text")
	cmd.Flags().IntVar(&f.size, "size", 1<<20, "Generated input size in bytes")
	cmd.Flags().Uint64Var(&f.seed, "seed", 1, "Generated input seed")
	cmd.MarkFlagsMutuallyExclusive("presets", "level")
	cmd.MarkFlagsMutuallyExclusive("generate", "input")
}

// -----------------------------------------------------------------------------
// Execution
// -----------------------------------------------------------------------------

// execute runs the named backends of kind, or all of them. It returns a nil
// target only when nothing ran.
func (a *app) execute(cmd *cobra.Command, kind backend.Kind, args []string, f *runFlags) (*runTarget, error) {
	ids := make([]string, 0, len(args))
	for _, arg := range args {
		id, err := validation.SanitizeName(arg)
		if err != nil {
			return nil, err
		}
		h, err := a.registry.Get(id)
		if err != nil {
			return nil, err
		}
		if h.Kind() != kind {
			return nil, fmt.Errorf("%w: %s is a %s backend", ErrKindMismatch, id, h.Kind())
		}
		ids = append(ids, id)
	}

	w, inputName, err := a.workload(cmd, f)
	if err != nil {
		return nil, err
	}
	opts, err := runOptions(cmd, f)
	if err != nil {
		return nil, err
	}

	reps := a.cfg.Run.Repetitions
	if cmd.Flags().Changed("repetitions") {
		reps = f.repetitions
	}

	ctx := cmd.Context()
	a.logger.Info("starting run",
		slog.String("kind", string(kind)),
		slog.Int("backends", len(ids)),
		slog.Int("repetitions", reps),
		slog.String("workload", w.String()),
	)

	var results []harness.Result
	switch {
	case f.presets:
		results, err = a.runner.RunPresets(ctx, w, reps, codec.Presets(), opts...)
	case len(ids) == 1:
		results, err = a.runner.RunOnce(ctx, ids[0], w, reps, opts...)
	case len(ids) == 0:
		results, err = a.runner.RunAll(ctx, a.registry.ListKind(kind), w, reps, opts...)
	default:
		results, err = a.runner.RunAll(ctx, ids, w, reps, opts...)
	}
	if len(results) == 0 {
		return nil, err
	}
	return &runTarget{kind: kind, workload: w, inputName: inputName, results: results}, err
}

// workload builds the descriptor from flags over the configuration.
func (a *app) workload(cmd *cobra.Command, f *runFlags) (workload.Descriptor, string, error) {
	wc := a.cfg.Workload
	changed := cmd.Flags().Changed
	if changed("iterations") {
		wc.Iterations = f.iterations
	}
	if changed("fanout") {
		wc.Fanout = f.fanout
	}

	if f.generate != "" {
		data, err := workload.GenerateBytes(workload.BytesSpec{
			Kind: workload.BytesKind(f.generate),
			Size: f.size,
			Seed: f.seed,
			Text: wc.Corpus,
		})
		if err != nil {
			return workload.Descriptor{}, "", err
		}
		w, err := workload.Generate(data, wc.Iterations, wc.Fanout)
		return w, f.generate, err
	}

	switch {
	case f.corpusFile != "":
		wc.CorpusFile, wc.Corpus = f.corpusFile, ""
	case changed("corpus"):
		wc.CorpusFile, wc.Corpus = "", f.corpus
	}
	cfg := a.cfg
	cfg.Workload = wc
	w, err := cfg.Descriptor()
	if err != nil {
		return workload.Descriptor{}, "", err
	}

	name := wc.CorpusFile
	if name == "" {
		name = "workload"
	}
	return w, name, nil
}

// runOptions converts explicitly set flags into harness options. Unset
// flags keep the configured defaults.
func runOptions(cmd *cobra.Command, f *runFlags) ([]harness.RunOption, error) {
	changed := cmd.Flags().Changed
	var opts []harness.RunOption
	if changed("warmup") {
		opts = append(opts, harness.WithWarmup(f.warmup))
	}
	if changed("verify") {
		opts = append(opts, harness.WithVerification(f.verify))
	}
	if changed("cooldown") {
		opts = append(opts, harness.WithCooldown(f.cooldown))
	}
	if changed("gc") {
		opts = append(opts, harness.WithGCBetween(f.gc))
	}
	if changed("cpu") {
		opts = append(opts, harness.WithCPU(f.cpu))
	}
	if changed("timeout") {
		opts = append(opts, harness.WithTimeout(f.timeout))
	}
	if f.mode != "" {
		mode, err := harness.ParseMode(f.mode)
		if err != nil {
			return nil, err
		}
		opts = append(opts, harness.WithMode(mode))
	}
	if changed("level") {
		opts = append(opts, harness.WithLevel(f.level))
	}
	return opts, nil
}

// -----------------------------------------------------------------------------
// Reporting
// -----------------------------------------------------------------------------

func tableOptions() report.TableOptions {
	return report.TableOptions{Color: ux.ShouldShowColors()}
}

func reportPrefix(kind backend.Kind) string {
	if kind == backend.KindAllocation {
		return "allocation"
	}
	return "compression"
}

// report writes the results in the requested format and optional exports.
func (a *app) report(cmd *cobra.Command, t *runTarget, f *runFlags) error {
	now := time.Now()
	out := cmd.OutOrStdout()
	export := report.NewExport(t.inputName, len(t.workload.Corpus()), t.results, now)

	switch f.format {
	case "json":
		if err := report.WriteJSON(out, export); err != nil {
			return err
		}
	case "csv":
		if err := report.WriteCSV(out, export.Results); err != nil {
			return err
		}
	case "table", "":
		ux.Title(fmt.Sprintf("%s benchmark: %s", reportPrefix(t.kind), t.workload))
		if err := report.SummaryTable(out, harness.Summarize(t.results), tableOptions()); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown format %q", f.format)
	}

	if f.exportDir == "" {
		return nil
	}
	return writeExports(f.exportDir, reportPrefix(t.kind), export, now)
}

// writeExports writes the JSON and CSV files of export into dir.
func writeExports(dir, prefix string, export report.Export, now time.Time) error {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	write := func(ext string, fn func(*os.File) error) error {
		path := filepath.Join(dir, report.Filename(prefix, export.Filename, ext, now))
		file, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		if err := fn(file); err != nil {
			_ = file.Close()
			return fmt.Errorf("write %s: %w", path, err)
		}
		if err := file.Close(); err != nil {
			return err
		}
		ux.Success("wrote " + path)
		return nil
	}

	if err := write("json", func(w *os.File) error { return report.WriteJSON(w, export) }); err != nil {
		return err
	}
	return write("csv", func(w *os.File) error { return report.WriteCSV(w, export.Results) })
}
