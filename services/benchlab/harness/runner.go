// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package harness measures registered backends against a workload.
//
// A Runner executes the repetitions of one backend strictly sequentially on
// the calling goroutine and holds a run lock for the whole call, so the
// repetitions of different backends never interleave. Each repetition is
// timed with the monotonic clock, verified outside the timed region, and
// recorded as one Result. A backend failure, error or panic, is confined to
// the repetition that raised it.
package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/AleutianAI/benchlab/services/benchlab/backend"
	"github.com/AleutianAI/benchlab/services/benchlab/telemetry"
	"github.com/AleutianAI/benchlab/services/benchlab/verify"
	"github.com/AleutianAI/benchlab/services/benchlab/workload"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "benchlab.harness"

// exclusiveLocks serializes compress/decompress pairs per exclusive backend
// id across every Runner in the process.
var exclusiveLocks sync.Map

func exclusiveLock(id string) sync.Locker {
	m, _ := exclusiveLocks.LoadOrStore(id, &sync.Mutex{})
	return m.(*sync.Mutex)
}

type nopLocker struct{}

func (nopLocker) Lock()   {}
func (nopLocker) Unlock() {}

// -----------------------------------------------------------------------------
// Runner
// -----------------------------------------------------------------------------

// Runner executes benchmark repetitions against a backend registry.
//
// Thread Safety: Safe for concurrent use. Concurrent calls queue on the run
// lock and execute one after another.
type Runner struct {
	registry *backend.Registry
	logger   *slog.Logger
	sources  *SourceCache
	metrics  *telemetry.Metrics
	defaults []RunOption

	runMu sync.Mutex
}

// NewRunner creates a runner over registry.
//
// Inputs:
//   - registry: Must not be nil.
//   - defaults: Options applied to every call before the call's own options.
//
// Example:
//
//	registry := backend.NewRegistry()
//	_ = alloc.RegisterDefaults(registry)
//	runner := harness.NewRunner(registry, harness.WithWarmup(false))
func NewRunner(registry *backend.Registry, defaults ...RunOption) *Runner {
	sources, _ := NewSourceCache(DefaultSourceCacheSize)
	r := &Runner{
		registry: registry,
		logger:   slog.Default(),
		sources:  sources,
		defaults: defaults,
	}
	m, err := telemetry.NewMetrics(otel.Meter(instrumentationName))
	if err != nil {
		r.logger.Warn("harness metrics unavailable", slog.String("error", err.Error()))
	}
	r.metrics = m
	return r
}

// SetLogger replaces the runner's logger. Nil is ignored.
func (r *Runner) SetLogger(logger *slog.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Registry returns the registry the runner reads from.
func (r *Runner) Registry() *backend.Registry { return r.registry }

// Sources returns the payload cache used by decompress-only runs.
func (r *Runner) Sources() *SourceCache { return r.sources }

func (r *Runner) config(opts []RunOption) (*Config, error) {
	cfg := DefaultConfig()
	for _, opt := range r.defaults {
		opt(cfg)
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = r.logger
	}
	return cfg, nil
}

// RunOnce measures one backend for the given number of repetitions.
//
// Description:
//
//	Allocation backends run the workload once per repetition; the result's
//	OutputSize is the final container count. Codec backends take the
//	workload corpus as input and run a round trip, or the single direction
//	they support, per repetition. Decompress-only runs read a payload
//	produced untimed by the declared source codec and cached.
//
// Inputs:
//   - ctx: Checked between repetitions. Must not be nil.
//   - backendID: A registered id.
//   - w: The workload. Codec runs only read its corpus.
//   - repetitions: At least 1.
//
// Outputs:
//   - []Result: One per repetition, in order. A failing repetition is
//     recorded with a failed verdict and does not stop the run.
//   - error: ErrUnknownBackend, ErrInvalidConfig, ErrModeUnsupported or a
//     source failure before any repetition ran; or the context error with
//     the results completed so far.
//
// Thread Safety: Safe for concurrent use; calls are serialized.
//
// Example:
//
//	results, err := runner.RunOnce(ctx, "zstd", w, 5, harness.WithLevel(3))
//	if err != nil {
//	    return fmt.Errorf("run zstd: %w", err)
//	}
func (r *Runner) RunOnce(ctx context.Context, backendID string, w workload.Descriptor, repetitions int, opts ...RunOption) ([]Result, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if repetitions < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidRepetitions, repetitions)
	}
	cfg, err := r.config(opts)
	if err != nil {
		return nil, err
	}
	h, err := r.registry.Get(backendID)
	if err != nil {
		return nil, err
	}

	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	name := cfg.Name
	if name == "" {
		name = backendID
	}
	logger := cfg.Logger.With(slog.String("backend", name), slog.String("run_id", runID))

	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "harness.Runner.RunOnce",
		trace.WithAttributes(
			attribute.String("benchlab.backend", backendID),
			attribute.String("benchlab.kind", string(h.Kind())),
			attribute.String("benchlab.run_id", runID),
			attribute.Int("benchlab.repetitions", repetitions),
		),
	)
	defer span.End()

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	// Source payloads are compressed in prepare, so it runs under the lock
	// too and never overlaps another run's timed repetitions.
	r.runMu.Lock()
	defer r.runMu.Unlock()

	repeat, err := r.prepare(h, w, cfg)
	if err != nil {
		telemetry.RecordSpanError(span, err)
		return nil, err
	}
	if r.metrics != nil {
		r.metrics.ActiveRuns.Add(ctx, 1)
		defer r.metrics.ActiveRuns.Add(ctx, -1)
	}

	if cfg.CPU >= 0 {
		restore, err := pinThread(cfg.CPU)
		if err != nil {
			logger.Warn("cpu pinning unavailable", slog.Int("cpu", cfg.CPU), slog.String("error", err.Error()))
		} else {
			defer restore()
		}
	}

	verifier := verify.New(cfg.Verify)
	results := make([]Result, 0, repetitions)
	failures := 0
	for i := range repetitions {
		if i > 0 && cfg.Cooldown > 0 {
			sleepCtx(ctx, cfg.Cooldown)
		}
		if err := ctx.Err(); err != nil {
			span.SetAttributes(attribute.Int("benchlab.completed", len(results)))
			telemetry.RecordSpanError(span, err)
			logger.Info("run cancelled", slog.Int("completed", len(results)), slog.Int("repetitions", repetitions))
			return results, fmt.Errorf("run %s stopped after %d of %d repetitions: %w", name, len(results), repetitions, err)
		}
		if cfg.GCBetween {
			runtime.GC()
		}

		res := repeat(verifier)
		res.RunID = runID
		res.Name = name
		res.BackendID = backendID
		res.Repetition = i
		res.Warmup = cfg.Warmup && i == 0
		res.MaxRSSKB = maxRSSKB()
		res.Timestamp = time.Now()
		if res.Verification.Failed() {
			failures++
		}

		results = append(results, res)
		r.emit(ctx, logger, cfg.Sink, res)
	}

	span.SetAttributes(
		attribute.Int("benchlab.completed", len(results)),
		attribute.Int("benchlab.failures", failures),
	)
	return results, nil
}

// RunAll runs each id in ascending order with the same options. An empty
// ids list runs every registered backend.
//
// Description:
//
//	A backend that cannot be configured, for example an allocation-only
//	option set on a decode-only codec, is logged, reported to the sink and
//	skipped. Those errors are joined into the returned error alongside the
//	results of every backend that ran. Cancellation stops the sweep.
func (r *Runner) RunAll(ctx context.Context, ids []string, w workload.Descriptor, repetitions int, opts ...RunOption) ([]Result, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	cfg, err := r.config(opts)
	if err != nil {
		return nil, err
	}
	if cfg.RunID == "" {
		opts = slices.Concat(opts, []RunOption{WithRunID(uuid.NewString())})
	}

	if len(ids) == 0 {
		ids = r.registry.List()
	} else {
		ids = slices.Sorted(slices.Values(ids))
		ids = slices.Compact(ids)
	}

	var all []Result
	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return all, errors.Join(append(errs, err)...)
		}
		res, err := r.RunOnce(ctx, id, w, repetitions, opts...)
		all = append(all, res...)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return all, errors.Join(append(errs, err)...)
		}
		cfg.Logger.Warn("skipping backend", slog.String("backend", id), slog.String("error", err.Error()))
		r.reportError(ctx, cfg, id, err)
		errs = append(errs, fmt.Errorf("%s: %w", id, err))
	}
	return all, errors.Join(errs...)
}

// RunPresets runs every codec at every level of presets, naming results
// "<id>-<level>". Registered decode-only codecs absent from presets run
// once at their source level.
//
// Example:
//
//	results, err := runner.RunPresets(ctx, w, 3, codec.Presets())
func (r *Runner) RunPresets(ctx context.Context, w workload.Descriptor, repetitions int, presets map[string][]int, opts ...RunOption) ([]Result, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if len(presets) == 0 {
		return nil, fmt.Errorf("%w: no presets", ErrInvalidConfig)
	}
	cfg, err := r.config(opts)
	if err != nil {
		return nil, err
	}
	if cfg.RunID == "" {
		opts = slices.Concat(opts, []RunOption{WithRunID(uuid.NewString())})
	}

	var all []Result
	var errs []error
	run := func(id string, extra ...RunOption) error {
		res, err := r.RunOnce(ctx, id, w, repetitions, slices.Concat(opts, extra)...)
		all = append(all, res...)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		cfg.Logger.Warn("skipping preset", slog.String("backend", id), slog.String("error", err.Error()))
		r.reportError(ctx, cfg, id, err)
		errs = append(errs, fmt.Errorf("%s: %w", id, err))
		return nil
	}

	for _, id := range slices.Sorted(maps.Keys(presets)) {
		for _, level := range presets[id] {
			if err := run(id, WithLevel(level), WithName(fmt.Sprintf("%s-%d", id, level))); err != nil {
				return all, errors.Join(append(errs, err)...)
			}
		}
	}

	for _, h := range r.registry.Handles() {
		if _, listed := presets[h.ID]; listed {
			continue
		}
		if _, _, sourced := h.Source(); !sourced {
			continue
		}
		if err := run(h.ID); err != nil {
			return all, errors.Join(append(errs, err)...)
		}
	}
	return all, errors.Join(errs...)
}

// -----------------------------------------------------------------------------
// Repetitions
// -----------------------------------------------------------------------------

// repetition measures once and returns a partially filled Result.
type repetition func(v *verify.Verifier) Result

func (r *Runner) prepare(h backend.Handle, w workload.Descriptor, cfg *Config) (repetition, error) {
	if a, ok := h.Allocation(); ok {
		return allocRepetition(h.ID, a, w), nil
	}

	comp, hasC := h.Compressor()
	dec, hasD := h.Decompressor()

	mode := cfg.Mode
	if mode == ModeAuto {
		switch {
		case hasC && hasD:
			mode = ModeRoundTrip
		case hasC:
			mode = ModeCompress
		default:
			mode = ModeDecompress
		}
	}

	level := cfg.Level
	if !cfg.HasLevel {
		level = h.Levels().Min
	}
	// Every mode of a codec that compresses uses level, decompress included
	// since it produces its own payload.
	if hasC && !h.Levels().Contains(level) {
		return nil, backend.LevelError(h.ID, level, h.Levels())
	}

	var lock sync.Locker = nopLocker{}
	if h.IsExclusive() {
		lock = exclusiveLock(h.ID)
	}
	input := w.Corpus()

	switch mode {
	case ModeRoundTrip:
		if !hasC || !hasD {
			return nil, fmt.Errorf("%w: %s is %s", ErrModeUnsupported, h.ID, h.Caps)
		}
		return roundTripRepetition(h.ID, comp, dec, input, level, lock), nil

	case ModeCompress:
		if !hasC {
			return nil, fmt.Errorf("%w: %s cannot compress", ErrModeUnsupported, h.ID)
		}
		return compressRepetition(h.ID, comp, input, level, lock), nil

	case ModeDecompress:
		if !hasD {
			return nil, fmt.Errorf("%w: %s cannot decompress", ErrModeUnsupported, h.ID)
		}
		payload, srcLevel, err := r.sourcePayload(h, w, level)
		if err != nil {
			return nil, err
		}
		return decompressRepetition(h.ID, dec, input, payload, srcLevel, lock), nil
	}
	return nil, fmt.Errorf("%w: mode %q", ErrInvalidConfig, mode)
}

// sourcePayload returns the cached compressed input of a decompress run.
// Decode-only codecs use their declared source; two-way codecs compress
// with themselves at level.
func (r *Runner) sourcePayload(h backend.Handle, w workload.Descriptor, level int) ([]byte, int, error) {
	srcID, srcLevel := h.ID, level
	if id, lvl, ok := h.Source(); ok {
		srcID, srcLevel = id, lvl
	}

	src, err := r.registry.Get(srcID)
	if err != nil {
		return nil, 0, backend.NewInvocationError(h.ID, backend.OpSource, err)
	}
	comp, ok := src.Compressor()
	if !ok {
		return nil, 0, backend.NewInvocationError(h.ID, backend.OpSource,
			fmt.Errorf("%w: source %s cannot compress", backend.ErrUnsupported, srcID))
	}

	var lock sync.Locker = nopLocker{}
	if src.IsExclusive() {
		lock = exclusiveLock(src.ID)
	}

	key := SourceKey{Fingerprint: w.Fingerprint(), BackendID: srcID, Level: srcLevel}
	payload, err := r.sources.Get(key, func() ([]byte, error) {
		lock.Lock()
		defer lock.Unlock()
		corpus := w.Corpus()
		return invoke(srcID, backend.OpSource, func() ([]byte, error) { return comp.Compress(corpus, srcLevel) })
	})
	if err != nil {
		return nil, 0, err
	}
	return payload, srcLevel, nil
}

func allocRepetition(id string, a backend.AllocationBackend, w workload.Descriptor) repetition {
	return func(v *verify.Verifier) Result {
		res := Result{Action: ActionAlloc}

		start := time.Now()
		report, err := invoke(id, backend.OpRun, func() (backend.AllocationReport, error) { return a.Run(w) })
		res.Elapsed = time.Since(start)

		if err != nil {
			return failed(res, err)
		}
		res.OutputSize = report.FinalContainerCount
		res.InnerBuffers = report.InnerBuffers
		res.Verification = v.VerifyAllocation(w, report)
		return res
	}
}

func roundTripRepetition(id string, comp backend.Compressor, dec backend.Decompressor, input []byte, level int, lock sync.Locker) repetition {
	return func(v *verify.Verifier) Result {
		res := Result{Action: ActionRoundTrip, Level: level, InputSize: len(input)}
		lock.Lock()
		defer lock.Unlock()

		start := time.Now()
		packed, err := invoke(id, backend.OpCompress, func() ([]byte, error) { return comp.Compress(input, level) })
		res.CompressElapsed = time.Since(start)
		res.Elapsed = res.CompressElapsed
		if err != nil {
			return failed(res, err)
		}
		res.OutputSize = len(packed)
		res.Ratio = ratio(len(input), len(packed))

		start = time.Now()
		out, err := invoke(id, backend.OpDecompress, func() ([]byte, error) { return dec.Decompress(packed) })
		res.DecompressElapsed = time.Since(start)
		res.Elapsed += res.DecompressElapsed
		if err != nil {
			return failed(res, err)
		}

		res.Verification = v.VerifyRoundTrip(input, out)
		return res
	}
}

func compressRepetition(id string, comp backend.Compressor, input []byte, level int, lock sync.Locker) repetition {
	return func(v *verify.Verifier) Result {
		res := Result{Action: ActionCompress, Level: level, InputSize: len(input)}
		lock.Lock()
		defer lock.Unlock()

		start := time.Now()
		packed, err := invoke(id, backend.OpCompress, func() ([]byte, error) { return comp.Compress(input, level) })
		res.CompressElapsed = time.Since(start)
		res.Elapsed = res.CompressElapsed
		if err != nil {
			return failed(res, err)
		}
		res.OutputSize = len(packed)
		res.Ratio = ratio(len(input), len(packed))
		// one-way output has nothing to compare against
		res.Verification = verify.Skipped()
		return res
	}
}

func decompressRepetition(id string, dec backend.Decompressor, original, payload []byte, level int, lock sync.Locker) repetition {
	return func(v *verify.Verifier) Result {
		res := Result{Action: ActionDecompress, Level: level, InputSize: len(payload)}
		lock.Lock()
		defer lock.Unlock()

		start := time.Now()
		out, err := invoke(id, backend.OpDecompress, func() ([]byte, error) { return dec.Decompress(payload) })
		res.DecompressElapsed = time.Since(start)
		res.Elapsed = res.DecompressElapsed
		if err != nil {
			return failed(res, err)
		}
		res.OutputSize = len(out)
		res.Ratio = ratio(len(out), len(payload))
		res.Verification = v.VerifyRoundTrip(original, out)
		return res
	}
}

// invoke calls fn and converts an error or panic into an InvocationError.
func invoke[T any](id string, op backend.Op, fn func() (T, error)) (out T, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			var zero T
			out, err = zero, backend.NewInvocationError(id, op, backend.PanicError(rec))
		}
	}()
	out, err = fn()
	if err != nil {
		err = backend.NewInvocationError(id, op, err)
	}
	return out, err
}

func failed(res Result, err error) Result {
	res.Err = err
	res.ErrorKind = backend.ErrorKind(err)
	res.Verification = verify.FromError(err)
	return res
}

func ratio(uncompressed, compressed int) float64 {
	if compressed == 0 {
		return 0
	}
	return float64(uncompressed) / float64(compressed)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// -----------------------------------------------------------------------------
// Reporting
// -----------------------------------------------------------------------------

func (r *Runner) emit(ctx context.Context, logger *slog.Logger, sink telemetry.Sink, res Result) {
	data := res.telemetry()
	r.metrics.ObserveRepetition(ctx, data)

	if sink != nil {
		if err := sink.RecordRepetition(ctx, data); err != nil {
			logger.Warn("telemetry sink rejected repetition",
				slog.Int("repetition", res.Repetition),
				slog.String("error", err.Error()),
			)
		}
	}

	attrs := []slog.Attr{
		slog.Int("repetition", res.Repetition),
		slog.String("action", string(res.Action)),
		slog.Duration("elapsed", res.Elapsed),
		slog.Int("output_size", res.OutputSize),
		slog.String("verification", res.Verification.String()),
		slog.Bool("warmup", res.Warmup),
	}
	if res.Err != nil {
		logger.LogAttrs(ctx, slog.LevelWarn, "repetition failed", append(attrs, slog.String("error", res.Err.Error()))...)
		return
	}
	if res.Verification.Failed() {
		logger.LogAttrs(ctx, slog.LevelWarn, "verification failed", attrs...)
		return
	}
	logger.LogAttrs(ctx, slog.LevelDebug, "repetition complete", attrs...)
}

func (r *Runner) reportError(ctx context.Context, cfg *Config, id string, err error) {
	if cfg.Sink == nil {
		return
	}
	data := &telemetry.ErrorData{
		Timestamp: time.Now(),
		Component: id,
		Operation: "run",
		ErrorType: backend.ErrorKind(err),
		Message:   err.Error(),
	}
	if serr := cfg.Sink.RecordError(ctx, data); serr != nil {
		cfg.Logger.Debug("telemetry sink rejected error", slog.String("error", serr.Error()))
	}
}
