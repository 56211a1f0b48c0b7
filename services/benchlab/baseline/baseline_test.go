// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package baseline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AleutianAI/benchlab/services/benchlab/harness"
	"github.com/AleutianAI/benchlab/services/benchlab/verify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func sample(name string, mean time.Duration) Baseline {
	return Baseline{
		Name:        name,
		BackendID:   name,
		Action:      harness.ActionAlloc,
		Fingerprint: 0xfeed,
		Samples:     3,
		Mean:        mean,
		Min:         mean / 2,
		Max:         mean * 2,
		P50:         mean,
		CreatedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

// -----------------------------------------------------------------------------
// FromResults / Compare
// -----------------------------------------------------------------------------

func TestFromResults(t *testing.T) {
	results := []harness.Result{
		{RunID: "r1", Name: "zstd-3", BackendID: "zstd", Action: harness.ActionRoundTrip, Level: 3, Warmup: true, Elapsed: ms(50), Verification: verify.Pass()},
		{RunID: "r1", Name: "zstd-3", BackendID: "zstd", Action: harness.ActionRoundTrip, Level: 3, Elapsed: ms(10), OutputSize: 100, Ratio: 2, Verification: verify.Pass()},
		{RunID: "r1", Name: "zstd-3", BackendID: "zstd", Action: harness.ActionRoundTrip, Level: 3, Elapsed: ms(30), OutputSize: 100, Ratio: 2, Verification: verify.Pass()},
		{RunID: "r1", Name: "broken", BackendID: "broken", Elapsed: ms(1), Verification: verify.Fail("panic")},
	}

	got, err := FromResults(results, 0xabc)
	require.NoError(t, err)
	require.Len(t, got, 1, "names without measured repetitions are skipped")

	b := got[0]
	assert.Equal(t, "zstd-3", b.Name)
	assert.Equal(t, "zstd", b.BackendID)
	assert.Equal(t, 3, b.Level)
	assert.Equal(t, "r1", b.RunID)
	assert.Equal(t, Fingerprint(0xabc), b.Fingerprint)
	assert.Equal(t, 2, b.Samples)
	assert.Equal(t, ms(20), b.Mean)
	assert.Equal(t, ms(10), b.Min)
	assert.Equal(t, ms(30), b.Max)
	assert.InDelta(t, 100.0, b.MeanOutputSize, 1e-9)
	assert.InDelta(t, 2.0, b.Ratio, 1e-9)
	assert.NoError(t, b.Validate())
}

func TestFromResults_NoSamples(t *testing.T) {
	_, err := FromResults([]harness.Result{
		{Name: "a", Warmup: true, Elapsed: ms(1), Verification: verify.Pass()},
	}, 1)
	assert.ErrorIs(t, err, ErrNoSamples)
}

func TestCompare(t *testing.T) {
	base := sample("gzip-6", ms(100))

	tests := []struct {
		name      string
		current   time.Duration
		regressed bool
	}{
		{"faster", ms(80), false},
		{"within threshold", ms(109), false},
		{"at threshold", ms(110), false},
		{"beyond threshold", ms(111), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Compare(base, sample("gzip-6", tt.current), DefaultThreshold)
			require.NoError(t, err)
			assert.Equal(t, tt.regressed, c.Regressed)
			assert.InDelta(t, float64(tt.current)/float64(ms(100)), c.Ratio, 1e-9)
			assert.False(t, c.WorkloadChanged)
		})
	}
}

func TestCompare_Errors(t *testing.T) {
	base := sample("a", ms(10))

	_, err := Compare(base, base, 0)
	assert.ErrorIs(t, err, ErrInvalidThreshold)

	_, err = Compare(Baseline{Name: "a"}, base, 0.1)
	assert.ErrorIs(t, err, ErrInvalidBaseline)

	changed := base
	changed.Fingerprint = 1
	c, err := Compare(base, changed, 0.1)
	require.NoError(t, err)
	assert.True(t, c.WorkloadChanged)
}

func TestCompareStored(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Set(ctx, sample("a", ms(10))))

	got, err := CompareStored(ctx, store, []Baseline{sample("a", ms(20)), sample("new", ms(5))}, 0.1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Name)
	assert.True(t, got[0].Regressed)

	d := got[0].Telemetry()
	assert.Equal(t, "a", d.Backend)
	assert.Equal(t, ms(10), d.BaselineMean)
	assert.True(t, d.Regressed)
}

func TestFingerprint_JSON(t *testing.T) {
	raw, err := json.Marshal(sample("a", ms(1)))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"fingerprint":"000000000000feed"`)

	var b Baseline
	require.NoError(t, json.Unmarshal(raw, &b))
	assert.Equal(t, Fingerprint(0xfeed), b.Fingerprint)

	assert.Error(t, json.Unmarshal([]byte(`{"fingerprint":"zz"}`), &b))
}

// -----------------------------------------------------------------------------
// Stores
// -----------------------------------------------------------------------------

func stores(t *testing.T) map[string]Store {
	t.Helper()

	mem := NewMemoryStore()

	bdb, err := OpenBadger(InMemoryBadgerConfig())
	require.NoError(t, err)

	fs, err := OpenFileStore(t.TempDir())
	require.NoError(t, err)

	out := map[string]Store{"memory": mem, "badger": bdb, "file": fs}
	t.Cleanup(func() {
		for _, s := range out {
			_ = s.Close()
		}
	})
	return out
}

func TestStores_Contract(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.Get(ctx, "zstd-3")
			assert.ErrorIs(t, err, ErrBaselineNotFound)

			list, err := store.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, list)

			require.NoError(t, store.Set(ctx, sample("zstd-3", ms(20))))
			require.NoError(t, store.Set(ctx, sample("brotli-1", ms(40))))
			require.NoError(t, store.Set(ctx, sample("zstd-3", ms(25))))

			got, err := store.Get(ctx, "zstd-3")
			require.NoError(t, err)
			assert.Equal(t, ms(25), got.Mean, "set replaces")
			assert.Equal(t, Fingerprint(0xfeed), got.Fingerprint)
			assert.True(t, got.CreatedAt.Equal(sample("x", 1).CreatedAt))

			list, err = store.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "brotli-1", list[0].Name)
			assert.Equal(t, "zstd-3", list[1].Name)

			require.NoError(t, store.Delete(ctx, "brotli-1"))
			assert.ErrorIs(t, store.Delete(ctx, "brotli-1"), ErrBaselineNotFound)

			assert.ErrorIs(t, store.Set(ctx, Baseline{Name: "empty"}), ErrInvalidBaseline)

			cancelled, cancel := context.WithCancel(ctx)
			cancel()
			_, err = store.Get(cancelled, "zstd-3")
			assert.ErrorIs(t, err, context.Canceled)

			require.NoError(t, store.Close())
			_, err = store.Get(ctx, "zstd-3")
			assert.ErrorIs(t, err, ErrStoreClosed)
		})
	}
}

func TestBadgerStore_Persists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	cfg := DefaultBadgerConfig(dir)
	cfg.GCInterval = time.Hour
	s, err := OpenBadger(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, sample("pool", ms(3))))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	s, err = OpenBadger(DefaultBadgerConfig(dir))
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, "pool")
	require.NoError(t, err)
	assert.Equal(t, ms(3), got.Mean)
}

func TestOpenBadger_Invalid(t *testing.T) {
	_, err := OpenBadger(BadgerConfig{})
	assert.Error(t, err)

	cfg := InMemoryBadgerConfig()
	cfg.GCDiscardRatio = 2
	_, err = OpenBadger(cfg)
	assert.Error(t, err)
}

func TestFileStore_Layout(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := OpenFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.Set(ctx, sample("bump-sized", ms(2))))
	_, err = os.Stat(filepath.Join(dir, "bump-sized.json"))
	assert.NoError(t, err)

	assert.ErrorIs(t, s.Set(ctx, sample("../escape", ms(2))), ErrInvalidBaseline)

	// a second handle on the same directory sees the same data
	other, err := OpenFileStore(dir)
	require.NoError(t, err)
	got, err := other.Get(ctx, "bump-sized")
	require.NoError(t, err)
	assert.Equal(t, ms(2), got.Mean)
}
