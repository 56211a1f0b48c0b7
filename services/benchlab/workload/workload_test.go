// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workload

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// Generate Tests
// -----------------------------------------------------------------------------

func TestGenerate_HelloScenario(t *testing.T) {
	w, err := Generate([]byte("hello"), 3, 5)
	require.NoError(t, err)

	assert.Equal(t, 3, w.Iterations())
	assert.Equal(t, 5, w.Fanout())
	assert.Equal(t, 15, w.TotalAllocations())
	assert.Equal(t, 75, w.TotalBytes())
	assert.Equal(t, []byte("hello"), w.Corpus())
}

func TestGenerate_Validation(t *testing.T) {
	tests := []struct {
		name       string
		corpus     []byte
		iterations int
		fanout     int
	}{
		{"nil corpus", nil, 1, 1},
		{"negative iterations", []byte("x"), -1, 1},
		{"zero fanout", []byte("x"), 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Generate(tt.corpus, tt.iterations, tt.fanout)
			assert.True(t, errors.Is(err, ErrInvalidWorkload), "got %v", err)
		})
	}
}

func TestGenerate_EmptyCorpusAndZeroIterations(t *testing.T) {
	w, err := Generate([]byte{}, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, w.TotalAllocations())
	assert.Empty(t, w.Corpus())
}

func TestGenerate_CopiesCorpus(t *testing.T) {
	src := []byte("hello")
	w := MustGenerate(src, 1, 1)
	src[0] = 'j'
	assert.Equal(t, []byte("hello"), w.Corpus())
}

func TestMustGenerate_Panics(t *testing.T) {
	assert.Panics(t, func() { MustGenerate(nil, 1, 1) })
}

func TestDefault(t *testing.T) {
	w := Default()
	assert.Equal(t, []byte(DefaultCorpus), w.Corpus())
	assert.Equal(t, DefaultIterations, w.Iterations())
	assert.Equal(t, DefaultFanout, w.Fanout())
}

func TestFingerprint(t *testing.T) {
	a := MustGenerate([]byte("hello"), 3, 5)
	b := MustGenerate([]byte("hello"), 3, 5)
	c := MustGenerate([]byte("hello"), 3, 4)
	d := MustGenerate([]byte("hellp"), 3, 5)

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), d.Fingerprint())
}

// -----------------------------------------------------------------------------
// GenerateBytes Tests
// -----------------------------------------------------------------------------

func TestGenerateBytes_Deterministic(t *testing.T) {
	for _, kind := range []BytesKind{KindRandom, KindCompressible, KindZeros} {
		t.Run(string(kind), func(t *testing.T) {
			spec := BytesSpec{Kind: kind, Size: 4099, Seed: 42}
			a, err := GenerateBytes(spec)
			require.NoError(t, err)
			b, err := GenerateBytes(spec)
			require.NoError(t, err)

			assert.Len(t, a, 4099)
			assert.True(t, bytes.Equal(a, b))
		})
	}
}

func TestGenerateBytes_SeedChangesContent(t *testing.T) {
	a, err := GenerateBytes(BytesSpec{Kind: KindRandom, Size: 64, Seed: 1})
	require.NoError(t, err)
	b, err := GenerateBytes(BytesSpec{Kind: KindRandom, Size: 64, Seed: 2})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestGenerateBytes_Text(t *testing.T) {
	out, err := GenerateBytes(BytesSpec{Kind: KindText, Size: 7, Text: "abc"})
	require.NoError(t, err)
	assert.Equal(t, []byte("abcabca"), out)

	_, err = GenerateBytes(BytesSpec{Kind: KindText, Size: 7})
	assert.True(t, errors.Is(err, ErrInvalidWorkload))
}

func TestGenerateBytes_Errors(t *testing.T) {
	_, err := GenerateBytes(BytesSpec{Kind: KindZeros, Size: -1})
	assert.True(t, errors.Is(err, ErrInvalidWorkload))

	_, err = GenerateBytes(BytesSpec{Kind: "lorem", Size: 1})
	assert.True(t, errors.Is(err, ErrUnknownBytesKind))
}
