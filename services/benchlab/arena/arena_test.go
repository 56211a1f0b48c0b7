// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package arena

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArena_AllocAndCopy(t *testing.T) {
	a := New(16)
	defer a.Release()

	b := a.Copy([]byte("hello"))
	assert.Equal(t, []byte("hello"), b)
	assert.Equal(t, 5, cap(b), "regions are capped")
	assert.Equal(t, 5, a.Len())
	assert.Equal(t, 16, a.Cap())
	assert.Equal(t, 1, a.Chunks())

	c := a.Copy([]byte("world"))
	assert.Equal(t, []byte("hello"), b, "neighbour untouched")
	assert.Equal(t, []byte("world"), c)
}

func TestArena_GrowsByChunks(t *testing.T) {
	a := New(8)
	for i := 0; i < 5; i++ {
		a.Alloc(4)
	}
	assert.Equal(t, 20, a.Len())
	assert.Equal(t, 3, a.Chunks())

	big := a.Alloc(100)
	assert.Len(t, big, 100)
	assert.Equal(t, 4, a.Chunks())
}

func TestArena_AppendDoesNotClobber(t *testing.T) {
	a := New(64)
	first := a.Copy([]byte("ab"))
	second := a.Copy([]byte("cd"))
	first = append(first, 'x')
	assert.Equal(t, []byte("abx"), first)
	assert.Equal(t, []byte("cd"), second)
}

func TestArena_ResetReusesChunks(t *testing.T) {
	a := New(8)
	a.Alloc(8)
	a.Alloc(8)
	require.Equal(t, 2, a.Chunks())

	a.Reset()
	assert.Equal(t, 0, a.Len())
	a.Alloc(8)
	a.Alloc(8)
	assert.Equal(t, 2, a.Chunks(), "no new chunk after reset")
	assert.Equal(t, 16, a.Peak())
}

func TestArena_Release(t *testing.T) {
	a := New(8)
	a.Alloc(4)
	a.Release()
	assert.Equal(t, 0, a.Cap())
	assert.Panics(t, func() { a.Alloc(1) })
}

func TestArena_WithCapacity(t *testing.T) {
	capacity, err := CapacityFor(5, 3, 5)
	require.NoError(t, err)
	assert.Equal(t, 75, capacity)

	a := WithCapacity(capacity)
	for i := 0; i < 15; i++ {
		a.Copy([]byte("hello"))
	}
	assert.Equal(t, 1, a.Chunks(), "pre-sized arena never grows")
	assert.Equal(t, 75, a.Len())
}

func TestArena_NegativeAllocPanics(t *testing.T) {
	assert.Panics(t, func() { New(8).Alloc(-1) })
}

func TestCapacityFor_Overflow(t *testing.T) {
	_, err := CapacityFor(math.MaxInt/2, 3, 1)
	assert.True(t, errors.Is(err, ErrTooLarge))

	_, err = CapacityFor(-1, 1, 1)
	assert.True(t, errors.Is(err, ErrTooLarge))

	n, err := CapacityFor(0, 10, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

// -----------------------------------------------------------------------------
// Slab Tests
// -----------------------------------------------------------------------------

func TestSlab_Append(t *testing.T) {
	s := NewSlab[int](16)
	var v []int
	for i := 0; i < 10; i++ {
		v = Append(s, v, i)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, v)
	// 4 + 8 + 16 element regions
	assert.Equal(t, 28, s.Len())
}

func TestSlab_MakeZeroesReusedMemory(t *testing.T) {
	s := NewSlab[int](4)
	r := s.Make(4)
	r = append(r, 7, 7, 7, 7)
	require.Len(t, r, 4)

	s.Reset()
	again := s.Make(4)
	assert.Equal(t, []int{0, 0, 0, 0}, again[:4])
}

func TestSlab_WithCapacity(t *testing.T) {
	s := SlabWithCapacity[string](3)
	v := s.Make(3)
	v = append(v, "a", "b", "c")
	assert.Equal(t, []string{"a", "b", "c"}, v)
	assert.Len(t, s.chunks, 1)

	s.Release()
	assert.Panics(t, func() { s.Make(1) })
}
