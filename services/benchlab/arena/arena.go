// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package arena implements chunked bump allocation with bulk release.
//
// An Arena hands out byte regions from large chunks by bumping an offset.
// A Slab does the same for values of one type, which lets slice headers and
// containers live in the arena next to the bytes they point at. Nothing is
// freed individually: Reset rewinds every chunk for reuse and Release drops
// them all at once.
//
// The intended lifetime is one benchmark repetition:
//
//	a := arena.New(arena.DefaultChunkSize)
//	defer a.Release()
//	buf := a.Copy(corpus)
//
// Neither type is safe for concurrent use.
package arena

import (
	"errors"
	"fmt"
	"math"
)

// DefaultChunkSize is the byte size of chunks allocated on demand.
const DefaultChunkSize = 64 << 10

// ErrTooLarge indicates a pre-sizing request that overflows int.
var ErrTooLarge = errors.New("arena capacity overflows")

// Arena is a chunked bump allocator for bytes.
type Arena struct {
	chunks    [][]byte
	ci        int
	off       int
	chunkSize int
	used      int
	peak      int
	released  bool
}

// New creates an arena that grows in chunks of chunkSize bytes.
// Non-positive sizes select DefaultChunkSize. No memory is allocated until
// the first Alloc.
func New(chunkSize int) *Arena {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Arena{chunkSize: chunkSize}
}

// WithCapacity creates an arena whose first chunk holds exactly capacity
// bytes, so a workload sized up front never allocates a second chunk.
func WithCapacity(capacity int) *Arena {
	a := New(DefaultChunkSize)
	if capacity > 0 {
		a.chunks = append(a.chunks, make([]byte, capacity))
	}
	return a
}

// Alloc returns n bytes from the arena.
//
// Description:
//
//	The region is capped at n so appending to it reallocates on the Go heap
//	instead of overwriting a neighbour. Contents are zero only on a fresh
//	chunk; after Reset they hold the previous repetition's bytes.
//
// Outputs:
//   - []byte: len n, cap n.
func (a *Arena) Alloc(n int) []byte {
	if a.released {
		panic("arena: Alloc after Release")
	}
	if n < 0 {
		panic(fmt.Sprintf("arena: negative allocation %d", n))
	}

	if len(a.chunks) == 0 || a.off+n > len(a.chunks[a.ci]) {
		a.advance(n)
	}

	chunk := a.chunks[a.ci]
	buf := chunk[a.off : a.off+n : a.off+n]
	a.off += n
	a.used += n
	if a.used > a.peak {
		a.peak = a.used
	}
	return buf
}

// Copy returns an arena-owned copy of b.
func (a *Arena) Copy(b []byte) []byte {
	buf := a.Alloc(len(b))
	copy(buf, b)
	return buf
}

// advance moves to a chunk with room for n bytes, reusing chunks kept by
// Reset before allocating a new one.
func (a *Arena) advance(n int) {
	for next := a.ci + 1; next < len(a.chunks); next++ {
		if len(a.chunks[next]) >= n {
			a.ci, a.off = next, 0
			return
		}
	}
	size := a.chunkSize
	if n > size {
		size = n
	}
	a.chunks = append(a.chunks, make([]byte, size))
	a.ci, a.off = len(a.chunks)-1, 0
}

// Reset rewinds the arena while keeping its chunks. Every region handed out
// before Reset becomes invalid.
func (a *Arena) Reset() {
	a.ci, a.off, a.used = 0, 0, 0
}

// Release drops every chunk. The arena must not be used afterwards.
func (a *Arena) Release() {
	a.chunks = nil
	a.ci, a.off, a.used = 0, 0, 0
	a.released = true
}

// Len returns the bytes handed out since the last Reset.
func (a *Arena) Len() int { return a.used }

// Cap returns the total bytes held in chunks.
func (a *Arena) Cap() int {
	total := 0
	for _, c := range a.chunks {
		total += len(c)
	}
	return total
}

// Peak returns the high-water mark of Len. It survives Reset.
func (a *Arena) Peak() int { return a.peak }

// Chunks returns the number of chunks held.
func (a *Arena) Chunks() int { return len(a.chunks) }

// CapacityFor returns the byte capacity needed to replay a workload of
// iterations outer containers with fanout copies of a corpusLen-byte corpus.
func CapacityFor(corpusLen, iterations, fanout int) (int, error) {
	if corpusLen < 0 || iterations < 0 || fanout < 0 {
		return 0, fmt.Errorf("%w: negative dimension", ErrTooLarge)
	}
	copies, ok := mulInt(iterations, fanout)
	if !ok {
		return 0, fmt.Errorf("%w: %d x %d copies", ErrTooLarge, iterations, fanout)
	}
	total, ok := mulInt(copies, corpusLen)
	if !ok {
		return 0, fmt.Errorf("%w: %d copies of %d bytes", ErrTooLarge, copies, corpusLen)
	}
	return total, nil
}

func mulInt(a, b int) (int, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if a > math.MaxInt/b {
		return 0, false
	}
	return a * b, true
}
