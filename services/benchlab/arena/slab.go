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

import "fmt"

// DefaultSlabLen is the element count of slab chunks allocated on demand.
const DefaultSlabLen = 4096

// Slab is a chunked bump allocator for values of type T.
type Slab[T any] struct {
	chunks   [][]T
	ci       int
	off      int
	chunkLen int
	used     int
	released bool
}

// NewSlab creates a slab that grows in chunks of chunkLen elements.
// Non-positive lengths select DefaultSlabLen.
func NewSlab[T any](chunkLen int) *Slab[T] {
	if chunkLen <= 0 {
		chunkLen = DefaultSlabLen
	}
	return &Slab[T]{chunkLen: chunkLen}
}

// SlabWithCapacity creates a slab whose first chunk holds exactly n elements.
func SlabWithCapacity[T any](n int) *Slab[T] {
	s := NewSlab[T](DefaultSlabLen)
	if n > 0 {
		s.chunks = append(s.chunks, make([]T, n))
	}
	return s
}

// Make returns an empty slice with capacity n backed by the slab.
// Elements are zeroed before they are handed out.
func (s *Slab[T]) Make(n int) []T {
	if s.released {
		panic("arena: Make after Release")
	}
	if n < 0 {
		panic(fmt.Sprintf("arena: negative slab allocation %d", n))
	}
	if len(s.chunks) == 0 || s.off+n > len(s.chunks[s.ci]) {
		s.advance(n)
	}
	region := s.chunks[s.ci][s.off : s.off+n : s.off+n]
	clear(region)
	s.off += n
	s.used += n
	return region[:0]
}

func (s *Slab[T]) advance(n int) {
	for next := s.ci + 1; next < len(s.chunks); next++ {
		if len(s.chunks[next]) >= n {
			s.ci, s.off = next, 0
			return
		}
	}
	size := s.chunkLen
	if n > size {
		size = n
	}
	s.chunks = append(s.chunks, make([]T, size))
	s.ci, s.off = len(s.chunks)-1, 0
}

// Reset rewinds the slab while keeping its chunks.
func (s *Slab[T]) Reset() {
	s.ci, s.off, s.used = 0, 0, 0
}

// Release drops every chunk. The slab must not be used afterwards.
func (s *Slab[T]) Release() {
	s.chunks = nil
	s.ci, s.off, s.used = 0, 0, 0
	s.released = true
}

// Len returns the elements handed out since the last Reset.
func (s *Slab[T]) Len() int { return s.used }

// Append appends v to dst, growing dst inside the slab when it is full.
//
// Description:
//
//	Mirrors a vector allocated in an arena: when capacity runs out a region
//	twice as large is taken from the slab and the old one is abandoned until
//	the slab is reset or released.
func Append[T any](s *Slab[T], dst []T, v T) []T {
	if len(dst) == cap(dst) {
		next := 2 * cap(dst)
		if next < 4 {
			next = 4
		}
		grown := s.Make(next)
		grown = append(grown, dst...)
		dst = grown
	}
	return append(dst, v)
}
