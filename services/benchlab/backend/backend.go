// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package backend defines the pluggable backend contract and the registry
// that holds every backend taking part in a comparison.
//
// A backend declares one of two capability sets:
//
//   - Allocation: builds and tears down an allocation-heavy workload.
//   - Codec: compresses and/or decompresses byte buffers at a level.
//
// Optional behaviour is expressed as small interfaces (Compressor,
// Decompressor, Sourced, Exclusive) discovered by type assertion, so a
// decode-only backend simply does not implement Compressor.
package backend

import (
	"strings"

	"github.com/AleutianAI/benchlab/services/benchlab/workload"
)

// -----------------------------------------------------------------------------
// Capabilities
// -----------------------------------------------------------------------------

// Capability is a bit set of the operations a backend supports.
type Capability uint8

const (
	// CapAllocate marks an AllocationBackend.
	CapAllocate Capability = 1 << iota

	// CapCompress marks a codec implementing Compressor.
	CapCompress

	// CapDecompress marks a codec implementing Decompressor.
	CapDecompress

	// CapRoundTrip is shorthand for a codec supporting both directions.
	CapRoundTrip = CapCompress | CapDecompress
)

// Has reports whether every bit of other is set.
func (c Capability) Has(other Capability) bool {
	return c&other == other
}

// String renders the set as "alloc", "compress+decompress", etc.
func (c Capability) String() string {
	var parts []string
	if c.Has(CapAllocate) {
		parts = append(parts, "alloc")
	}
	if c.Has(CapCompress) {
		parts = append(parts, "compress")
	}
	if c.Has(CapDecompress) {
		parts = append(parts, "decompress")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

// Kind is the capability family of a backend.
type Kind string

const (
	KindAllocation Kind = "allocation"
	KindCodec      Kind = "codec"
)

// -----------------------------------------------------------------------------
// Interfaces
// -----------------------------------------------------------------------------

// Backend is the minimal contract every registered implementation satisfies.
type Backend interface {
	// Capabilities returns the declared operations. The registry checks the
	// declaration against the interfaces the value implements.
	Capabilities() Capability
}

// AllocationReport is the outcome of one AllocationBackend.Run call.
type AllocationReport struct {
	// FinalContainerCount is the length of the outer container, one push per
	// outer iteration.
	FinalContainerCount int

	// InnerBuffers is the total number of corpus copies made. Zero means the
	// backend does not report it.
	InnerBuffers int

	// Bytes is the number of corpus bytes copied.
	Bytes int
}

// AllocationBackend builds and discards a nested allocation workload.
//
// Description:
//
//	Run must perform exactly w.Iterations() outer allocations, each holding
//	w.Fanout() fresh copies of the corpus. Nothing may be cached between
//	calls; every call measures fresh allocation work.
//
// Thread Safety: The harness never calls Run concurrently on one backend.
type AllocationBackend interface {
	Backend
	Run(w workload.Descriptor) (AllocationReport, error)
}

// LevelRange is the inclusive range of valid compression levels.
// Larger levels trade speed for smaller output.
type LevelRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Contains reports whether level lies inside the range.
func (r LevelRange) Contains(level int) bool {
	return level >= r.Min && level <= r.Max
}

// CodecBackend is a compression implementation with a documented level range.
// It additionally implements Compressor, Decompressor, or both.
type CodecBackend interface {
	Backend
	Levels() LevelRange
}

// Compressor is the optional compress direction of a codec.
//
// Compress must return ErrInvalidLevel, without allocating an output buffer,
// when level is outside Levels().
type Compressor interface {
	Compress(src []byte, level int) ([]byte, error)
}

// Decompressor is the optional decompress direction of a codec.
type Decompressor interface {
	Decompress(src []byte) ([]byte, error)
}

// Sourced is implemented by decode-only codecs. It names the registered
// codec and level whose output the backend expects as input.
type Sourced interface {
	Source() (backendID string, level int)
}

// Exclusive is implemented by backends that keep process-wide mutable state.
// When Exclusive returns true the harness serializes each compress and
// decompress pair on that backend.
type Exclusive interface {
	Exclusive() bool
}

// -----------------------------------------------------------------------------
// Handle
// -----------------------------------------------------------------------------

// Handle is an immutable registry entry.
type Handle struct {
	ID      string
	Backend Backend
	Caps    Capability
}

// Kind returns the capability family.
func (h Handle) Kind() Kind {
	if h.Caps.Has(CapAllocate) {
		return KindAllocation
	}
	return KindCodec
}

// Allocation returns the backend as an AllocationBackend.
func (h Handle) Allocation() (AllocationBackend, bool) {
	a, ok := h.Backend.(AllocationBackend)
	return a, ok
}

// Codec returns the backend as a CodecBackend.
func (h Handle) Codec() (CodecBackend, bool) {
	c, ok := h.Backend.(CodecBackend)
	return c, ok
}

// Compressor returns the compress direction when declared.
func (h Handle) Compressor() (Compressor, bool) {
	if !h.Caps.Has(CapCompress) {
		return nil, false
	}
	c, ok := h.Backend.(Compressor)
	return c, ok
}

// Decompressor returns the decompress direction when declared.
func (h Handle) Decompressor() (Decompressor, bool) {
	if !h.Caps.Has(CapDecompress) {
		return nil, false
	}
	d, ok := h.Backend.(Decompressor)
	return d, ok
}

// Source returns the payload source of a decode-only codec.
func (h Handle) Source() (string, int, bool) {
	s, ok := h.Backend.(Sourced)
	if !ok {
		return "", 0, false
	}
	id, level := s.Source()
	return id, level, true
}

// IsExclusive reports whether the harness must serialize calls to the backend.
func (h Handle) IsExclusive() bool {
	e, ok := h.Backend.(Exclusive)
	return ok && e.Exclusive()
}

// Levels returns the codec level range, or the zero range for allocation
// backends.
func (h Handle) Levels() LevelRange {
	if c, ok := h.Codec(); ok {
		return c.Levels()
	}
	return LevelRange{}
}

// checkCapabilities verifies that declared capabilities match the value.
func checkCapabilities(b Backend) (Capability, bool) {
	caps := b.Capabilities()
	switch {
	case caps == 0:
		return caps, false
	case caps.Has(CapAllocate):
		if caps != CapAllocate {
			return caps, false
		}
		_, ok := b.(AllocationBackend)
		return caps, ok
	}

	if _, ok := b.(CodecBackend); !ok {
		return caps, false
	}
	if caps.Has(CapCompress) {
		if _, ok := b.(Compressor); !ok {
			return caps, false
		}
	}
	if caps.Has(CapDecompress) {
		if _, ok := b.(Decompressor); !ok {
			return caps, false
		}
	}
	return caps, true
}
