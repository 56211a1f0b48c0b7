// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workload builds the deterministic inputs every backend is measured on.
//
// A Descriptor pairs an immutable corpus with an iteration count and a fanout.
// Allocation backends replay it as `iterations` outer containers of `fanout`
// corpus copies each. Codec backends read the corpus bytes directly.
//
// Everything in this package is pure: the same arguments always produce the
// same descriptor and the same bytes.
package workload

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// -----------------------------------------------------------------------------
// Defaults
// -----------------------------------------------------------------------------

const (
	// DefaultCorpus is the seed text used when no corpus is configured.
	DefaultCorpus = "helloworld"

	// DefaultIterations is the outer allocation count used when none is configured.
	DefaultIterations = 100_000

	// DefaultFanout is the number of corpus copies per outer container.
	DefaultFanout = 5
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrInvalidWorkload indicates descriptor parameters out of range.
	ErrInvalidWorkload = errors.New("invalid workload")

	// ErrUnknownBytesKind indicates an unsupported generated-bytes kind.
	ErrUnknownBytesKind = errors.New("unknown bytes kind")
)

// -----------------------------------------------------------------------------
// Descriptor
// -----------------------------------------------------------------------------

// Descriptor is the immutable set of parameters defining one benchmark run.
//
// Description:
//
//	Created once per run with Generate and shared read-only by every backend
//	invocation. The corpus is held privately; Corpus returns it without
//	copying, so callers must treat the slice as read-only.
//
// Thread Safety: Immutable after creation; safe for concurrent read access.
type Descriptor struct {
	corpus     []byte
	iterations int
	fanout     int
}

// Generate builds a Descriptor.
//
// Description:
//
//	Validates the parameters and takes a private copy of the corpus so later
//	mutation of the caller's slice cannot change the workload mid-run.
//
// Inputs:
//   - corpus: Seed bytes. Must not be nil; may be empty.
//   - iterations: Number of outer containers. Must be >= 0.
//   - fanout: Number of corpus copies per container. Must be >= 1.
//
// Outputs:
//   - Descriptor: The workload.
//   - error: ErrInvalidWorkload describing the first violated constraint.
//
// Example:
//
//	w, err := workload.Generate([]byte("hello"), 3, 5)
//	// w.TotalAllocations() == 15
func Generate(corpus []byte, iterations, fanout int) (Descriptor, error) {
	if corpus == nil {
		return Descriptor{}, fmt.Errorf("%w: corpus must not be nil", ErrInvalidWorkload)
	}
	if iterations < 0 {
		return Descriptor{}, fmt.Errorf("%w: iterations must be >= 0, got %d", ErrInvalidWorkload, iterations)
	}
	if fanout < 1 {
		return Descriptor{}, fmt.Errorf("%w: fanout must be >= 1, got %d", ErrInvalidWorkload, fanout)
	}

	owned := make([]byte, len(corpus))
	copy(owned, corpus)
	return Descriptor{corpus: owned, iterations: iterations, fanout: fanout}, nil
}

// MustGenerate is like Generate but panics on error. Intended for tests and
// package-level defaults.
func MustGenerate(corpus []byte, iterations, fanout int) Descriptor {
	d, err := Generate(corpus, iterations, fanout)
	if err != nil {
		panic(err)
	}
	return d
}

// Default returns the descriptor for DefaultCorpus, DefaultIterations and
// DefaultFanout.
func Default() Descriptor {
	return MustGenerate([]byte(DefaultCorpus), DefaultIterations, DefaultFanout)
}

// Corpus returns the workload's seed bytes. The slice must not be modified.
func (d Descriptor) Corpus() []byte { return d.corpus }

// Iterations returns the number of outer containers.
func (d Descriptor) Iterations() int { return d.iterations }

// Fanout returns the number of corpus copies per outer container.
func (d Descriptor) Fanout() int { return d.fanout }

// TotalAllocations returns iterations * fanout, the number of inner buffers
// every allocation backend must produce.
func (d Descriptor) TotalAllocations() int { return d.iterations * d.fanout }

// TotalBytes returns the number of corpus bytes copied by one replay.
func (d Descriptor) TotalBytes() int { return d.TotalAllocations() * len(d.corpus) }

// Fingerprint identifies the workload for caching and baseline matching.
//
// Description:
//
//	xxhash64 over the iteration count, the fanout and the corpus. Two
//	descriptors with the same fingerprint replay identically.
func (d Descriptor) Fingerprint() uint64 {
	var hdr [16]byte
	binary.LittleEndian.PutUint64(hdr[:8], uint64(d.iterations))
	binary.LittleEndian.PutUint64(hdr[8:], uint64(d.fanout))

	h := xxhash.New()
	_, _ = h.Write(hdr[:])
	_, _ = h.Write(d.corpus)
	return h.Sum64()
}

// String renders the descriptor for logs.
func (d Descriptor) String() string {
	return fmt.Sprintf("workload{corpus=%dB iterations=%d fanout=%d}", len(d.corpus), d.iterations, d.fanout)
}
