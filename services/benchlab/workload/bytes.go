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
	"fmt"
	"math/rand/v2"
)

// BytesKind selects the content shape of generated codec inputs.
type BytesKind string

const (
	// KindRandom is incompressible seeded noise.
	KindRandom BytesKind = "random"

	// KindCompressible is seeded prose-like text drawn from a small dictionary.
	KindCompressible BytesKind = "compressible"

	// KindZeros is a run of zero bytes.
	KindZeros BytesKind = "zeros"

	// KindText repeats a caller-supplied seed text.
	KindText BytesKind = "text"
)

// BytesSpec describes a generated codec input.
type BytesSpec struct {
	Kind BytesKind `yaml:"kind" json:"kind" validate:"required,oneof=random compressible zeros text"`
	Size int       `yaml:"size" json:"size" validate:"gte=0"`
	Seed uint64    `yaml:"seed" json:"seed"`

	// Text is the repeated content for KindText.
	Text string `yaml:"text,omitempty" json:"text,omitempty"`
}

var dictionary = []string{
	"alloc", "arena", "bump", "buffer", "codec", "deflate", "frame", "heap",
	"level", "match", "offset", "pool", "ratio", "stream", "window", "zstd",
	"the", "of", "and", "a", "to", "in", "is", "for",
}

// GenerateBytes returns deterministic content described by spec.
//
// Description:
//
//	The same spec always yields the same bytes, so payloads are reproducible
//	across processes and machines. Random and compressible kinds use a
//	PCG source seeded from spec.Seed.
//
// Inputs:
//   - spec: Kind, size and seed of the buffer.
//
// Outputs:
//   - []byte: Exactly spec.Size bytes.
//   - error: ErrInvalidWorkload for negative sizes or an empty text seed,
//     ErrUnknownBytesKind for unsupported kinds.
func GenerateBytes(spec BytesSpec) ([]byte, error) {
	if spec.Size < 0 {
		return nil, fmt.Errorf("%w: size must be >= 0, got %d", ErrInvalidWorkload, spec.Size)
	}

	out := make([]byte, spec.Size)
	rng := rand.New(rand.NewPCG(spec.Seed, spec.Seed^0x9e3779b97f4a7c15))

	switch spec.Kind {
	case KindZeros:
	case KindRandom:
		for i := 0; i+8 <= len(out); i += 8 {
			v := rng.Uint64()
			for j := 0; j < 8; j++ {
				out[i+j] = byte(v >> (8 * j))
			}
		}
		for i := len(out) &^ 7; i < len(out); i++ {
			out[i] = byte(rng.Uint32())
		}
	case KindCompressible:
		pos := 0
		for pos < len(out) {
			word := dictionary[rng.IntN(len(dictionary))]
			pos += copy(out[pos:], word)
			if pos < len(out) {
				out[pos] = ' '
				pos++
			}
		}
	case KindText:
		if spec.Size > 0 && spec.Text == "" {
			return nil, fmt.Errorf("%w: text kind needs a non-empty seed text", ErrInvalidWorkload)
		}
		for pos := 0; pos < len(out); {
			pos += copy(out[pos:], spec.Text)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBytesKind, spec.Kind)
	}
	return out, nil
}
