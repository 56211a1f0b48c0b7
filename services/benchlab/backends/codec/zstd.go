// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package codec

import (
	"fmt"

	"github.com/AleutianAI/benchlab/services/benchlab/backend"
	"github.com/klauspost/compress/zstd"
)

// zstdWindow is the encoder window, 2^22 bytes.
const zstdWindow = 1 << 22

var zstdLevels = backend.LevelRange{Min: 1, Max: 22}

// Zstd is the Zstandard codec. Levels follow the reference 1-22 scale and
// map onto the encoder's speed presets. Encoders and decoders are created
// per call so their setup cost is part of every measurement.
type Zstd struct{}

// NewZstd returns the Zstandard codec.
func NewZstd() *Zstd { return &Zstd{} }

// Capabilities implements backend.Backend.
func (*Zstd) Capabilities() backend.Capability { return backend.CapRoundTrip }

// Levels implements backend.CodecBackend.
func (*Zstd) Levels() backend.LevelRange { return zstdLevels }

// Compress implements backend.Compressor.
func (*Zstd) Compress(src []byte, level int) ([]byte, error) {
	if !zstdLevels.Contains(level) {
		return nil, backend.LevelError(IDZstd, level, zstdLevels)
	}
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
		zstd.WithWindowSize(zstdWindow),
		zstd.WithEncoderConcurrency(1),
		zstd.WithZeroFrames(true),
	)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(src, make([]byte, 0, len(src)/2+64)), nil
}

// Decompress implements backend.Decompressor.
func (*Zstd) Decompress(src []byte) ([]byte, error) {
	return zstdDecode(IDZstd, src)
}

func zstdDecode(id string, src []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	defer dec.Close()

	out, err := dec.DecodeAll(src, nil)
	if err != nil {
		return nil, corrupt(id, err)
	}
	return out, nil
}

// ZstdRead is the decode-only Zstandard backend. Its input is produced by
// the zstd backend at level 3.
type ZstdRead struct{}

// NewZstdRead returns the decode-only Zstandard backend.
func NewZstdRead() *ZstdRead { return &ZstdRead{} }

// Capabilities implements backend.Backend.
func (*ZstdRead) Capabilities() backend.Capability { return backend.CapDecompress }

// Levels implements backend.CodecBackend.
func (*ZstdRead) Levels() backend.LevelRange { return backend.LevelRange{} }

// Decompress implements backend.Decompressor.
func (*ZstdRead) Decompress(src []byte) ([]byte, error) {
	return zstdDecode(IDZstdRead, src)
}

// Source implements backend.Sourced.
func (*ZstdRead) Source() (string, int) { return IDZstd, 3 }
