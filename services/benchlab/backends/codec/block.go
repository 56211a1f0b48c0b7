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
	"io"

	"github.com/AleutianAI/benchlab/services/benchlab/backend"
	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/s2"
	"github.com/pierrec/lz4/v4"
)

// -----------------------------------------------------------------------------
// S2
// -----------------------------------------------------------------------------

var s2Levels = backend.LevelRange{Min: 1, Max: 3}

// S2 is the S2 block codec. Level 1 is the default encoder, 2 the better
// encoder and 3 the best encoder.
type S2 struct{}

// NewS2 returns the S2 codec.
func NewS2() *S2 { return &S2{} }

// Capabilities implements backend.Backend.
func (*S2) Capabilities() backend.Capability { return backend.CapRoundTrip }

// Levels implements backend.CodecBackend.
func (*S2) Levels() backend.LevelRange { return s2Levels }

// Compress implements backend.Compressor.
func (*S2) Compress(src []byte, level int) ([]byte, error) {
	switch level {
	case 1:
		return s2.Encode(nil, src), nil
	case 2:
		return s2.EncodeBetter(nil, src), nil
	case 3:
		return s2.EncodeBest(nil, src), nil
	default:
		return nil, backend.LevelError(IDS2, level, s2Levels)
	}
}

// Decompress implements backend.Decompressor.
func (*S2) Decompress(src []byte) ([]byte, error) {
	out, err := s2.Decode(nil, src)
	if err != nil {
		return nil, corrupt(IDS2, err)
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// LZ4
// -----------------------------------------------------------------------------

var lz4Levels = backend.LevelRange{Min: 0, Max: 9}

var lz4HCLevels = [...]lz4.CompressionLevel{
	lz4.Level1, lz4.Level2, lz4.Level3, lz4.Level4, lz4.Level5,
	lz4.Level6, lz4.Level7, lz4.Level8, lz4.Level9,
}

const (
	lz4Raw   byte = 0
	lz4Block byte = 1
)

// LZ4 is the LZ4 block codec. Buffers carry a 4-byte little-endian original
// size and a one-byte block flag ahead of the block, so decoding needs no
// outside sizing hint. Level 0 is the fast compressor, 1-9 the HC depths.
type LZ4 struct{}

// NewLZ4 returns the LZ4 codec.
func NewLZ4() *LZ4 { return &LZ4{} }

// Capabilities implements backend.Backend.
func (*LZ4) Capabilities() backend.Capability { return backend.CapRoundTrip }

// Levels implements backend.CodecBackend.
func (*LZ4) Levels() backend.LevelRange { return lz4Levels }

// Compress implements backend.Compressor.
func (*LZ4) Compress(src []byte, level int) ([]byte, error) {
	if !lz4Levels.Contains(level) {
		return nil, backend.LevelError(IDLZ4, level, lz4Levels)
	}
	out, err := putSize(make([]byte, 0, sizePrefixLen+1+lz4.CompressBlockBound(len(src))), len(src))
	if err != nil {
		return nil, err
	}
	block := out[sizePrefixLen+1 : cap(out)]

	var n int
	if len(src) > 0 {
		if level == 0 {
			var c lz4.Compressor
			n, err = c.CompressBlock(src, block)
		} else {
			c := lz4.CompressorHC{Level: lz4HCLevels[level-1]}
			n, err = c.CompressBlock(src, block)
		}
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
	}

	if n == 0 {
		out = append(out, lz4Raw)
		return append(out, src...), nil
	}
	out = append(out, lz4Block)
	return out[:sizePrefixLen+1+n], nil
}

// Decompress implements backend.Decompressor.
func (*LZ4) Decompress(src []byte) ([]byte, error) {
	size, payload, err := readSize(IDLZ4, src)
	if err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, corrupt(IDLZ4, fmt.Errorf("missing block flag"))
	}
	flag, payload := payload[0], payload[1:]

	switch flag {
	case lz4Raw:
		if len(payload) != size {
			return nil, corrupt(IDLZ4, fmt.Errorf("raw block of %d bytes, declared %d", len(payload), size))
		}
		return append([]byte(nil), payload...), nil
	case lz4Block:
		out := make([]byte, size)
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, corrupt(IDLZ4, err)
		}
		if n != size {
			return nil, corrupt(IDLZ4, fmt.Errorf("decoded %d bytes, declared %d", n, size))
		}
		return out, nil
	default:
		return nil, corrupt(IDLZ4, fmt.Errorf("unknown block flag %d", flag))
	}
}

// -----------------------------------------------------------------------------
// Brotli
// -----------------------------------------------------------------------------

// brotliWindow is the window size as a base-2 logarithm.
const brotliWindow = 22

// NewBrotli returns the Brotli codec with quality levels 0-11.
func NewBrotli() backend.CodecBackend {
	return &streamCodec{
		id:     IDBrotli,
		levels: backend.LevelRange{Min: brotli.BestSpeed, Max: brotli.BestCompression},
		newWriter: func(w io.Writer, level int) (io.WriteCloser, error) {
			return brotli.NewWriterOptions(w, brotli.WriterOptions{Quality: level, LGWin: brotliWindow}), nil
		},
		newReader: func(r io.Reader) (io.ReadCloser, error) {
			return io.NopCloser(brotli.NewReader(r)), nil
		},
	}
}

// compile-time checks
var (
	_ backend.Compressor   = (*S2)(nil)
	_ backend.Decompressor = (*LZ4)(nil)
	_ backend.Sourced      = (*ZstdRead)(nil)
	_ backend.Sourced      = (*decodeOnly)(nil)
)
