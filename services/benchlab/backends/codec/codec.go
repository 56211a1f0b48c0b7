// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package codec provides the compression backends.
//
// Every codec documents an inclusive level range where larger levels trade
// speed for smaller output. Compress rejects out-of-range levels with
// backend.ErrInvalidLevel before allocating any output; levels are never
// clamped.
//
// Two-way codecs:
//
//	flate       raw DEFLATE            1-9   klauspost/compress/flate
//	zlib        zlib container         1-9   klauspost/compress/zlib
//	gzip        gzip container         1-9   klauspost/compress/gzip
//	gzip-sized  size-prefixed gzip     1-9   klauspost/compress/gzip
//	gzip-std    gzip container         1-9   compress/gzip
//	zstd        Zstandard, 4 MiB window 1-22  klauspost/compress/zstd
//	s2          S2 block               1-3   klauspost/compress/s2
//	lz4         size-prefixed LZ4 block 0-9  pierrec/lz4/v4
//	brotli      Brotli, lgwin 22       0-11  andybalholm/brotli
//
// Decode-only codecs declare the codec and level producing their input:
//
//	zstd-read   source zstd level 3
//	zlib-read   source zlib level 6 (compress/zlib decoder)
package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/AleutianAI/benchlab/services/benchlab/backend"
)

// Backend ids registered by RegisterDefaults.
const (
	IDFlate     = "flate"
	IDZlib      = "zlib"
	IDGzip      = "gzip"
	IDGzipSized = "gzip-sized"
	IDGzipStd   = "gzip-std"
	IDZlibRead  = "zlib-read"
	IDZstd      = "zstd"
	IDZstdRead  = "zstd-read"
	IDS2        = "s2"
	IDLZ4       = "lz4"
	IDBrotli    = "brotli"
)

// RegisterDefaults registers every codec backend in this package.
func RegisterDefaults(r *backend.Registry) error {
	regs := []struct {
		id string
		b  backend.Backend
	}{
		{IDFlate, NewFlate()},
		{IDZlib, NewZlib()},
		{IDGzip, NewGzip()},
		{IDGzipSized, NewGzipSized()},
		{IDGzipStd, NewGzipStd()},
		{IDZlibRead, NewZlibRead()},
		{IDZstd, NewZstd()},
		{IDZstdRead, NewZstdRead()},
		{IDS2, NewS2()},
		{IDLZ4, NewLZ4()},
		{IDBrotli, NewBrotli()},
	}
	for _, reg := range regs {
		if err := r.Register(reg.id, reg.b); err != nil {
			return err
		}
	}
	return nil
}

// Presets returns the level presets compared by default for each two-way
// codec. Decode-only codecs run once at their source level.
func Presets() map[string][]int {
	return map[string][]int{
		IDFlate:     {1, 6, 9},
		IDZlib:      {1, 6, 9},
		IDGzip:      {1, 6, 9},
		IDGzipSized: {1, 6, 9},
		IDGzipStd:   {1, 6, 9},
		IDZstd:      {1, 3, 5, 7},
		IDS2:        {1, 2, 3},
		IDLZ4:       {0, 9},
		IDBrotli:    {1, 4, 9},
	}
}

// -----------------------------------------------------------------------------
// Stream codec
// -----------------------------------------------------------------------------

// streamCodec adapts a writer/reader pair into a two-way backend.
type streamCodec struct {
	id        string
	levels    backend.LevelRange
	newWriter func(w io.Writer, level int) (io.WriteCloser, error)
	newReader func(r io.Reader) (io.ReadCloser, error)
}

func (c *streamCodec) Capabilities() backend.Capability { return backend.CapRoundTrip }

func (c *streamCodec) Levels() backend.LevelRange { return c.levels }

func (c *streamCodec) Compress(src []byte, level int) ([]byte, error) {
	if !c.levels.Contains(level) {
		return nil, backend.LevelError(c.id, level, c.levels)
	}
	var buf bytes.Buffer
	buf.Grow(len(src)/2 + 64)
	if err := c.encode(&buf, src, level); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *streamCodec) encode(dst io.Writer, src []byte, level int) error {
	w, err := c.newWriter(dst, level)
	if err != nil {
		return fmt.Errorf("%s writer: %w", c.id, err)
	}
	if _, err := w.Write(src); err != nil {
		_ = w.Close()
		return fmt.Errorf("%s write: %w", c.id, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%s close: %w", c.id, err)
	}
	return nil
}

func (c *streamCodec) Decompress(src []byte) ([]byte, error) {
	r, err := c.newReader(bytes.NewReader(src))
	if err != nil {
		return nil, corrupt(c.id, err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, corrupt(c.id, err)
	}
	return out, nil
}

// decodeOnly restricts a stream codec to its decompress direction and names
// the payload source.
type decodeOnly struct {
	inner       *streamCodec
	sourceID    string
	sourceLevel int
}

func (d *decodeOnly) Capabilities() backend.Capability { return backend.CapDecompress }

func (d *decodeOnly) Levels() backend.LevelRange { return backend.LevelRange{} }

func (d *decodeOnly) Decompress(src []byte) ([]byte, error) { return d.inner.Decompress(src) }

func (d *decodeOnly) Source() (string, int) { return d.sourceID, d.sourceLevel }

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func corrupt(id string, err error) error {
	return fmt.Errorf("%w: %s: %v", backend.ErrCorruptInput, id, err)
}

// sizePrefixLen is the length of the little-endian original-size header.
const sizePrefixLen = 4

// maxExpansion bounds how much a declared original size may exceed the
// compressed payload before the header is treated as corrupt.
const maxExpansion = 1100

func putSize(dst []byte, n int) ([]byte, error) {
	if uint64(n) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: input of %d bytes exceeds the 4-byte size header", backend.ErrUnsupported, n)
	}
	return binary.LittleEndian.AppendUint32(dst, uint32(n)), nil
}

func readSize(id string, src []byte) (int, []byte, error) {
	if len(src) < sizePrefixLen {
		return 0, nil, corrupt(id, fmt.Errorf("missing size header"))
	}
	size := int(binary.LittleEndian.Uint32(src))
	payload := src[sizePrefixLen:]
	if size > maxExpansion*(len(payload)+1) {
		return 0, nil, corrupt(id, fmt.Errorf("declared size %d implausible for %d payload bytes", size, len(payload)))
	}
	return size, payload, nil
}
