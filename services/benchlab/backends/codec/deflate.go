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
	"bytes"
	stdgzip "compress/gzip"
	stdzlib "compress/zlib"
	"errors"
	"fmt"
	"io"

	"github.com/AleutianAI/benchlab/services/benchlab/backend"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

var deflateLevels = backend.LevelRange{Min: 1, Max: 9}

// NewFlate returns the raw DEFLATE codec.
func NewFlate() backend.CodecBackend {
	return &streamCodec{
		id:     IDFlate,
		levels: deflateLevels,
		newWriter: func(w io.Writer, level int) (io.WriteCloser, error) {
			return flate.NewWriter(w, level)
		},
		newReader: func(r io.Reader) (io.ReadCloser, error) {
			return flate.NewReader(r), nil
		},
	}
}

// NewZlib returns the zlib container codec.
func NewZlib() backend.CodecBackend {
	return &streamCodec{
		id:     IDZlib,
		levels: deflateLevels,
		newWriter: func(w io.Writer, level int) (io.WriteCloser, error) {
			return zlib.NewWriterLevel(w, level)
		},
		newReader: func(r io.Reader) (io.ReadCloser, error) {
			return zlib.NewReader(r)
		},
	}
}

func newGzipStream(id string) *streamCodec {
	return &streamCodec{
		id:     id,
		levels: deflateLevels,
		newWriter: func(w io.Writer, level int) (io.WriteCloser, error) {
			return gzip.NewWriterLevel(w, level)
		},
		newReader: func(r io.Reader) (io.ReadCloser, error) {
			return gzip.NewReader(r)
		},
	}
}

// NewGzip returns the gzip container codec.
func NewGzip() backend.CodecBackend {
	return newGzipStream(IDGzip)
}

// NewGzipStd returns the standard library gzip codec.
func NewGzipStd() backend.CodecBackend {
	return &streamCodec{
		id:     IDGzipStd,
		levels: deflateLevels,
		newWriter: func(w io.Writer, level int) (io.WriteCloser, error) {
			return stdgzip.NewWriterLevel(w, level)
		},
		newReader: func(r io.Reader) (io.ReadCloser, error) {
			return stdgzip.NewReader(r)
		},
	}
}

// NewZlibRead returns the decode-only standard library zlib codec. Its input
// is produced by the zlib backend at level 6.
func NewZlibRead() backend.CodecBackend {
	return &decodeOnly{
		inner: &streamCodec{
			id: IDZlibRead,
			newReader: func(r io.Reader) (io.ReadCloser, error) {
				return stdzlib.NewReader(r)
			},
		},
		sourceID:    IDZlib,
		sourceLevel: 6,
	}
}

// -----------------------------------------------------------------------------
// Size-prefixed gzip
// -----------------------------------------------------------------------------

// GzipSized is gzip with the original length carried in a 4-byte
// little-endian header, so the decoder allocates its output exactly once.
// The length travels with the buffer; no state is shared between calls.
type GzipSized struct {
	gz *streamCodec
}

// NewGzipSized returns the size-prefixed gzip codec.
func NewGzipSized() *GzipSized {
	return &GzipSized{gz: newGzipStream(IDGzipSized)}
}

// Capabilities implements backend.Backend.
func (g *GzipSized) Capabilities() backend.Capability { return backend.CapRoundTrip }

// Levels implements backend.CodecBackend.
func (g *GzipSized) Levels() backend.LevelRange { return deflateLevels }

// Compress implements backend.Compressor.
func (g *GzipSized) Compress(src []byte, level int) ([]byte, error) {
	if !deflateLevels.Contains(level) {
		return nil, backend.LevelError(IDGzipSized, level, deflateLevels)
	}
	hdr, err := putSize(make([]byte, 0, sizePrefixLen), len(src))
	if err != nil {
		return nil, err
	}
	buf := bytes.NewBuffer(hdr)
	buf.Grow(len(src)/2 + 64)
	if err := g.gz.encode(buf, src, level); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress implements backend.Decompressor.
func (g *GzipSized) Decompress(src []byte) ([]byte, error) {
	size, payload, err := readSize(IDGzipSized, src)
	if err != nil {
		return nil, err
	}
	r, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, corrupt(IDGzipSized, err)
	}
	defer r.Close()

	out := make([]byte, size)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, corrupt(IDGzipSized, fmt.Errorf("short stream for %d bytes: %w", size, err))
	}
	var probe [1]byte
	if n, err := r.Read(probe[:]); n != 0 || !errors.Is(err, io.EOF) {
		return nil, corrupt(IDGzipSized, fmt.Errorf("stream longer than declared %d bytes", size))
	}
	return out, nil
}
