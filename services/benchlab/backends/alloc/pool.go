// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package alloc

import (
	"sync"

	"github.com/AleutianAI/benchlab/services/benchlab/backend"
	"github.com/AleutianAI/benchlab/services/benchlab/workload"
	"github.com/lesismal/nbio/mempool"
)

// Pool draws corpus buffers from a sync.Pool and returns all of them when
// the repetition ends. Buffers survive between Run calls inside the pool,
// so the first repetition runs against a cold pool and later ones reuse warm
// buffers; that reuse is the strategy being measured. No data is carried
// over: every Run copies the corpus into each buffer it takes.
type Pool struct {
	pool *sync.Pool
}

// NewPool creates a Pool backend with an empty buffer pool.
func NewPool() *Pool {
	return &Pool{
		pool: &sync.Pool{
			New: func() any {
				buf := make([]byte, 0, 64)
				return &buf
			},
		},
	}
}

// Capabilities implements backend.Backend.
func (*Pool) Capabilities() backend.Capability { return backend.CapAllocate }

// Run implements backend.AllocationBackend.
func (p *Pool) Run(w workload.Descriptor) (backend.AllocationReport, error) {
	corpus := w.Corpus()
	taken := make([]*[]byte, 0, w.TotalAllocations())
	defer func() {
		for _, bp := range taken {
			*bp = (*bp)[:0]
			p.pool.Put(bp)
		}
	}()

	var outer [][][]byte
	for i := 0; i < w.Iterations(); i++ {
		var row [][]byte
		for j := 0; j < w.Fanout(); j++ {
			bp := p.pool.Get().(*[]byte)
			*bp = append((*bp)[:0], corpus...)
			taken = append(taken, bp)
			row = append(row, *bp)
		}
		outer = append(outer, row)
	}
	return report(outer), nil
}

// Mempool allocates corpus copies with the nbio mempool allocator and frees
// them together at the end of the repetition.
type Mempool struct{}

// Capabilities implements backend.Backend.
func (Mempool) Capabilities() backend.Capability { return backend.CapAllocate }

// Run implements backend.AllocationBackend.
func (Mempool) Run(w workload.Descriptor) (backend.AllocationReport, error) {
	corpus := w.Corpus()
	var outer [][][]byte
	defer func() {
		for _, row := range outer {
			for _, buf := range row {
				mempool.Free(buf)
			}
		}
	}()

	for i := 0; i < w.Iterations(); i++ {
		var row [][]byte
		for j := 0; j < w.Fanout(); j++ {
			buf := mempool.Malloc(len(corpus))
			copy(buf, corpus)
			row = append(row, buf)
		}
		outer = append(outer, row)
	}
	return report(outer), nil
}
