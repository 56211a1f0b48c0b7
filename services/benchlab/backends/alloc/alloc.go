// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package alloc provides the allocation-strategy backends.
//
// Every backend replays the same workload shape: an outer container that
// receives one inner container per iteration, each inner container holding
// fanout fresh copies of the corpus. Only the memory strategy differs:
//
//	general     Go heap via make/append
//	bump        chunked arena, released in bulk after the repetition
//	bump-sized  arena pre-sized from the workload dimensions
//	pool        sync.Pool recycled buffers, returned in bulk
//	mempool     nbio mempool Malloc/Free
package alloc

import (
	"runtime"

	"github.com/AleutianAI/benchlab/services/benchlab/backend"
	"github.com/AleutianAI/benchlab/services/benchlab/workload"
)

// Backend ids registered by RegisterDefaults.
const (
	IDGeneral   = "general"
	IDBump      = "bump"
	IDBumpSized = "bump-sized"
	IDPool      = "pool"
	IDMempool   = "mempool"
)

// RegisterDefaults registers every allocation backend in this package.
//
// Outputs:
//   - error: The joined registration errors, if any.
func RegisterDefaults(r *backend.Registry) error {
	regs := []struct {
		id string
		b  backend.Backend
	}{
		{IDGeneral, General{}},
		{IDBump, NewBump(0)},
		{IDBumpSized, BumpSized{}},
		{IDPool, NewPool()},
		{IDMempool, Mempool{}},
	}
	for _, reg := range regs {
		if err := r.Register(reg.id, reg.b); err != nil {
			return err
		}
	}
	return nil
}

// report counts what a replay produced. Walking the containers keeps the
// count honest: it reflects what was built, not what was requested.
func report(outer [][][]byte) backend.AllocationReport {
	rep := backend.AllocationReport{FinalContainerCount: len(outer)}
	for _, row := range outer {
		rep.InnerBuffers += len(row)
		for _, buf := range row {
			rep.Bytes += len(buf)
		}
	}
	return rep
}

// -----------------------------------------------------------------------------
// General
// -----------------------------------------------------------------------------

// General allocates every container and copy on the Go heap.
type General struct{}

// Capabilities implements backend.Backend.
func (General) Capabilities() backend.Capability { return backend.CapAllocate }

// Run implements backend.AllocationBackend.
func (General) Run(w workload.Descriptor) (backend.AllocationReport, error) {
	corpus := w.Corpus()
	var outer [][][]byte
	for i := 0; i < w.Iterations(); i++ {
		var row [][]byte
		for j := 0; j < w.Fanout(); j++ {
			buf := make([]byte, len(corpus))
			copy(buf, corpus)
			row = append(row, buf)
		}
		outer = append(outer, row)
	}
	rep := report(outer)
	runtime.KeepAlive(outer)
	return rep, nil
}
