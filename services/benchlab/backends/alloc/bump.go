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
	"fmt"

	"github.com/AleutianAI/benchlab/services/benchlab/arena"
	"github.com/AleutianAI/benchlab/services/benchlab/backend"
	"github.com/AleutianAI/benchlab/services/benchlab/workload"
)

// Bump builds the workload inside a fresh arena and releases it in one step.
//
// Description:
//
//	Bytes come from an arena.Arena, slice headers and rows from arena.Slab
//	values, so the whole structure lives in arena chunks. The arena's
//	lifetime is exactly one Run call.
type Bump struct {
	chunkSize int
}

// NewBump creates a Bump backend. Non-positive chunk sizes select
// arena.DefaultChunkSize.
func NewBump(chunkSize int) Bump {
	return Bump{chunkSize: chunkSize}
}

// Capabilities implements backend.Backend.
func (Bump) Capabilities() backend.Capability { return backend.CapAllocate }

// Run implements backend.AllocationBackend.
func (b Bump) Run(w workload.Descriptor) (backend.AllocationReport, error) {
	bytes := arena.New(b.chunkSize)
	headers := arena.NewSlab[[]byte](0)
	rows := arena.NewSlab[[][]byte](0)
	defer func() {
		bytes.Release()
		headers.Release()
		rows.Release()
	}()

	corpus := w.Corpus()
	var outer [][][]byte
	for i := 0; i < w.Iterations(); i++ {
		var row [][]byte
		for j := 0; j < w.Fanout(); j++ {
			row = arena.Append(headers, row, bytes.Copy(corpus))
		}
		outer = arena.Append(rows, outer, row)
	}
	return report(outer), nil
}

// BumpSized is Bump with every arena sized up front from the workload, so a
// repetition allocates exactly one chunk per arena.
type BumpSized struct{}

// Capabilities implements backend.Backend.
func (BumpSized) Capabilities() backend.Capability { return backend.CapAllocate }

// Run implements backend.AllocationBackend.
func (BumpSized) Run(w workload.Descriptor) (backend.AllocationReport, error) {
	capacity, err := arena.CapacityFor(len(w.Corpus()), w.Iterations(), w.Fanout())
	if err != nil {
		return backend.AllocationReport{}, fmt.Errorf("size arena: %w", err)
	}

	bytes := arena.WithCapacity(capacity)
	headers := arena.SlabWithCapacity[[]byte](w.TotalAllocations())
	rows := arena.SlabWithCapacity[[][]byte](w.Iterations())
	defer func() {
		bytes.Release()
		headers.Release()
		rows.Release()
	}()

	corpus := w.Corpus()
	outer := rows.Make(w.Iterations())
	for i := 0; i < w.Iterations(); i++ {
		row := headers.Make(w.Fanout())
		for j := 0; j < w.Fanout(); j++ {
			row = append(row, bytes.Copy(corpus))
		}
		outer = append(outer, row)
	}
	return report(outer), nil
}
