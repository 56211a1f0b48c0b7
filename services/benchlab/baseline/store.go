// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package baseline

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Store persists baselines by name.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the baseline stored under name, or ErrBaselineNotFound.
	Get(ctx context.Context, name string) (Baseline, error)

	// Set stores b under b.Name, replacing any previous baseline.
	Set(ctx context.Context, b Baseline) error

	// List returns every stored baseline ordered by name.
	List(ctx context.Context) ([]Baseline, error)

	// Delete removes the baseline stored under name, or returns
	// ErrBaselineNotFound.
	Delete(ctx context.Context, name string) error

	// Close releases the store. Later calls return ErrStoreClosed.
	Close() error
}

func sortByName(bs []Baseline) {
	slices.SortFunc(bs, func(a, b Baseline) int { return strings.Compare(a.Name, b.Name) })
}

func checkCtx(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("%w: nil context", ErrInvalidBaseline)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// MemoryStore
// -----------------------------------------------------------------------------

// MemoryStore keeps baselines in a map.
type MemoryStore struct {
	mu     sync.RWMutex
	items  map[string]Baseline
	closed bool
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]Baseline)}
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, name string) (Baseline, error) {
	if err := checkCtx(ctx); err != nil {
		return Baseline{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Baseline{}, ErrStoreClosed
	}
	b, ok := s.items[name]
	if !ok {
		return Baseline{}, fmt.Errorf("%w: %s", ErrBaselineNotFound, name)
	}
	return b, nil
}

// Set implements Store.
func (s *MemoryStore) Set(ctx context.Context, b Baseline) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if err := b.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.items[b.Name] = b
	return nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context) ([]Baseline, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	out := make([]Baseline, 0, len(s.items))
	for _, b := range s.items {
		out = append(out, b)
	}
	sortByName(out)
	return out, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, name string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if _, ok := s.items[name]; !ok {
		return fmt.Errorf("%w: %s", ErrBaselineNotFound, name)
	}
	delete(s.items, name)
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
