// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package backend

import (
	"fmt"
	"sync"

	"github.com/AleutianAI/benchlab/pkg/validation"
	"github.com/google/btree"
)

// Registry manages every backend available to a comparison.
//
// Description:
//
//	Backends are registered under a unique id and looked up by that id. Ids
//	are kept in a B-tree so List and ListKind return them in order without
//	re-sorting. Entries are immutable once registered.
//
// Thread Safety: Safe for concurrent use via read-write mutex.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Handle
	order   *btree.BTreeG[string]
	hooks   []RegistrationHook
}

// RegistrationHook is called after a backend is registered or unregistered.
type RegistrationHook func(h Handle, registered bool)

// NewRegistry creates a new empty registry.
//
// Outputs:
//   - *Registry: The new registry. Never nil.
//
// Example:
//
//	registry := backend.NewRegistry()
//	registry.MustRegister("general", alloc.General{})
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]Handle),
		order:   btree.NewOrderedG[string](8),
	}
}

// Register adds a backend under id.
//
// Description:
//
//	Fails without side effects when the id is already taken, so the first
//	registration always wins. The backend's declared capabilities must
//	match the interfaces it implements.
//
// Inputs:
//   - id: Unique id accepted by validation.ValidateName.
//   - b: The backend. Must not be nil.
//
// Outputs:
//   - error: nil on success; ErrInvalidID, ErrNilBackend,
//     ErrCapabilityMismatch or ErrDuplicateBackend otherwise.
//
// Thread Safety: Safe for concurrent use.
func (r *Registry) Register(id string, b Backend) error {
	if err := validation.ValidateName(id); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidID, err)
	}
	if b == nil {
		return fmt.Errorf("%w: %s", ErrNilBackend, id)
	}
	caps, ok := checkCapabilities(b)
	if !ok {
		return fmt.Errorf("%w: %s declares %s", ErrCapabilityMismatch, id, caps)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateBackend, id)
	}

	h := Handle{ID: id, Backend: b, Caps: caps}
	r.entries[id] = h
	r.order.ReplaceOrInsert(id)

	for _, hook := range r.hooks {
		hook(h, true)
	}
	return nil
}

// MustRegister registers a backend and panics on error. Intended for
// start-up wiring only.
func (r *Registry) MustRegister(id string, b Backend) {
	if err := r.Register(id, b); err != nil {
		panic(fmt.Sprintf("backend: failed to register %s: %v", id, err))
	}
}

// Unregister removes a backend.
//
// Outputs:
//   - error: nil on success, ErrUnknownBackend if id is not registered.
//
// Thread Safety: Safe for concurrent use.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, exists := r.entries[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownBackend, id)
	}
	delete(r.entries, id)
	r.order.Delete(id)

	for _, hook := range r.hooks {
		hook(h, false)
	}
	return nil
}

// Get retrieves a backend by id.
//
// Inputs:
//   - id: The backend id.
//
// Outputs:
//   - Handle: The registry entry.
//   - error: ErrUnknownBackend if id is not registered.
//
// Thread Safety: Safe for concurrent use.
//
// Example:
//
//	h, err := registry.Get("zstd")
//	if errors.Is(err, backend.ErrUnknownBackend) {
//	    // configuration error, surface to the caller
//	}
func (r *Registry) Get(id string) (Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, exists := r.entries[id]
	if !exists {
		return Handle{}, fmt.Errorf("%w: %s", ErrUnknownBackend, id)
	}
	return h, nil
}

// List returns every registered id in ascending order.
//
// Thread Safety: Safe for concurrent use.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, r.order.Len())
	r.order.Ascend(func(id string) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}

// ListKind returns the ordered ids of one capability family.
func (r *Registry) ListKind(kind Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	r.order.Ascend(func(id string) bool {
		if r.entries[id].Kind() == kind {
			ids = append(ids, id)
		}
		return true
	})
	return ids
}

// Handles returns every entry in id order.
func (r *Registry) Handles() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Handle, 0, len(r.entries))
	r.order.Ascend(func(id string) bool {
		out = append(out, r.entries[id])
		return true
	})
	return out
}

// Count returns the number of registered backends.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// AddHook adds a registration hook. Hooks run under the registry lock and
// must not call back into the registry.
func (r *Registry) AddHook(hook RegistrationHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, hook)
}
