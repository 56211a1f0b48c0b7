// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package harness

import (
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// DefaultSourceCacheSize is the number of payloads kept by NewRunner.
const DefaultSourceCacheSize = 64

// SourceKey identifies a compressed payload: the input fingerprint and the
// codec and level that produced it.
type SourceKey struct {
	Fingerprint uint64
	BackendID   string
	Level       int
}

func (k SourceKey) String() string {
	return fmt.Sprintf("%016x/%s/%d", k.Fingerprint, k.BackendID, k.Level)
}

// SourceCache holds untimed compressed payloads for decompress-only runs.
//
// Description:
//
//	Payloads are produced at most once per key, even under concurrent
//	callers, and evicted least-recently-used. Returned slices are shared
//	and must be treated as read-only.
//
// Thread Safety: Safe for concurrent use.
type SourceCache struct {
	cache  *lru.Cache[SourceKey, []byte]
	group  singleflight.Group
	hits   atomic.Int64
	misses atomic.Int64
}

// NewSourceCache returns a cache holding up to size payloads.
func NewSourceCache(size int) (*SourceCache, error) {
	c, err := lru.New[SourceKey, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("source cache: %w", err)
	}
	return &SourceCache{cache: c}, nil
}

// Get returns the payload for key, calling produce on a miss. Errors are
// not cached.
func (c *SourceCache) Get(key SourceKey, produce func() ([]byte, error)) ([]byte, error) {
	if p, ok := c.cache.Get(key); ok {
		c.hits.Add(1)
		return p, nil
	}

	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		if p, ok := c.cache.Get(key); ok {
			c.hits.Add(1)
			return p, nil
		}
		c.misses.Add(1)
		p, err := produce()
		if err != nil {
			return nil, err
		}
		c.cache.Add(key, p)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Len returns the number of cached payloads.
func (c *SourceCache) Len() int { return c.cache.Len() }

// Stats returns the hit and miss counts.
func (c *SourceCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Purge drops every payload.
func (c *SourceCache) Purge() { c.cache.Purge() }
