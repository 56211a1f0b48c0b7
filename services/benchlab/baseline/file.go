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
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/benchlab/pkg/validation"
	"github.com/gofrs/flock"
)

const (
	lockFileName = "BASELINE.LOCK"
	fileSuffix   = ".json"

	// lockRetry is the polling interval while another process holds the lock.
	lockRetry = 20 * time.Millisecond
)

// FileStore keeps one JSON file per baseline in a directory. A file lock in
// the directory serializes writers across processes; readers share it.
//
// Thread Safety: Safe for concurrent use, including from other processes
// sharing the directory.
type FileStore struct {
	dir    string
	closed atomic.Bool

	// mu serializes in-process callers; a Flock tracks one lock state per
	// value, so goroutines cannot share it.
	mu   sync.Mutex
	lock *flock.Flock
}

// OpenFileStore opens or creates a store in dir.
func OpenFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("directory is required for file baseline store")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create baseline directory %s: %w", dir, err)
	}
	return &FileStore{dir: dir, lock: flock.New(filepath.Join(dir, lockFileName))}, nil
}

// Dir returns the store directory.
func (s *FileStore) Dir() string { return s.dir }

// path maps a name onto a file inside the directory.
func (s *FileStore) path(name string) (string, error) {
	if err := validation.ValidateName(name); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidBaseline, err)
	}
	return filepath.Join(s.dir, name+fileSuffix), nil
}

func (s *FileStore) withLock(ctx context.Context, exclusive bool, fn func() error) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrStoreClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var locked bool
	var err error
	if exclusive {
		locked, err = s.lock.TryLockContext(ctx, lockRetry)
	} else {
		locked, err = s.lock.TryRLockContext(ctx, lockRetry)
	}
	if err != nil {
		return fmt.Errorf("lock %s: %w", s.dir, err)
	}
	if !locked {
		return fmt.Errorf("lock %s: not acquired", s.dir)
	}
	defer func() { _ = s.lock.Unlock() }()

	return fn()
}

// Get implements Store.
func (s *FileStore) Get(ctx context.Context, name string) (Baseline, error) {
	p, err := s.path(name)
	if err != nil {
		return Baseline{}, err
	}
	var b Baseline
	err = s.withLock(ctx, false, func() error {
		var rerr error
		b, rerr = readBaseline(p)
		return rerr
	})
	if errors.Is(err, fs.ErrNotExist) {
		return Baseline{}, fmt.Errorf("%w: %s", ErrBaselineNotFound, name)
	}
	return b, err
}

// Set implements Store. The file is replaced atomically.
func (s *FileStore) Set(ctx context.Context, b Baseline) error {
	if err := b.Validate(); err != nil {
		return err
	}
	p, err := s.path(b.Name)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("encode baseline %s: %w", b.Name, err)
	}

	return s.withLock(ctx, true, func() error {
		tmp, err := os.CreateTemp(s.dir, "."+b.Name+"-*")
		if err != nil {
			return fmt.Errorf("create temp file: %w", err)
		}
		defer os.Remove(tmp.Name())

		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			return fmt.Errorf("write %s: %w", tmp.Name(), err)
		}
		if err := tmp.Sync(); err != nil {
			tmp.Close()
			return fmt.Errorf("sync %s: %w", tmp.Name(), err)
		}
		if err := tmp.Close(); err != nil {
			return fmt.Errorf("close %s: %w", tmp.Name(), err)
		}
		return os.Rename(tmp.Name(), p)
	})
}

// List implements Store.
func (s *FileStore) List(ctx context.Context) ([]Baseline, error) {
	var out []Baseline
	err := s.withLock(ctx, false, func() error {
		entries, err := os.ReadDir(s.dir)
		if err != nil {
			return fmt.Errorf("read %s: %w", s.dir, err)
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileSuffix) {
				continue
			}
			b, err := readBaseline(filepath.Join(s.dir, name))
			if err != nil {
				return err
			}
			out = append(out, b)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortByName(out)
	return out, nil
}

// Delete implements Store.
func (s *FileStore) Delete(ctx context.Context, name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	err = s.withLock(ctx, true, func() error { return os.Remove(p) })
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrBaselineNotFound, name)
	}
	return err
}

// Close implements Store.
func (s *FileStore) Close() error {
	s.closed.Store(true)
	return nil
}

func readBaseline(path string) (Baseline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Baseline{}, err
	}
	var b Baseline
	if err := json.Unmarshal(data, &b); err != nil {
		return Baseline{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return b, nil
}
