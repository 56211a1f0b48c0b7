// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation for names that end up in
// file paths, storage keys and metric labels.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidName indicates a name that fails ValidateName.
var ErrInvalidName = errors.New("invalid name")

// MaxNameLength is the longest accepted name.
const MaxNameLength = 64

// namePattern matches backend ids and baseline names.
// Allows: letters, digits, dots, underscores, plus signs and hyphens, not
// starting with punctuation.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._+\-]{0,63}$`)

// ValidateName validates a backend id or baseline name.
//
// Valid names:
//   - 1-64 characters
//   - Letters and digits
//   - Dots, underscores, plus signs and hyphens after the first character
//
// The result is safe to use as a file name, a badger key suffix and a
// Prometheus label value.
//
// Example:
//
//	if err := validation.ValidateName(id); err != nil {
//	    return fmt.Errorf("register: %w", err)
//	}
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q (must be 1-%d letters, digits, '.', '_', '+' or '-')", ErrInvalidName, name, MaxNameLength)
	}
	return nil
}

// ValidateNames validates every name and lists all invalid ones.
func ValidateNames(names []string) error {
	var invalid []string
	for _, n := range names {
		if err := ValidateName(n); err != nil {
			invalid = append(invalid, n)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("%w: %q", ErrInvalidName, invalid)
	}
	return nil
}

// SanitizeName trims and lowercases name, then validates it.
//
//	id, err := validation.SanitizeName(" ZSTD ")
//	// id == "zstd"
func SanitizeName(name string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if err := ValidateName(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
