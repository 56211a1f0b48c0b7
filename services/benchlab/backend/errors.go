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
	"context"
	"errors"
	"fmt"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrDuplicateBackend indicates an id is already registered.
	ErrDuplicateBackend = errors.New("duplicate backend")

	// ErrUnknownBackend indicates no backend is registered under an id.
	ErrUnknownBackend = errors.New("unknown backend")

	// ErrNilBackend indicates a nil backend was passed to Register.
	ErrNilBackend = errors.New("backend must not be nil")

	// ErrInvalidID indicates an empty or malformed backend id.
	ErrInvalidID = errors.New("invalid backend id")

	// ErrCapabilityMismatch indicates declared capabilities disagree with the
	// interfaces a backend implements.
	ErrCapabilityMismatch = errors.New("capability mismatch")

	// ErrInvalidLevel indicates a compression level outside the backend's range.
	ErrInvalidLevel = errors.New("invalid level")

	// ErrUnsupported indicates the backend lacks the requested operation.
	ErrUnsupported = errors.New("operation not supported")

	// ErrCorruptInput indicates a decoder rejected its input.
	ErrCorruptInput = errors.New("corrupt input")

	// ErrBackendInvocation matches every InvocationError.
	ErrBackendInvocation = errors.New("backend invocation failed")
)

// Op names a backend entry point.
type Op string

const (
	OpRun        Op = "run"
	OpCompress   Op = "compress"
	OpDecompress Op = "decompress"
	OpSource     Op = "source"
)

// InvocationError wraps a failure raised inside a backend call.
//
// Description:
//
//	The harness converts every error or panic escaping a backend into an
//	InvocationError and records it on the failing repetition. It matches
//	both ErrBackendInvocation and its Cause under errors.Is.
type InvocationError struct {
	Backend string
	Op      Op
	Cause   error
}

// Error implements error.
func (e *InvocationError) Error() string {
	return fmt.Sprintf("backend %s %s: %v", e.Backend, e.Op, e.Cause)
}

// Unwrap exposes both the sentinel and the cause.
func (e *InvocationError) Unwrap() []error {
	return []error{ErrBackendInvocation, e.Cause}
}

// Kind returns a short machine-friendly label for the cause.
func (e *InvocationError) Kind() string {
	return ErrorKind(e.Cause)
}

// NewInvocationError wraps cause unless it is already an InvocationError.
func NewInvocationError(id string, op Op, cause error) error {
	var inv *InvocationError
	if errors.As(cause, &inv) {
		return cause
	}
	return &InvocationError{Backend: id, Op: op, Cause: cause}
}

// ErrorKind classifies an error into a stable label used in verdicts,
// metrics and reports.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidLevel):
		return "invalid_level"
	case errors.Is(err, ErrUnsupported):
		return "unsupported"
	case errors.Is(err, ErrCorruptInput):
		return "corrupt_input"
	case errors.Is(err, ErrUnknownBackend):
		return "unknown_backend"
	case errors.Is(err, errPanic):
		return "panic"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "backend_error"
	}
}

// errPanic marks errors recovered from a panicking backend.
var errPanic = errors.New("backend panicked")

// PanicError converts a recovered panic value into an error.
func PanicError(recovered any) error {
	return fmt.Errorf("%w: %v", errPanic, recovered)
}

// LevelError returns ErrInvalidLevel annotated with the backend and range.
func LevelError(id string, level int, r LevelRange) error {
	return fmt.Errorf("%w: %s level %d outside [%d, %d]", ErrInvalidLevel, id, level, r.Min, r.Max)
}
