// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package verify checks backend output against the expected shape.
//
// Verification never mutates its inputs and runs outside the timed region
// of a repetition.
package verify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/AleutianAI/benchlab/services/benchlab/backend"
	"github.com/AleutianAI/benchlab/services/benchlab/workload"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrVerificationFailure matches every *Failure.
	ErrVerificationFailure = errors.New("verification failure")

	// ErrUnknownStatus indicates a verdict status that cannot be decoded.
	ErrUnknownStatus = errors.New("unknown verification status")
)

// Verdict reasons.
const (
	ReasonContentMismatch     = "content mismatch"
	ReasonCountMismatch       = "count mismatch"
	ReasonInnerBufferMismatch = "inner buffer mismatch"
)

// Failure is the error form of a failed verdict.
type Failure struct {
	Reason string
}

// Error implements error.
func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", ErrVerificationFailure, f.Reason)
}

// Unwrap returns ErrVerificationFailure.
func (f *Failure) Unwrap() error { return ErrVerificationFailure }

// -----------------------------------------------------------------------------
// Verdict
// -----------------------------------------------------------------------------

// Status is the outcome class of a verdict.
type Status string

const (
	StatusPass    Status = "pass"
	StatusFail    Status = "fail"
	StatusSkipped Status = "skipped"
)

// Verdict is the verification outcome of one repetition.
//
// The zero value is not a valid verdict; use Pass, Fail or Skipped.
type Verdict struct {
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Pass returns a passing verdict.
func Pass() Verdict { return Verdict{Status: StatusPass} }

// Fail returns a failing verdict with reason.
func Fail(reason string) Verdict { return Verdict{Status: StatusFail, Reason: reason} }

// Skipped returns the verdict of a repetition that was not verified.
func Skipped() Verdict { return Verdict{Status: StatusSkipped} }

// Passed reports whether the verdict is a pass.
func (v Verdict) Passed() bool { return v.Status == StatusPass }

// Failed reports whether the verdict is a failure.
func (v Verdict) Failed() bool { return v.Status == StatusFail }

// Err returns a *Failure for failed verdicts and nil otherwise.
func (v Verdict) Err() error {
	if v.Status != StatusFail {
		return nil
	}
	return &Failure{Reason: v.Reason}
}

// String renders "pass", "skipped" or "fail(<reason>)".
func (v Verdict) String() string {
	if v.Status == StatusFail {
		return fmt.Sprintf("fail(%s)", v.Reason)
	}
	return string(v.Status)
}

// UnmarshalJSON rejects unknown statuses.
func (v *Verdict) UnmarshalJSON(data []byte) error {
	type raw Verdict
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	switch r.Status {
	case StatusPass, StatusFail, StatusSkipped:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStatus, r.Status)
	}
	*v = Verdict(r)
	return nil
}

// FromError converts a backend failure into a verdict labelled by its kind.
func FromError(err error) Verdict {
	if err == nil {
		return Pass()
	}
	var f *Failure
	if errors.As(err, &f) {
		return Fail(f.Reason)
	}
	return Fail(backend.ErrorKind(err))
}

// -----------------------------------------------------------------------------
// Checks
// -----------------------------------------------------------------------------

// RoundTrip compares the original input with the decompressed output.
func RoundTrip(original, decompressed []byte) Verdict {
	if !bytes.Equal(original, decompressed) {
		return Fail(ReasonContentMismatch)
	}
	return Pass()
}

// Allocation checks an allocation report against the workload. An
// InnerBuffers of zero means the backend did not report it.
func Allocation(w workload.Descriptor, r backend.AllocationReport) Verdict {
	if r.FinalContainerCount != w.Iterations() {
		return Fail(ReasonCountMismatch)
	}
	if r.InnerBuffers != 0 && r.InnerBuffers != w.TotalAllocations() {
		return Fail(ReasonInnerBufferMismatch)
	}
	return Pass()
}

// Verifier applies the checks unless disabled.
//
// Thread Safety: Immutable after construction; safe for concurrent use.
type Verifier struct {
	enabled bool
}

// New returns a Verifier. A disabled verifier reports Skipped for every check.
func New(enabled bool) *Verifier {
	return &Verifier{enabled: enabled}
}

// Enabled reports whether checks run.
func (v *Verifier) Enabled() bool { return v.enabled }

// VerifyRoundTrip checks a decompressed buffer against its original.
func (v *Verifier) VerifyRoundTrip(original, decompressed []byte) Verdict {
	if !v.enabled {
		return Skipped()
	}
	return RoundTrip(original, decompressed)
}

// VerifyAllocation checks an allocation report.
func (v *Verifier) VerifyAllocation(w workload.Descriptor, r backend.AllocationReport) Verdict {
	if !v.enabled {
		return Skipped()
	}
	return Allocation(w, r)
}
