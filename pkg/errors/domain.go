// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errors

import "fmt"

// The task store and router surface a small, stable set of error kinds.
// Each implements ErrorClassifier so callers can branch on ErrorType()
// without type-switching on concrete structs, and IsRetryable() so a
// generic retry wrapper can decide whether to loop.

// VersionConflictError signals that a CAS write lost a race: the version
// supplied by the caller no longer matches what the backend holds.
type VersionConflictError struct {
	// Expected is the version the caller believed was current.
	Expected uint64

	// Actual is the version the backend observed, if it chose to report it.
	// Backends are not required to populate this: skipping the extra read
	// keeps the conflict path cheap.
	Actual *uint64
}

// Error implements the error interface.
func (e *VersionConflictError) Error() string {
	if e.Actual != nil {
		return fmt.Sprintf("version conflict: expected %d, actual %d", e.Expected, *e.Actual)
	}
	return fmt.Sprintf("version conflict: expected %d", e.Expected)
}

// ErrorType implements ErrorClassifier.
func (e *VersionConflictError) ErrorType() string { return "version_conflict" }

// IsRetryable implements ErrorClassifier. Conflicts are the canonical
// retryable condition: the caller reloads and tries again under its CAS
// retry budget.
func (e *VersionConflictError) IsRetryable() bool { return true }

// SizeExceededError is returned when a record's serialized variables would
// exceed the configured ceiling. The write is rejected before it reaches the
// backend and before the version is incremented.
type SizeExceededError struct {
	// Limit is the configured ceiling in bytes.
	Limit int

	// Size is the size the write would have produced.
	Size int
}

// Error implements the error interface.
func (e *SizeExceededError) Error() string {
	return fmt.Sprintf("variables size %d bytes exceeds limit of %d bytes", e.Size, e.Limit)
}

// ErrorType implements ErrorClassifier.
func (e *SizeExceededError) ErrorType() string { return "size_exceeded" }

// IsRetryable implements ErrorClassifier. Retrying with the same payload
// will fail identically; the caller must prune variables first.
func (e *SizeExceededError) IsRetryable() bool { return false }

// BackendError wraps an opaque storage backend I/O failure. Retryability is
// the caller's policy, not something the backend can know in general, so it
// defaults to false; callers that know better (e.g. a transient network
// error) should consult Cause directly.
type BackendError struct {
	// Op names the backend operation that failed (e.g. "get", "put_if_version").
	Op string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *BackendError) Unwrap() error { return e.Cause }

// ErrorType implements ErrorClassifier.
func (e *BackendError) ErrorType() string { return "backend" }

// IsRetryable implements ErrorClassifier.
func (e *BackendError) IsRetryable() bool { return false }

// InternalError marks a should-not-happen invariant violation: the kind of
// condition that triggers a warn-level trace internally and is surfaced to
// the client as a generic failure, never as implementation detail.
type InternalError struct {
	// Reason is an internal-facing description. Never shown verbatim to
	// external callers; routers should log it and return a generic message.
	Reason string
}

// Error implements the error interface.
func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error: %s", e.Reason)
}

// ErrorType implements ErrorClassifier.
func (e *InternalError) ErrorType() string { return "internal" }

// IsRetryable implements ErrorClassifier.
func (e *InternalError) IsRetryable() bool { return false }

var (
	_ ErrorClassifier = (*VersionConflictError)(nil)
	_ ErrorClassifier = (*SizeExceededError)(nil)
	_ ErrorClassifier = (*BackendError)(nil)
	_ ErrorClassifier = (*InternalError)(nil)
)
