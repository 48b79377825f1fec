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

import (
	"fmt"
	"time"
)

// ValidationError rejects malformed input: a bad request field, a workflow
// definition that fails registration (duplicate step names, forward
// references, cycles), or a malformed page token.
type ValidationError struct {
	// Field names the input that failed (e.g. "task_id", "steps").
	Field string

	// Message describes what is wrong with it.
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// ErrorType implements ErrorClassifier.
func (e *ValidationError) ErrorType() string { return "validation" }

// IsRetryable implements ErrorClassifier.
func (e *ValidationError) IsRetryable() bool { return false }

// NotFoundError is returned when a task (or other named resource) does not
// exist or has expired. An expired record is observationally
// indistinguishable from a deleted one, so TTL expiry surfaces here too.
type NotFoundError struct {
	// Resource is the kind of thing that was looked up (e.g. "task",
	// "workflow", "tool").
	Resource string

	// ID is the identifier that missed.
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrorType implements ErrorClassifier.
func (e *NotFoundError) ErrorType() string { return "not_found" }

// IsRetryable implements ErrorClassifier.
func (e *NotFoundError) IsRetryable() bool { return false }

// ConfigError rejects an unusable deployment configuration: an unknown
// backend selection, a bad log level, an unloadable cloud credential chain.
type ConfigError struct {
	// Key is the configuration option at fault (e.g. "backend",
	// "log-level").
	Key string

	// Reason explains what is wrong with it.
	Reason string

	// Cause is the underlying error, if the option failed while being
	// applied rather than while being parsed.
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error { return e.Cause }

// ErrorType implements ErrorClassifier.
func (e *ConfigError) ErrorType() string { return "config" }

// IsRetryable implements ErrorClassifier. Retrying with the same
// configuration fails identically.
func (e *ConfigError) IsRetryable() bool { return false }

// TimeoutError is returned when an operation exceeds its deadline, such as
// the startup connectivity probe against a remote backend.
type TimeoutError struct {
	// Operation describes what timed out (e.g. "redis ping").
	Operation string

	// Duration is how long the operation ran before the deadline.
	Duration time.Duration

	// Cause is the underlying error, typically context.DeadlineExceeded.
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s operation timed out after %v", e.Operation, e.Duration)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error { return e.Cause }

// ErrorType implements ErrorClassifier.
func (e *TimeoutError) ErrorType() string { return "timeout" }

// IsRetryable implements ErrorClassifier. Timeouts are transient by
// nature; the caller may probe again.
func (e *TimeoutError) IsRetryable() bool { return true }

var (
	_ ErrorClassifier = (*ValidationError)(nil)
	_ ErrorClassifier = (*NotFoundError)(nil)
	_ ErrorClassifier = (*ConfigError)(nil)
	_ ErrorClassifier = (*TimeoutError)(nil)
)
