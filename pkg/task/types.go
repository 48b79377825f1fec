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

// Package task implements the durable, owner-scoped task record and the
// generic store built on top of a pluggable backend.Backend.
package task

import "time"

// Status is the lifecycle state of a task record.
type Status string

const (
	StatusWorking        Status = "Working"
	StatusInputRequired  Status = "InputRequired"
	StatusCompleted      Status = "Completed"
	StatusFailed         Status = "Failed"
	StatusCancelled      Status = "Cancelled"
)

// IsTerminal reports whether the status is one of the terminal states.
// Status transitions from non-terminal to terminal are one-way.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Error is the structured error recorded on a Failed task. It is distinct
// from the Go error type returned by Store methods: this is the payload
// stored *in* a record, not the error a caller sees when a store call
// itself fails.
type Error struct {
	Message string `json:"message"`
	Detail  any    `json:"detail,omitempty"`
}

// Record is the durable, owner-scoped state of a single task.
type Record struct {
	TaskID    string         `json:"task_id"`
	OwnerID   string         `json:"owner_id"`
	Status    Status         `json:"status"`
	Variables map[string]any `json:"variables"`
	Result    any            `json:"result,omitempty"`
	Error     *Error         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	Version   uint64         `json:"version"`
}

// Result is the projection returned by GetResult: the fields a caller
// needs to observe a task's outcome without exposing internal record
// bookkeeping.
type Result struct {
	Status    Status         `json:"status"`
	Variables map[string]any `json:"variables"`
	Result    any            `json:"result,omitempty"`
	Error     *Error         `json:"error,omitempty"`
}

// clone returns a deep-enough copy of r so that callers cannot mutate the
// store's internal state through a returned record.
func (r *Record) clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Variables = make(map[string]any, len(r.Variables))
	for k, v := range r.Variables {
		cp.Variables[k] = v
	}
	if r.ExpiresAt != nil {
		t := *r.ExpiresAt
		cp.ExpiresAt = &t
	}
	if r.Error != nil {
		e := *r.Error
		cp.Error = &e
	}
	return &cp
}

func (r *Record) toResult() Result {
	return Result{
		Status:    r.Status,
		Variables: r.clone().Variables,
		Result:    r.Result,
		Error:     r.Error,
	}
}
