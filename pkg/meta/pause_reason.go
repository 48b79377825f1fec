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

// Package meta defines the wire-visible _meta envelope: the only place a
// task id appears, plus the structured pause reason union and progress
// snapshot it carries.
package meta

import (
	"encoding/json"
	"fmt"
)

// PauseReasonType is the "type" discriminant of a PauseReason, serialized
// lowerCamel so downstream readers can match structurally.
type PauseReasonType string

const (
	PauseReasonUnresolvableParams   PauseReasonType = "unresolvableParams"
	PauseReasonSchemaMismatch       PauseReasonType = "schemaMismatch"
	PauseReasonToolError            PauseReasonType = "toolError"
	PauseReasonUnresolvedDependency PauseReasonType = "unresolvedDependency"
)

// PauseReason is a discriminated union over the four pause variants. Exactly
// one of the variant fields is meaningful, selected by Type.
type PauseReason struct {
	Type PauseReasonType `json:"type"`

	// UnresolvableParams fields.
	BlockedStep   string `json:"blocked_step,omitempty"`
	MissingParam  string `json:"missing_param,omitempty"`
	SuggestedTool string `json:"suggested_tool,omitempty"`

	// SchemaMismatch fields (BlockedStep shared above).
	Tool          string   `json:"tool,omitempty"`
	MissingFields []string `json:"missing_fields,omitempty"`

	// ToolError fields (BlockedStep, Tool shared above).
	Error     string `json:"error,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`

	// UnresolvedDependency fields (BlockedStep shared above).
	MissingStep       string `json:"missing_step,omitempty"`
	MissingStepStatus string `json:"missing_step_status,omitempty"`
}

// NewUnresolvableParams builds an UnresolvableParams pause reason.
func NewUnresolvableParams(blockedStep, missingParam, suggestedTool string) PauseReason {
	return PauseReason{
		Type:          PauseReasonUnresolvableParams,
		BlockedStep:   blockedStep,
		MissingParam:  missingParam,
		SuggestedTool: suggestedTool,
	}
}

// NewSchemaMismatch builds a SchemaMismatch pause reason. missingFields MUST
// be the full list of missing required fields, never a single placeholder.
func NewSchemaMismatch(blockedStep, tool string, missingFields []string) PauseReason {
	return PauseReason{
		Type:          PauseReasonSchemaMismatch,
		BlockedStep:   blockedStep,
		Tool:          tool,
		MissingFields: missingFields,
	}
}

// NewToolError builds a ToolError pause reason.
func NewToolError(blockedStep, tool string, err error, retryable bool) PauseReason {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return PauseReason{
		Type:        PauseReasonToolError,
		BlockedStep: blockedStep,
		Tool:        tool,
		Error:       msg,
		Retryable:   retryable,
	}
}

// NewUnresolvedDependency builds an UnresolvedDependency pause reason.
func NewUnresolvedDependency(blockedStep, missingStep, missingStepStatus string) PauseReason {
	return PauseReason{
		Type:              PauseReasonUnresolvedDependency,
		BlockedStep:       blockedStep,
		MissingStep:       missingStep,
		MissingStepStatus: missingStepStatus,
	}
}

// String gives a short diagnostic rendering, never shown to end users
// directly but useful in logs and tracing attributes.
func (p PauseReason) String() string {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Sprintf("pause_reason(%s)", p.Type)
	}
	return string(b)
}
