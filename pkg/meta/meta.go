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

package meta

// Hint directs the client to its next action after receiving a paused or
// completed prompt result.
type Hint string

const (
	HintRetry         Hint = "retry"
	HintInputRequired Hint = "input_required"
	HintFinalize      Hint = "finalize"
)

// StepSnapshot is one entry of a WorkflowProgress snapshot.
type StepSnapshot struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	ResultKey string `json:"result_key,omitempty"`
}

// WorkflowProgress is the plan snapshot carried in _workflow.progress and
// echoed into the outbound _meta envelope.
type WorkflowProgress struct {
	WorkflowName string         `json:"workflow_name"`
	Steps        []StepSnapshot `json:"steps"`
}

// Meta is the wire-visible control-plane block attached to a prompt
// result. _task_id is the only place a task id appears; it MUST NOT be
// echoed in the narrative message text.
type Meta struct {
	TaskID           string            `json:"_task_id,omitempty"`
	WorkflowProgress *WorkflowProgress `json:"workflow_progress,omitempty"`
	PauseReason      *PauseReason      `json:"pause_reason,omitempty"`
	Hint             Hint              `json:"hint,omitempty"`
}

// ToolCallMeta is the inbound _meta block carried on a tools/call request.
// Its field name on the wire is fixed regardless of the Go field name.
type ToolCallMeta struct {
	TaskID string `json:"_task_id,omitempty"`
}
