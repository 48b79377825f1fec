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

package task

// The store itself treats variables as an opaque map; everything in this
// file names the _workflow.* convention that the workflow engine layers on
// top, so engine code never hand-rolls these key strings.

// WorkflowReservedPrefix is the prefix reserved for engine-managed state.
// User-supplied variable keys MUST NOT begin with it.
const WorkflowReservedPrefix = "_workflow."

const (
	workflowProgressKey    = WorkflowReservedPrefix + "progress"
	workflowPauseReasonKey = WorkflowReservedPrefix + "pause_reason"
	workflowResultPrefix   = WorkflowReservedPrefix + "result."
	workflowExtraPrefix    = WorkflowReservedPrefix + "extra."
)

// WorkflowProgressKey returns the reserved key holding the engine's current
// plan snapshot.
func WorkflowProgressKey() string { return workflowProgressKey }

// WorkflowPauseReasonKey returns the reserved key holding the most recent
// pause reason, if any.
func WorkflowPauseReasonKey() string { return workflowPauseReasonKey }

// WorkflowResultKey returns the reserved key under which a step's recorded
// tool-result envelope lives.
func WorkflowResultKey(stepName string) string { return workflowResultPrefix + stepName }

// WorkflowExtraKey returns the reserved key under which an out-of-band
// tool result (one that matched no pending/failed step) is recorded for
// auditing.
func WorkflowExtraKey(toolName string) string { return workflowExtraPrefix + toolName }
