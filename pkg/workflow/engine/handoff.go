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

package engine

import (
	"fmt"
	"strings"

	"github.com/tombee/taskcore/pkg/meta"
)

// Handoff is the paired narrative-plus-_meta output of a paused or
// completed Run: a human-consumable message and a
// machine-consumable meta.Meta, designed to be read independently.
type Handoff struct {
	// Narrative is the assistant-visible message text. It never contains
	// the task id.
	Narrative string

	// Meta is the wire-visible control-plane block. TaskID is the id passed
	// to BuildHandoff; the router, not the engine, issues task ids.
	Meta meta.Meta
}

// BuildHandoff synthesizes the Handoff for a Run outcome. taskID is
// threaded through only to populate Meta.TaskID; it MUST NOT appear in the
// returned Narrative.
func BuildHandoff(taskID string, outcome *Outcome) Handoff {
	m := meta.Meta{
		TaskID:           taskID,
		WorkflowProgress: &outcome.Progress,
	}

	if outcome.Completed {
		m.Hint = meta.HintFinalize
		return Handoff{Narrative: "", Meta: m}
	}

	m.PauseReason = outcome.PauseReason
	m.Hint = hintFor(outcome.PauseReason)

	return Handoff{Narrative: narrativeFor(outcome), Meta: m}
}

// PlanNarrative renders the initial assistant plan message emitted when a
// task-aware prompt invocation begins: one line
// per declared step, before any of them has run. Like the handoff
// narrative, it never contains the task id.
func PlanNarrative(def *Definition) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Running workflow %s:\n", def.Name)
	for _, step := range def.Steps {
		tool := step.Tool
		if tool == "" {
			tool = "(resource fetch)"
		}
		fmt.Fprintf(&b, "- %s: %s", step.Name, tool)
		if step.Guidance != "" {
			fmt.Fprintf(&b, " — %s", step.Guidance)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// hintFor maps a pause reason to the client-facing next-action enum:
// retry, input_required or finalize.
func hintFor(reason *meta.PauseReason) meta.Hint {
	if reason == nil {
		return meta.HintFinalize
	}
	switch reason.Type {
	case meta.PauseReasonToolError:
		if reason.Retryable {
			return meta.HintRetry
		}
		return meta.HintInputRequired
	case meta.PauseReasonUnresolvableParams, meta.PauseReasonSchemaMismatch, meta.PauseReasonUnresolvedDependency:
		return meta.HintInputRequired
	default:
		return meta.HintInputRequired
	}
}

// narrativeFor renders the remaining (non-completed) steps as a
// human-readable plan: tool name, resolved arguments (or the
// "<output from step_name>" placeholder), and guidance, in declared order.
// Completed steps are never repeated.
func narrativeFor(outcome *Outcome) string {
	var b strings.Builder
	b.WriteString("Workflow paused. Remaining steps:\n")
	for _, render := range outcome.Steps {
		if render.Status == StepCompleted {
			continue
		}
		writeStepLine(&b, render)
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeStepLine(b *strings.Builder, render StepRender) {
	tool := render.Step.Tool
	if tool == "" {
		tool = "(resource fetch)"
	}
	fmt.Fprintf(b, "- %s: call %s(", render.Step.Name, tool)

	for i, arg := range render.Step.Arguments {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(b, "%s=%v", arg.Name, render.Arguments[arg.Name])
	}
	b.WriteString(")")

	if render.Step.Guidance != "" {
		fmt.Fprintf(b, " — %s", render.Step.Guidance)
	}
	b.WriteString("\n")
}
