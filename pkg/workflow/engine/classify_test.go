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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tombee/taskcore/pkg/meta"
)

// A step whose prior-step dependency already failed must classify as
// UnresolvedDependency, not the generic UnresolvableParams.
func TestClassifyResolutionFailureUnresolvedDependency(t *testing.T) {
	summarize := Step{
		Name: "summarize",
		Tool: "summarize_tool",
		Arguments: []NamedArgument{
			{Name: "input", Source: PriorStep("fetch", "")},
		},
	}
	statuses := map[string]StepStatus{"fetch": StepFailed}

	reason := classifyResolutionFailure(summarize, statuses, "input")

	require.Equal(t, meta.PauseReasonUnresolvedDependency, reason.Type)
	require.Equal(t, "summarize", reason.BlockedStep)
	require.Equal(t, "fetch", reason.MissingStep)
	require.Equal(t, string(StepFailed), reason.MissingStepStatus)
}

func TestClassifyResolutionFailureSkippedDependency(t *testing.T) {
	summarize := Step{
		Name:      "summarize",
		Tool:      "summarize_tool",
		Arguments: []NamedArgument{{Name: "input", Source: PriorStep("fetch", "")}},
	}
	statuses := map[string]StepStatus{"fetch": StepSkipped}

	reason := classifyResolutionFailure(summarize, statuses, "input")
	require.Equal(t, meta.PauseReasonUnresolvedDependency, reason.Type)
	require.Equal(t, string(StepSkipped), reason.MissingStepStatus)
}

func TestClassifyResolutionFailureFallsBackToUnresolvableParams(t *testing.T) {
	step := Step{Name: "fetch", Tool: "fetch_tool", Arguments: []NamedArgument{
		{Name: "source", Source: PromptArg("source")},
	}}
	reason := classifyResolutionFailure(step, map[string]StepStatus{}, "source")

	require.Equal(t, meta.PauseReasonUnresolvableParams, reason.Type)
	require.Equal(t, "source", reason.MissingParam)
	require.Equal(t, "fetch_tool", reason.SuggestedTool)
}
