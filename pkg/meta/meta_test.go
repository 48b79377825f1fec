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

package meta_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tombee/taskcore/pkg/meta"
)

func TestPauseReasonDiscriminantIsLowerCamel(t *testing.T) {
	tests := []struct {
		name string
		pr   meta.PauseReason
		want string
	}{
		{"unresolvable params", meta.NewUnresolvableParams("fetch", "source", "fetch_tool"), "unresolvableParams"},
		{"schema mismatch", meta.NewSchemaMismatch("call", "call_api", []string{"method"}), "schemaMismatch"},
		{"tool error", meta.NewToolError("fetch", "fetch_tool", nil, true), "toolError"},
		{"unresolved dependency", meta.NewUnresolvedDependency("summarize", "fetch", "failed"), "unresolvedDependency"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := json.Marshal(tt.pr)
			require.NoError(t, err)

			var raw map[string]any
			require.NoError(t, json.Unmarshal(b, &raw))
			require.Equal(t, tt.want, raw["type"])
		})
	}
}

func TestSchemaMismatchListsAllMissingFields(t *testing.T) {
	pr := meta.NewSchemaMismatch("call", "call_api", []string{"method", "headers"})
	require.Equal(t, []string{"method", "headers"}, pr.MissingFields)
}

func TestMetaRoundTrip(t *testing.T) {
	pr := meta.NewUnresolvableParams("fetch", "source", "fetch_tool")
	m := meta.Meta{
		TaskID: "task-123",
		WorkflowProgress: &meta.WorkflowProgress{
			WorkflowName: "research",
			Steps:        []meta.StepSnapshot{{Name: "fetch", Status: "Pending"}},
		},
		PauseReason: &pr,
		Hint:        meta.HintInputRequired,
	}

	b, err := json.Marshal(m)
	require.NoError(t, err)
	require.Contains(t, string(b), `"_task_id":"task-123"`)

	var round meta.Meta
	require.NoError(t, json.Unmarshal(b, &round))
	require.Equal(t, m.TaskID, round.TaskID)
	require.Equal(t, m.PauseReason.Type, round.PauseReason.Type)
}

func TestMetaOmitsTaskIDWhenAbsent(t *testing.T) {
	m := meta.Meta{Hint: meta.HintFinalize}
	b, err := json.Marshal(m)
	require.NoError(t, err)
	require.NotContains(t, string(b), "_task_id")
}
