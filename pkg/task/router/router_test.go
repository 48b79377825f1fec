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

package router_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	taskerrors "github.com/tombee/taskcore/pkg/errors"
	"github.com/tombee/taskcore/pkg/meta"
	"github.com/tombee/taskcore/pkg/task"
	"github.com/tombee/taskcore/pkg/task/backend/memory"
	"github.com/tombee/taskcore/pkg/task/router"
	"github.com/tombee/taskcore/pkg/workflow/engine"
)

type defLookup map[string]*engine.Definition

func (d defLookup) Lookup(name string) (*engine.Definition, bool) {
	def, ok := d[name]
	return def, ok
}

func newRouter(t *testing.T, defs defLookup) (*router.Router, *task.Store) {
	t.Helper()
	store := task.NewStore(memory.New(), task.Config{})
	return router.New(store, defs, nil), store
}

func seedWorkflowTask(t *testing.T, store *task.Store, owner, taskID string, progress meta.WorkflowProgress) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, owner, taskID, &task.Record{Status: task.StatusWorking}))
	require.NoError(t, store.SetVariable(ctx, owner, taskID, task.WorkflowProgressKey(), progress))
}

func fetchSummarizeDef() *engine.Definition {
	return &engine.Definition{
		Name: "fetch-summarize",
		Steps: []engine.Step{
			{Name: "fetch", Tool: "fetch"},
			{Name: "summarize", Tool: "summarize", Arguments: []engine.NamedArgument{
				{Name: "input", Source: engine.PriorStep("fetch", "")},
			}},
		},
	}
}

// A continuation whose tool matches a Pending step records the result
// under that step and marks it Completed.
func TestContinuationRecordsUnderMatchingStep(t *testing.T) {
	defs := defLookup{"fetch-summarize": fetchSummarizeDef()}
	r, store := newRouter(t, defs)
	const owner, taskID = "owner-1", "task-1"

	seedWorkflowTask(t, store, owner, taskID, meta.WorkflowProgress{
		WorkflowName: "fetch-summarize",
		Steps: []meta.StepSnapshot{
			{Name: "fetch", Status: string(engine.StepPending)},
			{Name: "summarize", Status: string(engine.StepPending)},
		},
	})

	result := engine.ToolResult{Content: []any{map[string]any{"data": "x"}}}
	require.NoError(t, r.HandleWorkflowContinuation(context.Background(), owner, taskID, "fetch", result))

	rec, err := store.GetRecord(context.Background(), owner, taskID)
	require.NoError(t, err)

	require.Contains(t, rec.Variables, task.WorkflowResultKey("fetch"))

	progress, err := decodeStoredProgress(rec.Variables[task.WorkflowProgressKey()])
	require.NoError(t, err)
	require.Equal(t, string(engine.StepCompleted), progress.Steps[0].Status)
	require.Equal(t, string(engine.StepPending), progress.Steps[1].Status)
}

// A continuation for a tool no step declares is recorded under
// _workflow.extra and leaves the progress snapshot untouched.
func TestContinuationForUnknownToolRecordsExtra(t *testing.T) {
	defs := defLookup{"fetch-summarize": fetchSummarizeDef()}
	r, store := newRouter(t, defs)
	const owner, taskID = "owner-1", "task-1"

	progress := meta.WorkflowProgress{
		WorkflowName: "fetch-summarize",
		Steps: []meta.StepSnapshot{
			{Name: "fetch", Status: string(engine.StepPending)},
			{Name: "summarize", Status: string(engine.StepPending)},
		},
	}
	seedWorkflowTask(t, store, owner, taskID, progress)

	result := engine.ToolResult{Content: []any{map[string]any{"ok": true}}}
	require.NoError(t, r.HandleWorkflowContinuation(context.Background(), owner, taskID, "log_event", result))

	rec, err := store.GetRecord(context.Background(), owner, taskID)
	require.NoError(t, err)
	require.Contains(t, rec.Variables, task.WorkflowExtraKey("log_event"))
	require.NotContains(t, rec.Variables, task.WorkflowResultKey("fetch"))

	after, err := decodeStoredProgress(rec.Variables[task.WorkflowProgressKey()])
	require.NoError(t, err)
	require.Equal(t, progress, after)
}

// Two continuations for the same step: the second's result replaces the
// first's.
func TestContinuationLastResultWins(t *testing.T) {
	defs := defLookup{"fetch-summarize": fetchSummarizeDef()}
	r, store := newRouter(t, defs)
	const owner, taskID = "owner-1", "task-1"

	seedWorkflowTask(t, store, owner, taskID, meta.WorkflowProgress{
		WorkflowName: "fetch-summarize",
		Steps: []meta.StepSnapshot{
			{Name: "fetch", Status: string(engine.StepFailed)},
			{Name: "summarize", Status: string(engine.StepPending)},
		},
	})

	first := engine.ToolResult{Content: []any{map[string]any{"data": "first"}}}
	second := engine.ToolResult{Content: []any{map[string]any{"data": "second"}}}
	require.NoError(t, r.HandleWorkflowContinuation(context.Background(), owner, taskID, "fetch", first))
	require.NoError(t, r.HandleWorkflowContinuation(context.Background(), owner, taskID, "fetch", second))

	rec, err := store.GetRecord(context.Background(), owner, taskID)
	require.NoError(t, err)

	// The stored value has been through a JSON round trip; decode it back
	// into the envelope shape before comparing.
	b, err := json.Marshal(rec.Variables[task.WorkflowResultKey("fetch")])
	require.NoError(t, err)
	var got engine.ToolResult
	require.NoError(t, json.Unmarshal(b, &got))
	require.Equal(t, second, got)
}

// Cancel with a result is a deferred completion, not a cancellation.
func TestCancelWithResultCompletes(t *testing.T) {
	r, store := newRouter(t, nil)
	const owner, taskID = "owner-1", "task-1"
	require.NoError(t, store.Create(context.Background(), owner, taskID, &task.Record{Status: task.StatusWorking}))

	require.NoError(t, r.CancelTask(context.Background(), owner, taskID, map[string]any{"ok": true}))

	result, err := r.ResultTask(context.Background(), owner, taskID)
	require.NoError(t, err)
	require.Equal(t, task.StatusCompleted, result.Status)
	require.Equal(t, map[string]any{"ok": true}, result.Result)
}

func TestCancelWithoutResultCancels(t *testing.T) {
	r, store := newRouter(t, nil)
	const owner, taskID = "owner-1", "task-1"
	require.NoError(t, store.Create(context.Background(), owner, taskID, &task.Record{Status: task.StatusWorking}))

	require.NoError(t, r.CancelTask(context.Background(), owner, taskID, nil))

	result, err := r.ResultTask(context.Background(), owner, taskID)
	require.NoError(t, err)
	require.Equal(t, task.StatusCancelled, result.Status)
}

func TestCreateTaskGeneratesID(t *testing.T) {
	r, _ := newRouter(t, nil)
	rec, err := r.CreateTask(context.Background(), "owner-1", "")
	require.NoError(t, err)
	require.NotEmpty(t, rec.TaskID)
	require.Equal(t, task.StatusWorking, rec.Status)
}

// Cross-owner access surfaces as not_found, never as a distinct
// authorization error: the owner is the storage partition, so a foreign
// task id is indistinguishable from an absent one, and answering
// differently would leak which ids exist under other owners.
func TestOwnerIsolationCollapsesToNotFound(t *testing.T) {
	r, store := newRouter(t, nil)
	require.NoError(t, store.Create(context.Background(), "owner-a", "task-1", &task.Record{Status: task.StatusWorking}))

	_, err := r.ResultTask(context.Background(), "owner-b", "task-1")
	require.Error(t, err, "a different owner must not observe owner-a's task")

	var nf *taskerrors.NotFoundError
	require.ErrorAs(t, err, &nf)
	require.Equal(t, "not_found", nf.ErrorType())

	_, err = r.ResultTask(context.Background(), "owner-b", "no-such-task")
	var absent *taskerrors.NotFoundError
	require.ErrorAs(t, err, &absent)
	require.Equal(t, nf.ErrorType(), absent.ErrorType(),
		"a foreign task and an absent task must be indistinguishable")
}

func decodeStoredProgress(raw any) (meta.WorkflowProgress, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return meta.WorkflowProgress{}, err
	}
	var p meta.WorkflowProgress
	err = json.Unmarshal(b, &p)
	return p, err
}
