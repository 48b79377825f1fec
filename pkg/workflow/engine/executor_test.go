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

package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tombee/taskcore/pkg/meta"
	"github.com/tombee/taskcore/pkg/task"
	"github.com/tombee/taskcore/pkg/task/backend/memory"
	"github.com/tombee/taskcore/pkg/workflow/engine"
)

// fakeTool is a scripted engine.Tool used across executor tests.
type fakeTool struct {
	name     string
	required []string
	invoke   func(args map[string]any) (engine.ToolResult, error)
}

func (t *fakeTool) Name() string { return t.name }

func (t *fakeTool) Schema(ctx context.Context) (*engine.ToolSchema, error) {
	return &engine.ToolSchema{Required: t.required}, nil
}

func (t *fakeTool) Invoke(ctx context.Context, args map[string]any) (engine.ToolResult, error) {
	return t.invoke(args)
}

type fakeRegistry map[string]*fakeTool

func (r fakeRegistry) Lookup(name string) (engine.Tool, bool) {
	t, ok := r[name]
	return t, ok
}

func newEngineStore(t *testing.T) (*task.Store, string, string) {
	t.Helper()
	store := task.NewStore(memory.New(), task.Config{})
	const owner, taskID = "owner-1", "task-1"
	require.NoError(t, store.Create(context.Background(), owner, taskID, &task.Record{Status: task.StatusWorking}))
	return store, owner, taskID
}

func okResult(data map[string]any) (engine.ToolResult, error) {
	return engine.ToolResult{Content: []any{data}}, nil
}

// Workflow [fetch, summarize] where summarize depends on fetch's output
// runs to completion.
func TestHappyPathCompletion(t *testing.T) {
	store, owner, taskID := newEngineStore(t)
	ctx := context.Background()

	tools := fakeRegistry{
		"fetch_tool": {name: "fetch_tool", required: []string{"source"}, invoke: func(args map[string]any) (engine.ToolResult, error) {
			require.Equal(t, "k1", args["source"])
			return okResult(map[string]any{"data": "raw"})
		}},
		"summarize_tool": {name: "summarize_tool", required: []string{"input"}, invoke: func(args map[string]any) (engine.ToolResult, error) {
			return okResult(map[string]any{"summary": "ok"})
		}},
	}

	def := &engine.Definition{
		Name: "fetch-summarize",
		Steps: []engine.Step{
			{Name: "fetch", Tool: "fetch_tool", Arguments: []engine.NamedArgument{
				{Name: "source", Source: engine.PromptArg("source")},
			}},
			{Name: "summarize", Tool: "summarize_tool", Arguments: []engine.NamedArgument{
				{Name: "input", Source: engine.PriorStep("fetch", "")},
			}},
		},
	}
	require.NoError(t, def.Validate())

	e := engine.New(store, tools, nil, nil)
	outcome, err := e.Run(ctx, owner, taskID, def, map[string]any{"source": "k1"})
	require.NoError(t, err)
	require.True(t, outcome.Completed)
	require.Nil(t, outcome.PauseReason)

	rec, err := store.GetRecord(ctx, owner, taskID)
	require.NoError(t, err)
	require.Equal(t, task.StatusCompleted, rec.Status)
	require.Contains(t, rec.Variables, task.WorkflowResultKey("fetch"))
	require.Contains(t, rec.Variables, task.WorkflowResultKey("summarize"))
	require.NotContains(t, rec.Variables, task.WorkflowPauseReasonKey())
}

// A step whose prompt argument has no binding pauses with
// unresolvableParams and the task stays Working.
func TestUnresolvableParamsPause(t *testing.T) {
	store, owner, taskID := newEngineStore(t)
	ctx := context.Background()

	tools := fakeRegistry{
		"fetch_tool": {name: "fetch_tool", required: []string{"source"}, invoke: func(args map[string]any) (engine.ToolResult, error) {
			t.Fatal("tool must not be invoked when arguments are unresolved")
			return engine.ToolResult{}, nil
		}},
	}

	def := &engine.Definition{
		Name: "fetch-only",
		Steps: []engine.Step{
			{Name: "fetch", Tool: "fetch_tool", Arguments: []engine.NamedArgument{
				{Name: "source", Source: engine.PromptArg("source")},
			}},
		},
	}
	require.NoError(t, def.Validate())

	e := engine.New(store, tools, nil, nil)
	outcome, err := e.Run(ctx, owner, taskID, def, map[string]any{})
	require.NoError(t, err)
	require.False(t, outcome.Completed)
	require.NotNil(t, outcome.PauseReason)
	require.Equal(t, meta.PauseReasonUnresolvableParams, outcome.PauseReason.Type)
	require.Equal(t, "fetch", outcome.PauseReason.BlockedStep)
	require.Equal(t, "source", outcome.PauseReason.MissingParam)

	handoff := engine.BuildHandoff(taskID, outcome)
	require.Contains(t, handoff.Narrative, "<output from")
	require.NotContains(t, handoff.Narrative, taskID)
	require.Equal(t, meta.HintInputRequired, handoff.Meta.Hint)

	rec, err := store.GetRecord(ctx, owner, taskID)
	require.NoError(t, err)
	require.Equal(t, task.StatusWorking, rec.Status)
}

// The schema-mismatch pause must list every missing required field, never
// a single placeholder.
func TestSchemaMismatchListsAllMissingFields(t *testing.T) {
	store, owner, taskID := newEngineStore(t)
	ctx := context.Background()

	tools := fakeRegistry{
		"call_api": {name: "call_api", required: []string{"url", "method"}, invoke: func(args map[string]any) (engine.ToolResult, error) {
			t.Fatal("tool must not be invoked on schema mismatch")
			return engine.ToolResult{}, nil
		}},
	}

	def := &engine.Definition{
		Name: "call-api",
		Steps: []engine.Step{
			{Name: "call", Tool: "call_api", Arguments: []engine.NamedArgument{
				{Name: "url", Source: engine.Literal("https://example.com")},
			}},
		},
	}
	require.NoError(t, def.Validate())

	e := engine.New(store, tools, nil, nil)
	outcome, err := e.Run(ctx, owner, taskID, def, nil)
	require.NoError(t, err)
	require.NotNil(t, outcome.PauseReason)
	require.Equal(t, meta.PauseReasonSchemaMismatch, outcome.PauseReason.Type)
	require.Equal(t, []string{"method"}, outcome.PauseReason.MissingFields)
}

// When fetch fails, the run pauses on fetch's own retryable ToolError;
// summarize's UnresolvedDependency classification happens on a later Resume
// (see TestResumeClassifiesUnresolvedDependency).
func TestFailedStepPausesWithToolErrorBeforeDependent(t *testing.T) {
	store, owner, taskID := newEngineStore(t)
	ctx := context.Background()

	tools := fakeRegistry{
		"fetch_tool": {name: "fetch_tool", invoke: func(args map[string]any) (engine.ToolResult, error) {
			return engine.ToolResult{}, errors.New("upstream unavailable")
		}},
		"summarize_tool": {name: "summarize_tool", required: []string{"input"}, invoke: func(args map[string]any) (engine.ToolResult, error) {
			t.Fatal("summarize must not run when fetch failed")
			return engine.ToolResult{}, nil
		}},
	}

	def := &engine.Definition{
		Name: "fetch-summarize",
		Steps: []engine.Step{
			{Name: "fetch", Tool: "fetch_tool", Retryable: true},
			{Name: "summarize", Tool: "summarize_tool", Arguments: []engine.NamedArgument{
				{Name: "input", Source: engine.PriorStep("fetch", "")},
			}},
		},
	}
	require.NoError(t, def.Validate())

	e := engine.New(store, tools, nil, nil)
	outcome, err := e.Run(ctx, owner, taskID, def, nil)
	require.NoError(t, err)
	require.NotNil(t, outcome.PauseReason)
	// The loop breaks at the first pause (fetch's own ToolError); summarize
	// never gets a turn to classify in this single-invocation Run, which
	// matches the strictly-sequential, break-on-first-pause engine loop.
	require.Equal(t, meta.PauseReasonToolError, outcome.PauseReason.Type)
	require.True(t, outcome.PauseReason.Retryable)
}

// A resumed run whose non-retryable dependency already failed classifies
// the dependent step as UnresolvedDependency, not a plain
// UnresolvableParams.
func TestResumeClassifiesUnresolvedDependency(t *testing.T) {
	store, owner, taskID := newEngineStore(t)
	ctx := context.Background()

	tools := fakeRegistry{
		"fetch_tool": {name: "fetch_tool", invoke: func(args map[string]any) (engine.ToolResult, error) {
			t.Fatal("a failed non-retryable step must not run again")
			return engine.ToolResult{}, nil
		}},
		"summarize_tool": {name: "summarize_tool", required: []string{"input"}, invoke: func(args map[string]any) (engine.ToolResult, error) {
			t.Fatal("summarize must not run with its dependency failed")
			return engine.ToolResult{}, nil
		}},
	}

	def := &engine.Definition{
		Name: "fetch-summarize",
		Steps: []engine.Step{
			{Name: "fetch", Tool: "fetch_tool"},
			{Name: "summarize", Tool: "summarize_tool", Arguments: []engine.NamedArgument{
				{Name: "input", Source: engine.PriorStep("fetch", "")},
			}},
		},
	}
	require.NoError(t, def.Validate())

	// State left behind by an earlier invocation: fetch failed with a tool
	// error, summarize never got a turn.
	require.NoError(t, store.SetVariables(ctx, owner, taskID, map[string]any{
		task.WorkflowProgressKey(): meta.WorkflowProgress{
			WorkflowName: "fetch-summarize",
			Steps: []meta.StepSnapshot{
				{Name: "fetch", Status: string(engine.StepFailed)},
				{Name: "summarize", Status: string(engine.StepPending)},
			},
		},
	}))

	e := engine.New(store, tools, nil, nil)
	outcome, err := e.Resume(ctx, owner, taskID, def, nil)
	require.NoError(t, err)
	require.False(t, outcome.Completed)
	require.NotNil(t, outcome.PauseReason)
	require.Equal(t, meta.PauseReasonUnresolvedDependency, outcome.PauseReason.Type)
	require.Equal(t, "summarize", outcome.PauseReason.BlockedStep)
	require.Equal(t, "fetch", outcome.PauseReason.MissingStep)
	require.Equal(t, string(engine.StepFailed), outcome.PauseReason.MissingStepStatus)
}

// A resumed run re-attempts a retryable failed step and, once every step
// completes, clears the stale pause reason.
func TestResumeRetriesRetryableStepAndCompletes(t *testing.T) {
	store, owner, taskID := newEngineStore(t)
	ctx := context.Background()

	tools := fakeRegistry{
		"fetch_tool": {name: "fetch_tool", invoke: func(args map[string]any) (engine.ToolResult, error) {
			return okResult(map[string]any{"data": "raw"})
		}},
	}

	def := &engine.Definition{
		Name:  "fetch-only",
		Steps: []engine.Step{{Name: "fetch", Tool: "fetch_tool", Retryable: true}},
	}
	require.NoError(t, def.Validate())

	require.NoError(t, store.SetVariables(ctx, owner, taskID, map[string]any{
		task.WorkflowProgressKey(): meta.WorkflowProgress{
			WorkflowName: "fetch-only",
			Steps:        []meta.StepSnapshot{{Name: "fetch", Status: string(engine.StepFailed)}},
		},
		task.WorkflowPauseReasonKey(): meta.NewToolError("fetch", "fetch_tool", errors.New("transient"), true),
	}))

	e := engine.New(store, tools, nil, nil)
	outcome, err := e.Resume(ctx, owner, taskID, def, nil)
	require.NoError(t, err)
	require.True(t, outcome.Completed)
	require.Nil(t, outcome.PauseReason)

	rec, err := store.GetRecord(ctx, owner, taskID)
	require.NoError(t, err)
	require.Equal(t, task.StatusCompleted, rec.Status)
	require.NotContains(t, rec.Variables, task.WorkflowPauseReasonKey(),
		"a completed resume must clear the stale pause reason")
	require.Contains(t, rec.Variables, task.WorkflowResultKey("fetch"))
}

func TestCompleteWorkflowWithNoTool(t *testing.T) {
	store, owner, taskID := newEngineStore(t)
	ctx := context.Background()

	def := &engine.Definition{
		Name: "resource-only",
		Steps: []engine.Step{
			{Name: "prep", Resources: []string{"res://doc-1"}},
		},
	}
	require.NoError(t, def.Validate())

	e := engine.New(store, fakeRegistry{}, nil, nil)
	outcome, err := e.Run(ctx, owner, taskID, def, nil)
	require.NoError(t, err)
	require.True(t, outcome.Completed)
}
