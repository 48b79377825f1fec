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

// Package router implements the MCP task request surface:
// tasks/create, tasks/result, tasks/cancel, and the continuation intercept
// that bridges a tool-call result into recorded workflow progress.
package router

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"

	"github.com/google/uuid"

	taskerrors "github.com/tombee/taskcore/pkg/errors"
	"github.com/tombee/taskcore/pkg/meta"
	"github.com/tombee/taskcore/pkg/observability"
	"github.com/tombee/taskcore/pkg/task"
	"github.com/tombee/taskcore/pkg/workflow/engine"
)

// Store is the slice of task.Store the router needs.
type Store interface {
	Create(ctx context.Context, owner, taskID string, initial *task.Record) error
	GetRecord(ctx context.Context, owner, taskID string) (*task.Record, error)
	GetResult(ctx context.Context, owner, taskID string) (task.Result, error)
	SetVariables(ctx context.Context, owner, taskID string, batch map[string]any) error
	Cancel(ctx context.Context, owner, taskID string, result any) error
}

// DefinitionLookup resolves a registered workflow Definition by name, so
// the continuation intercept can map a tool name back to the step that
// declared it (see matchStep).
type DefinitionLookup interface {
	Lookup(name string) (*engine.Definition, bool)
}

// Router is the task request handler surface.
type Router struct {
	store   Store
	defs    DefinitionLookup
	logger  *slog.Logger
	metrics *observability.Collector
}

// New constructs a Router. defs may be nil if the deployment never runs
// task-aware workflows (only ad-hoc tasks/create/result/cancel).
func New(store Store, defs DefinitionLookup, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{store: store, defs: defs, logger: logger}
}

// WithMetrics attaches a metrics collector. A nil collector is valid and
// records nothing.
func (r *Router) WithMetrics(c *observability.Collector) *Router {
	r.metrics = c
	return r
}

// CreateTask handles tasks/create: creates a blank task under owner. If
// taskID is empty, a fresh id is generated server-side.
func (r *Router) CreateTask(ctx context.Context, owner, taskID string) (*task.Record, error) {
	if taskID == "" {
		taskID = uuid.New().String()
	}
	initial := &task.Record{Status: task.StatusWorking, Variables: map[string]any{}}
	if err := r.store.Create(ctx, owner, taskID, initial); err != nil {
		return nil, err
	}
	r.metrics.TaskCreated(ctx)
	return r.store.GetRecord(ctx, owner, taskID)
}

// CreateWorkflowTask creates the task record a task-aware prompt invocation
// runs against: status Working, variables seeded with the
// workflow's initial plan in _workflow.progress, id generated server-side.
func (r *Router) CreateWorkflowTask(ctx context.Context, owner string, def *engine.Definition) (*task.Record, error) {
	taskID := uuid.New().String()
	initial := &task.Record{
		Status: task.StatusWorking,
		Variables: map[string]any{
			task.WorkflowProgressKey(): engine.InitialProgress(def),
		},
	}
	if err := r.store.Create(ctx, owner, taskID, initial); err != nil {
		return nil, err
	}
	r.metrics.TaskCreated(ctx)
	return r.store.GetRecord(ctx, owner, taskID)
}

// ResultTask handles tasks/result: returns the full projection, available
// until the task expires or is deleted.
func (r *Router) ResultTask(ctx context.Context, owner, taskID string) (task.Result, error) {
	return r.store.GetResult(ctx, owner, taskID)
}

// CancelTask handles tasks/cancel:
// result == nil transitions to Cancelled; a non-nil result transitions to
// Completed with that result (cancel-with-result).
func (r *Router) CancelTask(ctx context.Context, owner, taskID string, result any) error {
	return r.store.Cancel(ctx, owner, taskID, result)
}

// HandleWorkflowContinuation is the fire-and-forget bridge invoked after a
// tools/call whose inbound _meta carried a _task_id. It MUST NOT delay or fail the tool response
// the caller already sent back to the client; callers should invoke this
// after responding, or in a way that does not block that response, and
// must log (not propagate) any error it returns.
func (r *Router) HandleWorkflowContinuation(ctx context.Context, owner, taskID, toolName string, toolResult engine.ToolResult) error {
	rec, err := r.store.GetRecord(ctx, owner, taskID)
	if err != nil {
		var nf *taskerrors.NotFoundError
		if stderrors.As(err, &nf) {
			r.logger.Warn("continuation for unknown or expired task", slog.String("task_id", taskID), slog.String("tool", toolName))
			return nil
		}
		return err
	}
	if rec == nil {
		r.logger.Warn("continuation for unknown or expired task", slog.String("task_id", taskID), slog.String("tool", toolName))
		return nil
	}

	progressRaw, ok := rec.Variables[task.WorkflowProgressKey()]
	if !ok {
		// Step 1: no workflow progress (non-workflow task, or stale) —
		// record under _workflow.extra.<tool_name> and return.
		return r.store.SetVariables(ctx, owner, taskID, map[string]any{
			task.WorkflowExtraKey(toolName): toolResult,
		})
	}

	progress, err := decodeProgress(progressRaw)
	if err != nil {
		r.logger.Warn("unreadable workflow progress, recording as extra", slog.String("task_id", taskID), slog.String("error", err.Error()))
		return r.store.SetVariables(ctx, owner, taskID, map[string]any{
			task.WorkflowExtraKey(toolName): toolResult,
		})
	}

	matchIdx, found := r.matchStep(progress, toolName)
	if !found {
		// Step 3: no declared step matches — audit record, never
		// overwriting workflow results.
		return r.store.SetVariables(ctx, owner, taskID, map[string]any{
			task.WorkflowExtraKey(toolName): toolResult,
		})
	}

	// Step 2: record the result and advance the matched step. Last-result-
	// wins: a second continuation for the same step simply overwrites the
	// first's recorded result and leaves status Completed.
	progress.Steps[matchIdx].Status = string(engine.StepCompleted)

	batch := map[string]any{
		task.WorkflowResultKey(progress.Steps[matchIdx].Name): toolResult,
		task.WorkflowProgressKey():                            progress,
	}
	return r.store.SetVariables(ctx, owner, taskID, batch)
}

// matchStep finds the first step in progress whose declared tool (resolved
// via the router's DefinitionLookup) equals toolName and whose current
// status is Pending or Failed. When no such step is left, it falls back to
// the last Completed step with that tool, so a repeated continuation for the
// same step overwrites the earlier result (last result wins).
func (r *Router) matchStep(progress meta.WorkflowProgress, toolName string) (int, bool) {
	if r.defs == nil {
		return 0, false
	}
	def, ok := r.defs.Lookup(progress.WorkflowName)
	if !ok {
		return 0, false
	}
	completed := -1
	for i, snap := range progress.Steps {
		step, ok := def.StepByName(snap.Name)
		if !ok || step.Tool != toolName {
			continue
		}
		switch snap.Status {
		case string(engine.StepPending), string(engine.StepFailed):
			return i, true
		case string(engine.StepCompleted):
			completed = i
		}
	}
	if completed >= 0 {
		return completed, true
	}
	return 0, false
}

// decodeProgress round-trips the stored _workflow.progress value (which
// arrives as a generic JSON-decoded any, since Variables is map[string]any)
// back into a typed meta.WorkflowProgress.
func decodeProgress(raw any) (meta.WorkflowProgress, error) {
	if p, ok := raw.(meta.WorkflowProgress); ok {
		return p, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return meta.WorkflowProgress{}, err
	}
	var p meta.WorkflowProgress
	if err := json.Unmarshal(b, &p); err != nil {
		return meta.WorkflowProgress{}, err
	}
	return p, nil
}
