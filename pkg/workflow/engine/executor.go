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
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	taskerrors "github.com/tombee/taskcore/pkg/errors"
	"github.com/tombee/taskcore/pkg/meta"
	"github.com/tombee/taskcore/pkg/observability"
	"github.com/tombee/taskcore/pkg/task"
)

// Store is the slice of task.Store the engine needs. Kept narrow so tests
// can fake it without dragging in a backend.
type Store interface {
	GetRecord(ctx context.Context, owner, taskID string) (*task.Record, error)
	SetVariables(ctx context.Context, owner, taskID string, batch map[string]any) error
	CompleteWithResult(ctx context.Context, owner, taskID string, result any) error
}

// Engine walks a Definition step by step against a single task, in the
// strictly sequential manner: one step at a time,
// no intra-workflow parallelism, no suspension point between steps.
type Engine struct {
	store     Store
	tools     ToolRegistry
	resources ResourceFetcher
	logger    *slog.Logger
	metrics   *observability.Collector
	tracer    trace.Tracer
}

// New constructs an Engine. resources may be nil if the workflow never
// declares step resources.
func New(store Store, tools ToolRegistry, resources ResourceFetcher, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:     store,
		tools:     tools,
		resources: resources,
		logger:    logger,
		tracer:    noop.NewTracerProvider().Tracer("taskcore.engine"),
	}
}

// WithMetrics attaches a metrics collector. A nil collector is valid and
// records nothing.
func (e *Engine) WithMetrics(c *observability.Collector) *Engine {
	e.metrics = c
	return e
}

// WithTracer attaches a tracer for the per-run "workflow.run" span.
func (e *Engine) WithTracer(t trace.Tracer) *Engine {
	if t != nil {
		e.tracer = t
	}
	return e
}

// Outcome is the result of running Run to completion or to a pause.
type Outcome struct {
	// Completed is true iff every step reached StepCompleted.
	Completed bool

	// AggregatedResult is the value passed to CompleteWithResult when
	// Completed is true.
	AggregatedResult map[string]any

	// PauseReason is non-nil iff the loop broke before completion. Every
	// break pairs with a non-nil reason here.
	PauseReason *meta.PauseReason

	// Progress is the final step-status snapshot, committed verbatim to
	// _workflow.progress.
	Progress meta.WorkflowProgress

	// Steps carries the announcement text the caller can use to build the
	// handoff narrative (see handoff.go), and the resolved/placeholder
	// arguments per remaining step.
	Steps []StepRender
}

// StepRender is the rendering of one step for narrative purposes: its
// resolved (or placeholder) arguments and whether it already completed.
type StepRender struct {
	Step      Step
	Status    StepStatus
	Arguments map[string]any // value is either the resolved JSON value or a placeholder string
	Resolved  map[string]bool
}

// Run executes def against task (owner, taskID) starting from a freshly
// created task record. promptArgs are the enclosing prompt invocation's
// named arguments. Run commits progress, per-step results and any pause
// reason in a single batched SetVariables call before returning; that
// commit is the only point at which workflow state becomes durable for
// the invocation.
func (e *Engine) Run(ctx context.Context, owner, taskID string, def *Definition, promptArgs map[string]any) (*Outcome, error) {
	statuses := make(map[string]StepStatus, len(def.Steps))
	for _, s := range def.Steps {
		statuses[s.Name] = StepPending
	}
	return e.runLoop(ctx, owner, taskID, def, promptArgs, statuses, map[string]any{}, nil)
}

// Resume re-enters the step loop for a task a previous invocation (or the
// continuation intercept) left mid-workflow, seeding step statuses and
// recorded results from the stored _workflow.* variables. Completed steps
// keep their recorded results and do not run again; Failed steps get a
// fresh attempt only when declared retryable, otherwise they stay failed
// and any step depending on them pauses as an unresolved dependency.
func (e *Engine) Resume(ctx context.Context, owner, taskID string, def *Definition, promptArgs map[string]any) (*Outcome, error) {
	rec, err := e.store.GetRecord(ctx, owner, taskID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &taskerrors.NotFoundError{Resource: "task", ID: taskID}
	}

	statuses := make(map[string]StepStatus, len(def.Steps))
	for _, s := range def.Steps {
		statuses[s.Name] = StepPending
	}
	if raw, ok := rec.Variables[task.WorkflowProgressKey()]; ok {
		progress, err := decodeStoredProgress(raw)
		if err != nil {
			return nil, &taskerrors.InternalError{Reason: "unreadable workflow progress: " + err.Error()}
		}
		for _, snap := range progress.Steps {
			if _, known := statuses[snap.Name]; known {
				statuses[snap.Name] = StepStatus(snap.Status)
			}
		}
	}

	stepResults := make(map[string]any, len(def.Steps))
	for _, s := range def.Steps {
		if statuses[s.Name] != StepCompleted {
			continue
		}
		if v, ok := rec.Variables[task.WorkflowResultKey(s.Name)]; ok {
			stepResults[s.Name] = v
		}
	}

	var prior *meta.PauseReason
	if raw, ok := rec.Variables[task.WorkflowPauseReasonKey()]; ok && raw != nil {
		p, err := decodeStoredPause(raw)
		if err == nil {
			prior = &p
		}
	}

	for _, s := range def.Steps {
		if statuses[s.Name] == StepFailed && s.Retryable {
			statuses[s.Name] = StepPending
		}
	}

	return e.runLoop(ctx, owner, taskID, def, promptArgs, statuses, stepResults, prior)
}

// runLoop is the shared body of Run and Resume. priorPause is the pause
// reason stored by an earlier invocation, carried forward when this pass
// makes no new progress against an already-failed step.
func (e *Engine) runLoop(ctx context.Context, owner, taskID string, def *Definition, promptArgs map[string]any, statuses map[string]StepStatus, stepResults map[string]any, priorPause *meta.PauseReason) (*Outcome, error) {
	ctx, span := e.tracer.Start(ctx, "workflow.run",
		trace.WithAttributes(attribute.String("workflow", def.Name)))
	defer span.End()

	aggregated := make(map[string]any, len(def.Steps))
	for name, v := range stepResults {
		aggregated[name] = v
	}
	newResults := make(map[string]any)

	var pause *meta.PauseReason
	var renders []StepRender

	for i, step := range def.Steps {
		if pause != nil {
			renders = append(renders, e.renderRemaining(step, statuses, promptArgs, stepResults))
			continue
		}

		switch statuses[step.Name] {
		case StepCompleted:
			// Recorded by an earlier pass or a continuation; never repeated.
			continue
		case StepFailed, StepSkipped:
			// Left as-is; a dependent step's resolution classifies it.
			continue
		}

		stepStart := time.Now()
		render, stepPause, err := e.runStep(ctx, step, statuses, promptArgs, stepResults)
		e.metrics.StepDuration(ctx, step.Tool, time.Since(stepStart).Seconds())
		if err != nil {
			return nil, err
		}
		if stepPause != nil {
			pause = stepPause
			renders = append(renders, render.StepRender)
			continue
		}

		statuses[step.Name] = StepCompleted
		stepResults[step.Name] = render.resultValue
		newResults[step.Name] = render.resultValue
		aggregated[step.Name] = render.resultValue
		e.logger.Debug("workflow step completed", slog.String("task_id", taskID), slog.String("step", step.Name), slog.Int("index", i))
	}

	completed := true
	for _, s := range def.Steps {
		if statuses[s.Name] != StepCompleted {
			completed = false
			break
		}
	}

	if pause == nil && !completed {
		// No new blocker this pass, but failed or skipped steps remain. The
		// handoff must still explain what blocks the workflow, so carry the
		// stored reason forward, or synthesize one for the first stuck step.
		if priorPause != nil {
			pause = priorPause
		} else {
			for _, s := range def.Steps {
				if statuses[s.Name] == StepFailed || statuses[s.Name] == StepSkipped {
					p := meta.NewToolError(s.Name, s.Tool, nil, s.Retryable)
					pause = &p
					break
				}
			}
		}
	}

	progress := e.snapshot(def, statuses)

	batch := map[string]any{
		task.WorkflowProgressKey(): progress,
	}
	for name, v := range newResults {
		batch[task.WorkflowResultKey(name)] = v
	}
	if pause != nil {
		batch[task.WorkflowPauseReasonKey()] = *pause
		e.metrics.WorkflowPause(ctx, string(pause.Type))
		span.SetAttributes(attribute.String("pause_reason", string(pause.Type)))
	} else {
		// A nil value deletes the key, so a resumed run that completes
		// clears the stale pause reason.
		batch[task.WorkflowPauseReasonKey()] = nil
	}

	if err := e.store.SetVariables(ctx, owner, taskID, batch); err != nil {
		return nil, fmt.Errorf("commit workflow progress: %w", err)
	}

	outcome := &Outcome{
		PauseReason: pause,
		Progress:    progress,
		Steps:       renders,
	}
	if pause == nil {
		outcome.Completed = true
		outcome.AggregatedResult = aggregated
		if err := e.store.CompleteWithResult(ctx, owner, taskID, aggregated); err != nil {
			return nil, fmt.Errorf("complete task: %w", err)
		}
	}
	return outcome, nil
}

// decodeStoredProgress round-trips a stored _workflow.progress value (a
// generic JSON-decoded any, since Variables is map[string]any) back into a
// typed snapshot.
func decodeStoredProgress(raw any) (meta.WorkflowProgress, error) {
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

func decodeStoredPause(raw any) (meta.PauseReason, error) {
	if p, ok := raw.(meta.PauseReason); ok {
		return p, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return meta.PauseReason{}, err
	}
	var p meta.PauseReason
	if err := json.Unmarshal(b, &p); err != nil {
		return meta.PauseReason{}, err
	}
	return p, nil
}

// stepRunResult bundles a render with the (possibly envelope-wrapped) tool
// result recorded for this step, used internally by runStep/Run.
type stepRunResult struct {
	StepRender
	resultValue any
}

// runStep executes the step sequence for a single step: fetch resources,
// resolve arguments, build the announcement, resolve the invocation
// payload, check the schema, invoke the tool. It returns a
// non-nil pause reason (never an error) for every blocker condition,
// resource fetch failures included; none of its current paths returns a
// non-nil error.
func (e *Engine) runStep(ctx context.Context, step Step, statuses map[string]StepStatus, promptArgs map[string]any, stepResults map[string]any) (stepRunResult, *meta.PauseReason, error) {
	render := stepRunResult{StepRender: StepRender{Step: step, Status: StepPending, Arguments: map[string]any{}, Resolved: map[string]bool{}}}

	// Step 1: fetch declared resources.
	if len(step.Resources) > 0 && e.resources != nil {
		for _, uri := range step.Resources {
			if _, err := e.resources.Fetch(ctx, uri); err != nil {
				statuses[step.Name] = StepFailed
				reason := meta.NewUnresolvableParams(step.Name, "resource:"+uri, step.Tool)
				render.Status = StepFailed
				return render, &reason, nil
			}
		}
	}

	// Steps 2-3: resolve arguments for the announcement. A self-sufficient
	// step can never fail resolution for dependency reasons,
	// but the same resolution path is used either way.
	announceArgs := make(map[string]any, len(step.Arguments))
	var firstMissing string
	for _, arg := range step.Arguments {
		res := resolveArgument(arg.Source, promptArgs, stepResults)
		if res.resolved {
			announceArgs[arg.Name] = res.value
			render.Resolved[arg.Name] = true
			continue
		}
		render.Resolved[arg.Name] = false
		switch arg.Source.Kind {
		case ArgPriorStep:
			announceArgs[arg.Name] = placeholder(arg.Source.StepName)
		case ArgPromptArg:
			announceArgs[arg.Name] = placeholder(arg.Source.PromptArg)
		default:
			announceArgs[arg.Name] = nil
		}
		if firstMissing == "" {
			firstMissing = arg.Name
		}
	}
	render.Arguments = announceArgs

	// Step 4: resolve parameters for invocation. One resolution pass serves
	// both the announcement and the invocation payload; resolution is a
	// deterministic function of the same inputs, so an argument that failed
	// above classifies identically here. A self-sufficient step (no
	// prior-step sources) skips dependency classification outright: its
	// failure can only ever be a missing binding.
	if firstMissing != "" {
		statuses[step.Name] = StepFailed
		render.Status = StepFailed
		reason := meta.NewUnresolvableParams(step.Name, firstMissing, step.Tool)
		if !step.selfSufficient() {
			reason = classifyResolutionFailure(step, statuses, firstMissing)
		}
		return render, &reason, nil
	}

	invokeArgs := make(map[string]any, len(announceArgs))
	for k, v := range announceArgs {
		invokeArgs[k] = v
	}

	// Step 5: schema check.
	if step.Tool != "" {
		tool, ok := e.tools.Lookup(step.Tool)
		if !ok {
			statuses[step.Name] = StepFailed
			reason := meta.NewUnresolvableParams(step.Name, "tool:"+step.Tool, step.Tool)
			render.Status = StepFailed
			return render, &reason, nil
		}
		schema, err := tool.Schema(ctx)
		if err != nil {
			statuses[step.Name] = StepFailed
			reason := meta.NewUnresolvableParams(step.Name, "schema:"+step.Tool, step.Tool)
			render.Status = StepFailed
			return render, &reason, nil
		}
		if missing := missingFields(schema, invokeArgs); len(missing) > 0 {
			statuses[step.Name] = StepFailed
			reason := meta.NewSchemaMismatch(step.Name, step.Tool, missing)
			render.Status = StepFailed
			return render, &reason, nil
		}

		// Step 6: invoke.
		result, err := tool.Invoke(ctx, invokeArgs)
		if err != nil {
			statuses[step.Name] = StepFailed
			reason := meta.NewToolError(step.Name, step.Tool, err, step.Retryable)
			render.Status = StepFailed
			return render, &reason, nil
		}
		render.Status = StepCompleted
		render.resultValue = result
		return render, nil, nil
	}

	// Resource-only step (no tool binding): completes once its resources
	// are fetched.
	render.Status = StepCompleted
	render.resultValue = map[string]any{"resources": step.Resources}
	return render, nil, nil
}

// renderRemaining produces the narrative rendering for a step the loop
// never reached because an earlier step paused. Its arguments are resolved
// best-effort against whatever state existed at pause time, exactly as the
// handoff narrative requires: each remaining step with its tool name and
// resolved (or placeholder) arguments.
func (e *Engine) renderRemaining(step Step, statuses map[string]StepStatus, promptArgs map[string]any, stepResults map[string]any) StepRender {
	render := StepRender{Step: step, Status: statuses[step.Name], Arguments: map[string]any{}, Resolved: map[string]bool{}}
	for _, arg := range step.Arguments {
		res := resolveArgument(arg.Source, promptArgs, stepResults)
		if res.resolved {
			render.Arguments[arg.Name] = res.value
			render.Resolved[arg.Name] = true
			continue
		}
		render.Resolved[arg.Name] = false
		switch arg.Source.Kind {
		case ArgPriorStep:
			render.Arguments[arg.Name] = placeholder(arg.Source.StepName)
		case ArgPromptArg:
			render.Arguments[arg.Name] = placeholder(arg.Source.PromptArg)
		default:
			render.Arguments[arg.Name] = nil
		}
	}
	return render
}

func (e *Engine) snapshot(def *Definition, statuses map[string]StepStatus) meta.WorkflowProgress {
	snap := meta.WorkflowProgress{WorkflowName: def.Name, Steps: make([]meta.StepSnapshot, 0, len(def.Steps))}
	for _, s := range def.Steps {
		entry := meta.StepSnapshot{Name: s.Name, Status: string(statuses[s.Name])}
		if statuses[s.Name] == StepCompleted {
			entry.ResultKey = task.WorkflowResultKey(s.Name)
		}
		snap.Steps = append(snap.Steps, entry)
	}
	return snap
}

// InitialProgress builds the _workflow.progress snapshot an Engine seeds a
// freshly created task with, before the first Run call.
func InitialProgress(def *Definition) meta.WorkflowProgress {
	snap := meta.WorkflowProgress{WorkflowName: def.Name, Steps: make([]meta.StepSnapshot, 0, len(def.Steps))}
	for _, s := range def.Steps {
		snap.Steps = append(snap.Steps, meta.StepSnapshot{Name: s.Name, Status: string(StepPending)})
	}
	return snap
}
