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

package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Collector records task-core metrics through an OpenTelemetry meter. A nil
// *Collector is a valid no-op receiver, so the store, router and engine can
// hold one unconditionally and deployments that skip metrics pass nil.
type Collector struct {
	tasksCreated   metric.Int64Counter
	tasksCompleted metric.Int64Counter
	casRetries     metric.Int64Counter
	workflowPauses metric.Int64Counter
	stepDuration   metric.Float64Histogram
}

// NewCollector creates a Collector on the given meter provider.
func NewCollector(meterProvider metric.MeterProvider) (*Collector, error) {
	meter := meterProvider.Meter("taskcore")

	c := &Collector{}
	var err error

	c.tasksCreated, err = meter.Int64Counter(
		"taskcore_tasks_created_total",
		metric.WithDescription("Total number of tasks created"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, err
	}

	c.tasksCompleted, err = meter.Int64Counter(
		"taskcore_tasks_completed_total",
		metric.WithDescription("Total number of tasks reaching a terminal status"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, err
	}

	c.casRetries, err = meter.Int64Counter(
		"taskcore_cas_retries_total",
		metric.WithDescription("Total number of CAS write retries after a version conflict"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}

	c.workflowPauses, err = meter.Int64Counter(
		"taskcore_workflow_pauses_total",
		metric.WithDescription("Total number of workflow pauses by classified reason"),
		metric.WithUnit("{pause}"),
	)
	if err != nil {
		return nil, err
	}

	c.stepDuration, err = meter.Float64Histogram(
		"taskcore_step_duration_seconds",
		metric.WithDescription("Workflow step execution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return c, nil
}

// TaskCreated increments the created-tasks counter.
func (c *Collector) TaskCreated(ctx context.Context) {
	if c == nil {
		return
	}
	c.tasksCreated.Add(ctx, 1)
}

// TaskCompleted increments the terminal-status counter, labelled with the
// final status (Completed, Failed, Cancelled).
func (c *Collector) TaskCompleted(ctx context.Context, status string) {
	if c == nil {
		return
	}
	c.tasksCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// CASRetry increments the CAS-retry counter.
func (c *Collector) CASRetry(ctx context.Context) {
	if c == nil {
		return
	}
	c.casRetries.Add(ctx, 1)
}

// WorkflowPause increments the pause counter, labelled with the pause
// reason's discriminant (e.g. "unresolvableParams").
func (c *Collector) WorkflowPause(ctx context.Context, reason string) {
	if c == nil {
		return
	}
	c.workflowPauses.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// StepDuration records one step's execution duration, labelled with the
// step's bound tool.
func (c *Collector) StepDuration(ctx context.Context, tool string, seconds float64) {
	if c == nil {
		return
	}
	c.stepDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("tool", tool)))
}
