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

	taskerrors "github.com/tombee/taskcore/pkg/errors"
)

// Definition is a named, ordered list of steps forming a task-bound prompt
// execution plan.
type Definition struct {
	Name  string
	Steps []Step
}

// Validate enforces the registration-time invariants: unique
// step names, prior-step references only to earlier steps, and no cycles
// (the latter falls out for free once references are constrained to be
// backward-only, but is checked explicitly so a future relaxation of the
// ordering rule doesn't silently reintroduce cycles).
func (d *Definition) Validate() error {
	seen := make(map[string]int, len(d.Steps))
	for i, s := range d.Steps {
		if s.Name == "" {
			return &taskerrors.ValidationError{Field: "steps", Message: "step name must not be empty"}
		}
		if _, dup := seen[s.Name]; dup {
			return &taskerrors.ValidationError{Field: "steps", Message: fmt.Sprintf("duplicate step name %q", s.Name)}
		}
		seen[s.Name] = i
	}

	for _, s := range d.Steps {
		for _, dep := range s.dependsOn() {
			idx, ok := seen[dep]
			if !ok {
				return &taskerrors.ValidationError{
					Field:   "steps",
					Message: fmt.Sprintf("step %q references unknown step %q", s.Name, dep),
				}
			}
			if idx >= seen[s.Name] {
				return &taskerrors.ValidationError{
					Field:   "steps",
					Message: fmt.Sprintf("step %q references step %q which is not earlier in the ordering", s.Name, dep),
				}
			}
		}
	}

	return d.checkCycles()
}

// checkCycles walks the dependency graph with the standard three-color DFS.
// Given the backward-only ordering check above this can only fire if that
// invariant is ever relaxed, but it is kept as an
// independent guarantee.
func (d *Definition) checkCycles() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	byName := make(map[string]Step, len(d.Steps))
	for _, s := range d.Steps {
		byName[s.Name] = s
	}
	color := make(map[string]int, len(d.Steps))

	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case gray:
			return &taskerrors.ValidationError{Field: "steps", Message: fmt.Sprintf("cycle detected at step %q", name)}
		case black:
			return nil
		}
		color[name] = gray
		for _, dep := range byName[name].dependsOn() {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[name] = black
		return nil
	}

	for _, s := range d.Steps {
		if err := visit(s.Name); err != nil {
			return err
		}
	}
	return nil
}

// StepByName returns the step with the given name, or false if absent.
func (d *Definition) StepByName(name string) (Step, bool) {
	for _, s := range d.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return Step{}, false
}
