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

// Package engine is the sequential, task-aware workflow executor: it walks
// a Definition step by step, resolves cross-step data dependencies through
// a task.Store, and pauses with a classified reason when a step can't
// proceed.
package engine

// ArgumentSourceKind selects how an argument's concrete value is produced.
type ArgumentSourceKind string

const (
	ArgLiteral   ArgumentSourceKind = "literal"
	ArgPromptArg ArgumentSourceKind = "prompt_arg"
	ArgPriorStep ArgumentSourceKind = "prior_step"
)

// ArgumentSource is one of the three argument-source variants: a literal
// JSON value, a named prompt argument, or a prior step's
// output (optionally narrowed by a gojq sub-path).
type ArgumentSource struct {
	Kind ArgumentSourceKind

	// Literal is used when Kind == ArgLiteral.
	Literal any

	// PromptArg names the enclosing prompt invocation's parameter when
	// Kind == ArgPromptArg.
	PromptArg string

	// StepName and SubPath address a prior step's recorded output when
	// Kind == ArgPriorStep. SubPath is an optional gojq query rooted at
	// the step's result (e.g. ".data.items[0]"); empty means the whole
	// result.
	StepName string
	SubPath  string
}

// Literal builds a literal-valued ArgumentSource.
func Literal(v any) ArgumentSource { return ArgumentSource{Kind: ArgLiteral, Literal: v} }

// PromptArg builds a prompt-argument ArgumentSource.
func PromptArg(name string) ArgumentSource { return ArgumentSource{Kind: ArgPromptArg, PromptArg: name} }

// PriorStep builds a prior-step-output ArgumentSource, optionally narrowed
// by a gojq sub-path.
func PriorStep(stepName, subPath string) ArgumentSource {
	return ArgumentSource{Kind: ArgPriorStep, StepName: stepName, SubPath: subPath}
}

// NamedArgument pairs a tool-parameter name with its source. Arguments is
// an ordered slice (not a map) so announcement text renders
// deterministically.
type NamedArgument struct {
	Name   string
	Source ArgumentSource
}

// Step declares one unit of a Definition.
type Step struct {
	Name      string
	Tool      string
	Arguments []NamedArgument
	Resources []string
	Retryable bool
	Guidance  string
}

// dependsOn reports the set of step names this step's prior-step arguments
// reference.
func (s Step) dependsOn() []string {
	var deps []string
	for _, a := range s.Arguments {
		if a.Source.Kind == ArgPriorStep {
			deps = append(deps, a.Source.StepName)
		}
	}
	return deps
}

// selfSufficient reports whether every argument resolves from literals and
// prompt arguments alone (no prior-step sources): such a
// step will never pause for dependency reasons.
func (s Step) selfSufficient() bool {
	for _, a := range s.Arguments {
		if a.Source.Kind == ArgPriorStep {
			return false
		}
	}
	return true
}

// StepStatus is the engine-local lifecycle of a step within one invocation.
type StepStatus string

const (
	StepPending   StepStatus = "Pending"
	StepCompleted StepStatus = "Completed"
	StepFailed    StepStatus = "Failed"
	StepSkipped   StepStatus = "Skipped"
)
