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

	"github.com/itchyny/gojq"
)

// resolution is the outcome of resolving one argument source.
type resolution struct {
	value    any
	resolved bool
}

// resolveArgument attempts to produce a concrete value for src. A prior-step
// source reads the step's recorded result from stepResults and, if a
// SubPath is declared, narrows it with a gojq query. resolved=false means the caller must classify the
// failure via classifyResolutionFailure.
func resolveArgument(src ArgumentSource, promptArgs map[string]any, stepResults map[string]any) resolution {
	switch src.Kind {
	case ArgLiteral:
		return resolution{value: src.Literal, resolved: true}

	case ArgPromptArg:
		v, ok := promptArgs[src.PromptArg]
		return resolution{value: v, resolved: ok}

	case ArgPriorStep:
		result, ok := stepResults[src.StepName]
		if !ok {
			return resolution{resolved: false}
		}
		if src.SubPath == "" {
			return resolution{value: result, resolved: true}
		}
		v, err := applyJQ(src.SubPath, result)
		if err != nil {
			return resolution{resolved: false}
		}
		return resolution{value: v, resolved: true}

	default:
		return resolution{resolved: false}
	}
}

// applyJQ runs a single gojq query against data and returns its first
// emitted value.
func applyJQ(expr string, data any) (any, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse sub-path %q: %w", expr, err)
	}
	iter := query.Run(data)
	v, ok := iter.Next()
	if !ok {
		return nil, fmt.Errorf("sub-path %q produced no value", expr)
	}
	if err, isErr := v.(error); isErr {
		return nil, fmt.Errorf("sub-path %q: %w", expr, err)
	}
	return v, nil
}

// placeholder is the literal narrative stand-in for an argument that could
// not be resolved. name is the source step's name for a prior-step source,
// or the prompt argument's name for a prompt-argument source with no
// binding.
func placeholder(name string) string {
	return fmt.Sprintf("<output from %s>", name)
}
