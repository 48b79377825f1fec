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
	"os"

	"gopkg.in/yaml.v3"

	taskerrors "github.com/tombee/taskcore/pkg/errors"
)

// The YAML workflow format. Arguments are a list rather than a map so that
// declaration order survives parsing.
//
//	name: enrich
//	steps:
//	  - name: fetch
//	    tool: fetch
//	    arguments:
//	      - name: source
//	        prompt_arg: source
//	  - name: summarize
//	    tool: summarize
//	    retryable: true
//	    guidance: Summarize the fetched data.
//	    arguments:
//	      - name: data
//	        step: fetch
//	        path: .data

type yamlDefinition struct {
	Name  string     `yaml:"name"`
	Steps []yamlStep `yaml:"steps"`
}

type yamlStep struct {
	Name      string         `yaml:"name"`
	Tool      string         `yaml:"tool,omitempty"`
	Arguments []yamlArgument `yaml:"arguments,omitempty"`
	Resources []string       `yaml:"resources,omitempty"`
	Retryable bool           `yaml:"retryable,omitempty"`
	Guidance  string         `yaml:"guidance,omitempty"`
}

// yamlArgument is the flattened union of the three source kinds. Exactly
// one of literal / prompt_arg / step must be set.
type yamlArgument struct {
	Name      string `yaml:"name"`
	Literal   *any   `yaml:"literal,omitempty"`
	PromptArg string `yaml:"prompt_arg,omitempty"`
	Step      string `yaml:"step,omitempty"`
	Path      string `yaml:"path,omitempty"`
}

func (a yamlArgument) source() (ArgumentSource, error) {
	set := 0
	if a.Literal != nil {
		set++
	}
	if a.PromptArg != "" {
		set++
	}
	if a.Step != "" {
		set++
	}
	if set != 1 {
		return ArgumentSource{}, &taskerrors.ValidationError{
			Field:   "arguments." + a.Name,
			Message: "exactly one of literal, prompt_arg or step must be set",
		}
	}

	switch {
	case a.Literal != nil:
		return Literal(*a.Literal), nil
	case a.PromptArg != "":
		return PromptArg(a.PromptArg), nil
	default:
		return PriorStep(a.Step, a.Path), nil
	}
}

// ParseDefinition parses a YAML workflow definition and validates it. The
// returned Definition is ready to Register.
func ParseDefinition(data []byte) (*Definition, error) {
	var doc yamlDefinition
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &taskerrors.ValidationError{Field: "workflow", Message: fmt.Sprintf("invalid YAML: %v", err)}
	}

	def := &Definition{Name: doc.Name, Steps: make([]Step, 0, len(doc.Steps))}
	for _, ys := range doc.Steps {
		step := Step{
			Name:      ys.Name,
			Tool:      ys.Tool,
			Resources: ys.Resources,
			Retryable: ys.Retryable,
			Guidance:  ys.Guidance,
		}
		for _, ya := range ys.Arguments {
			if ya.Name == "" {
				return nil, &taskerrors.ValidationError{
					Field:   "steps." + ys.Name + ".arguments",
					Message: "argument name must not be empty",
				}
			}
			src, err := ya.source()
			if err != nil {
				return nil, err
			}
			step.Arguments = append(step.Arguments, NamedArgument{Name: ya.Name, Source: src})
		}
		def.Steps = append(def.Steps, step)
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// ParseDefinitionFile reads and parses a YAML workflow definition from path.
func ParseDefinitionFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, taskerrors.Wrap(err, "read workflow file")
	}
	return ParseDefinition(data)
}
