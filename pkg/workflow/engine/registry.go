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
	"sort"
	"sync"

	taskerrors "github.com/tombee/taskcore/pkg/errors"
)

// Registry holds the workflows a deployment has registered, keyed by name.
// Registration validates the definition; the continuation
// intercept uses Lookup to map a tool name back to the step that declared
// it. Safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register validates def and adds it to the registry. Registering a name
// twice is a validation error; workflows are declared once at startup, not
// hot-swapped.
func (r *Registry) Register(def *Definition) error {
	if def.Name == "" {
		return &taskerrors.ValidationError{Field: "name", Message: "workflow name must not be empty"}
	}
	if err := def.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Name]; exists {
		return &taskerrors.ValidationError{Field: "name", Message: "workflow " + def.Name + " is already registered"}
	}
	r.defs[def.Name] = def
	return nil
}

// Lookup returns the registered definition with the given name.
func (r *Registry) Lookup(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// Names returns the registered workflow names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
