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

// missingFields returns every required field of schema not present in
// resolved, preserving schema's declared order. The result MUST be the
// full list, never a single-element placeholder.
func missingFields(schema *ToolSchema, resolved map[string]any) []string {
	var missing []string
	for _, field := range schema.Required {
		if _, ok := resolved[field]; !ok {
			missing = append(missing, field)
		}
	}
	return missing
}
