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

import "github.com/tombee/taskcore/pkg/meta"

// classifyResolutionFailure decides, for a step whose argument resolution
// failed, whether the cause is
// a prior step that failed or was skipped (UnresolvedDependency) or a plain
// missing binding (UnresolvableParams). missingArg is the first unresolvable
// argument found, used to populate whichever variant is chosen.
func classifyResolutionFailure(step Step, stepStatuses map[string]StepStatus, missingArg string) meta.PauseReason {
	for _, dep := range step.dependsOn() {
		status, ok := stepStatuses[dep]
		if !ok {
			continue
		}
		if status == StepFailed || status == StepSkipped {
			return meta.NewUnresolvedDependency(step.Name, dep, string(status))
		}
	}
	return meta.NewUnresolvableParams(step.Name, missingArg, step.Tool)
}
