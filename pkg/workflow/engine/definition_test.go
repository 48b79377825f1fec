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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateRejectsForwardReference(t *testing.T) {
	def := &Definition{Steps: []Step{
		{Name: "summarize", Arguments: []NamedArgument{{Name: "input", Source: PriorStep("fetch", "")}}},
		{Name: "fetch"},
	}}
	err := def.Validate()
	require.Error(t, err, "a step whose source references a step defined later must be rejected at registration")
}

func TestValidateRejectsDuplicateNames(t *testing.T) {
	def := &Definition{Steps: []Step{{Name: "fetch"}, {Name: "fetch"}}}
	require.Error(t, def.Validate())
}

func TestValidateRejectsUnknownReference(t *testing.T) {
	def := &Definition{Steps: []Step{
		{Name: "fetch"},
		{Name: "summarize", Arguments: []NamedArgument{{Name: "input", Source: PriorStep("missing", "")}}},
	}}
	require.Error(t, def.Validate())
}

func TestValidateAcceptsSelfSufficientChain(t *testing.T) {
	def := &Definition{Steps: []Step{
		{Name: "fetch", Arguments: []NamedArgument{{Name: "source", Source: Literal("k1")}}},
		{Name: "summarize", Arguments: []NamedArgument{{Name: "input", Source: PriorStep("fetch", "")}}},
	}}
	require.NoError(t, def.Validate())

	fetch, ok := def.StepByName("fetch")
	require.True(t, ok)
	require.True(t, fetch.selfSufficient())

	summarize, ok := def.StepByName("summarize")
	require.True(t, ok)
	require.False(t, summarize.selfSufficient())
}
