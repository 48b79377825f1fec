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

package mcpserver

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tombee/taskcore/pkg/workflow/engine"
)

// RegisterWorkflowPrompt exposes def as a task-aware MCP prompt. Invoking the prompt creates a task seeded with the workflow plan,
// runs the engine until completion or pause, and returns the plan message,
// the handoff narrative if paused, and the _meta block carrying the task id
// (the only place the id appears).
func (s *Server) RegisterWorkflowPrompt(def *engine.Definition, eng *engine.Engine, description string) {
	prompt := mcp.Prompt{
		Name:        def.Name,
		Description: description,
		Arguments:   promptArguments(def),
	}

	s.mcpServer.AddPrompt(prompt, func(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		owner := s.resolveOwner(ctx)

		promptArgs := make(map[string]any, len(req.Params.Arguments))
		for k, v := range req.Params.Arguments {
			promptArgs[k] = v
		}

		rec, err := s.router.CreateWorkflowTask(ctx, owner, def)
		if err != nil {
			return nil, err
		}

		outcome, err := eng.Run(ctx, owner, rec.TaskID, def, promptArgs)
		if err != nil {
			s.logger.Warn("workflow run failed",
				slog.String("workflow", def.Name), slog.String("error", err.Error()))
			return nil, err
		}

		handoff := engine.BuildHandoff(rec.TaskID, outcome)

		messages := []mcp.PromptMessage{{
			Role:    mcp.RoleAssistant,
			Content: mcp.NewTextContent(engine.PlanNarrative(def)),
		}}
		if handoff.Narrative != "" {
			messages = append(messages, mcp.PromptMessage{
				Role:    mcp.RoleAssistant,
				Content: mcp.NewTextContent(handoff.Narrative),
			})
		}

		result := &mcp.GetPromptResult{
			Description: description,
			Messages:    messages,
		}
		result.Meta = metaToMCP(handoff.Meta)
		return result, nil
	})
}

// promptArguments derives the prompt's declared arguments from the prompt-arg
// sources the workflow's steps reference.
func promptArguments(def *engine.Definition) []mcp.PromptArgument {
	seen := make(map[string]bool)
	var args []mcp.PromptArgument
	for _, step := range def.Steps {
		for _, arg := range step.Arguments {
			if arg.Source.Kind != engine.ArgPromptArg || seen[arg.Source.PromptArg] {
				continue
			}
			seen[arg.Source.PromptArg] = true
			args = append(args, mcp.PromptArgument{Name: arg.Source.PromptArg})
		}
	}
	return args
}

// metaToMCP converts the typed meta.Meta envelope into mcp-go's _meta
// representation via JSON so the wire field names (notably _task_id) are
// exactly the serialized tags.
func metaToMCP(m any) *mcp.Meta {
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil
	}
	return &mcp.Meta{AdditionalFields: fields}
}
