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
)

// registerTaskTools registers the task management surface as MCP
// tools: tasks_create, tasks_result and tasks_cancel. tasks_result doubles
// as the polling mechanism for a stdio-only client following a workflow
// handoff.
func (s *Server) registerTaskTools() {
	// Tool: tasks_create
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "tasks_create",
		Description: "Create a blank task under the calling owner. Returns the generated task id.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, s.handleTasksCreate)

	// Tool: tasks_result
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "tasks_result",
		Description: "Return a task's status, variables, result and error. Available until the task expires or is deleted.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"task_id": map[string]interface{}{
					"type":        "string",
					"description": "The task to observe",
				},
			},
			Required: []string{"task_id"},
		},
	}, s.handleTasksResult)

	// Tool: tasks_cancel
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "tasks_cancel",
		Description: "Cancel a task. If result is supplied, the task transitions to Completed with that result instead of Cancelled.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"task_id": map[string]interface{}{
					"type":        "string",
					"description": "The task to cancel",
				},
				"result": map[string]interface{}{
					"description": "Optional deferred completion result (cancel-with-result)",
				},
			},
			Required: []string{"task_id"},
		},
	}, s.handleTasksCancel)
}

func (s *Server) handleTasksCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.createLimiter.Allow() {
		return mcp.NewToolResultError("rate limit exceeded for tasks_create; retry later"), nil
	}

	owner := s.resolveOwner(ctx)
	rec, err := s.router.CreateTask(ctx, owner, "")
	if err != nil {
		s.logger.Warn("tasks_create failed", slog.String("error", err.Error()))
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResponse(map[string]any{"task_id": rec.TaskID, "status": rec.Status})
}

func (s *Server) handleTasksResult(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := req.GetString("task_id", "")
	if taskID == "" {
		return mcp.NewToolResultError("task_id is required"), nil
	}

	owner := s.resolveOwner(ctx)
	result, err := s.router.ResultTask(ctx, owner, taskID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResponse(result)
}

func (s *Server) handleTasksCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := req.GetString("task_id", "")
	if taskID == "" {
		return mcp.NewToolResultError("task_id is required"), nil
	}

	owner := s.resolveOwner(ctx)
	result := req.GetArguments()["result"]
	if err := s.router.CancelTask(ctx, owner, taskID, result); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResponse(map[string]any{"cancelled": true})
}

func jsonResponse(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError("failed to encode response: " + err.Error()), nil
	}
	return &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent(string(b))}}, nil
}
