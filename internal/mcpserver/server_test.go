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
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/taskcore/pkg/auth"
	"github.com/tombee/taskcore/pkg/meta"
	"github.com/tombee/taskcore/pkg/task"
	"github.com/tombee/taskcore/pkg/task/backend/memory"
	"github.com/tombee/taskcore/pkg/task/router"
	"github.com/tombee/taskcore/pkg/workflow/engine"
)

func newTestServer(t *testing.T) (*Server, *task.Store) {
	t.Helper()
	store := task.NewStore(memory.New(), task.Config{})
	rtr := router.New(store, nil, nil)
	return New(Config{Name: "test", Version: "test"}, rtr, auth.NewResolver(auth.Config{})), store
}

func TestHandleTasksCreateAndResult(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	created, err := s.handleTasksCreate(ctx, newToolRequest("tasks_create", nil))
	require.NoError(t, err)
	require.False(t, created.IsError)

	var body struct {
		TaskID string `json:"task_id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal([]byte(textOf(t, created)), &body))
	require.NotEmpty(t, body.TaskID)
	assert.Equal(t, string(task.StatusWorking), body.Status)

	res, err := s.handleTasksResult(ctx, newToolRequest("tasks_result", map[string]any{"task_id": body.TaskID}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var projection task.Result
	require.NoError(t, json.Unmarshal([]byte(textOf(t, res)), &projection))
	assert.Equal(t, task.StatusWorking, projection.Status)
}

func TestHandleTasksCancelWithResult(t *testing.T) {
	s, store := newTestServer(t)
	ctx := context.Background()

	created, err := s.handleTasksCreate(ctx, newToolRequest("tasks_create", nil))
	require.NoError(t, err)
	var body struct {
		TaskID string `json:"task_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(textOf(t, created)), &body))

	cancelled, err := s.handleTasksCancel(ctx, newToolRequest("tasks_cancel", map[string]any{
		"task_id": body.TaskID,
		"result":  map[string]any{"ok": true},
	}))
	require.NoError(t, err)
	require.False(t, cancelled.IsError)

	result, err := store.GetResult(ctx, auth.LocalOwner, body.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, result.Status)
	assert.Equal(t, map[string]any{"ok": true}, result.Result)
}

func TestHandleTasksResultRequiresTaskID(t *testing.T) {
	s, _ := newTestServer(t)

	res, err := s.handleTasksResult(context.Background(), newToolRequest("tasks_result", nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestTasksCreateRateLimit(t *testing.T) {
	store := task.NewStore(memory.New(), task.Config{})
	rtr := router.New(store, nil, nil)
	s := New(Config{Name: "test", Version: "test", CreatesPerMinute: 1}, rtr, auth.NewResolver(auth.Config{}))
	ctx := context.Background()

	first, err := s.handleTasksCreate(ctx, newToolRequest("tasks_create", nil))
	require.NoError(t, err)
	require.False(t, first.IsError)

	second, err := s.handleTasksCreate(ctx, newToolRequest("tasks_create", nil))
	require.NoError(t, err)
	assert.True(t, second.IsError, "second create within the same minute must be limited")
}

func TestMetaToMCPCarriesTaskID(t *testing.T) {
	m := meta.Meta{TaskID: "t-1", Hint: meta.HintFinalize}
	converted := metaToMCP(m)
	require.NotNil(t, converted)
	assert.Equal(t, "t-1", converted.AdditionalFields["_task_id"])
}

func TestPromptArgumentsDeduplicates(t *testing.T) {
	def := &engine.Definition{Name: "w", Steps: []engine.Step{
		{Name: "a", Tool: "fetch", Arguments: []engine.NamedArgument{
			{Name: "source", Source: engine.PromptArg("source")},
		}},
		{Name: "b", Tool: "audit", Arguments: []engine.NamedArgument{
			{Name: "src", Source: engine.PromptArg("source")},
			{Name: "mode", Source: engine.Literal("x")},
		}},
	}}
	args := promptArguments(def)
	require.Len(t, args, 1)
	assert.Equal(t, "source", args[0].Name)
}

func textOf(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	text, ok := mcp.AsTextContent(res.Content[0])
	require.True(t, ok)
	return text.Text
}

func newToolRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}
