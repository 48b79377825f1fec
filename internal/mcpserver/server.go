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

// Package mcpserver wires the task/workflow core onto the wire: MCP tool
// registration, the _meta passthrough that carries task identity, and the
// stdio transport.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/time/rate"

	"github.com/tombee/taskcore/pkg/auth"
	"github.com/tombee/taskcore/pkg/task/router"
	"github.com/tombee/taskcore/pkg/workflow/engine"
)

// Server wraps an MCP server exposing the task-aware tool surface: every
// domain tool the deployment registers through RegisterTool, wrapped with
// the continuation intercept, plus the task management tools, which are
// registered without it.
type Server struct {
	mcpServer     *server.MCPServer
	router        *router.Router
	owners        *auth.Resolver
	logger        *slog.Logger
	createLimiter *rate.Limiter
}

// Config configures a Server.
type Config struct {
	Name    string
	Version string
	Logger  *slog.Logger

	// CreatesPerMinute bounds tasks_create calls. Zero means the default
	// of 30 per minute.
	CreatesPerMinute int
}

// New constructs a Server bound to router for task lifecycle and
// continuation recording, and owners for bearer-token owner resolution.
func New(cfg Config, rtr *router.Router, owners *auth.Resolver) *Server {
	if cfg.Name == "" {
		cfg.Name = "taskmcpd"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	perMinute := cfg.CreatesPerMinute
	if perMinute <= 0 {
		perMinute = 30
	}

	s := &Server{
		mcpServer:     server.NewMCPServer(cfg.Name, cfg.Version),
		router:        rtr,
		owners:        owners,
		logger:        logger,
		createLimiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute),
	}
	s.registerTaskTools()
	return s
}

// RegisterTool exposes an engine.Tool as an MCP tool, wrapping its handler
// with the continuation intercept: the
// transport routes the call normally — the tool runs on its own merits —
// then, after it completes, invokes the router's intercept if the inbound
// _meta carried a _task_id. The intercept never delays or can fail the
// response already returned to the caller.
func (s *Server) RegisterTool(tool engine.Tool, schema mcp.ToolInputSchema, description string) {
	s.mcpServer.AddTool(mcp.Tool{
		Name:        tool.Name(),
		Description: description,
		InputSchema: schema,
	}, s.wrapWithContinuation(tool))
}

func (s *Server) wrapWithContinuation(tool engine.Tool) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		result, invokeErr := tool.Invoke(ctx, args)

		taskID := extractTaskID(req)
		if taskID != "" {
			owner := s.resolveOwner(ctx)
			// Fire-and-forget: runs after the tool's own result is already
			// computed, and its outcome is never surfaced to the caller.
			go func() {
				if err := s.router.HandleWorkflowContinuation(context.Background(), owner, taskID, tool.Name(), result); err != nil {
					s.logger.Warn("workflow continuation recording failed",
						slog.String("task_id", taskID), slog.String("tool", tool.Name()), slog.String("error", err.Error()))
				}
			}()
		}

		if invokeErr != nil {
			return mcp.NewToolResultError(invokeErr.Error()), nil
		}
		return toolResultToMCP(result), nil
	}
}

// resolveOwner resolves the calling owner from the request context's
// bearer token, falling back to auth.LocalOwner.
func (s *Server) resolveOwner(ctx context.Context) string {
	token := bearerTokenFrom(ctx)
	owner, err := s.owners.ResolveOwner(ctx, token)
	if err != nil {
		s.logger.Warn("owner resolution failed, using local owner", slog.String("error", err.Error()))
		return auth.LocalOwner
	}
	return owner
}

// Serve starts the stdio transport. Writes to stderr for diagnostics; the
// MCP wire protocol owns stdout.
func (s *Server) Serve() error {
	if err := server.ServeStdio(s.mcpServer); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down taskmcpd")
	return nil
}

func toolResultToMCP(result engine.ToolResult) *mcp.CallToolResult {
	content := make([]mcp.Content, 0, len(result.Content))
	for _, c := range result.Content {
		if text, ok := c.(string); ok {
			content = append(content, mcp.NewTextContent(text))
			continue
		}
		content = append(content, mcp.NewTextContent(fmt.Sprintf("%v", c)))
	}
	return &mcp.CallToolResult{Content: content, IsError: result.IsError}
}
