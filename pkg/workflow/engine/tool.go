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
	"context"
	"sync"
)

// ToolResult is the transport-agnostic envelope the engine stores verbatim
// under _workflow.result.<step>: the wrapped form, not the bare inner
// value, so clients can reason about tool errors uniformly.
// internal/mcpserver adapts mcp-go's CallToolResult to and from this shape
// at the transport boundary.
type ToolResult struct {
	Content []any `json:"content"`
	IsError bool  `json:"isError,omitempty"`
}

// ToolSchema is the minimal input-schema surface the engine needs: enough
// to compute the set of missing required fields.
type ToolSchema struct {
	Required []string
}

// Tool is a registered, invokable tool binding.
type Tool interface {
	Name() string
	Schema(ctx context.Context) (*ToolSchema, error)
	Invoke(ctx context.Context, args map[string]any) (ToolResult, error)
}

// ToolRegistry resolves a tool by name. Lookup returning ok=false is what
// drives the tool-missing-from-registry branch of the step loop, which
// pauses with UnresolvableParams.
type ToolRegistry interface {
	Lookup(name string) (Tool, bool)
}

// ResourceFetcher materializes a declared resource URI into an
// assistant-visible value. Failures here pause with UnresolvableParams.
type ResourceFetcher interface {
	Fetch(ctx context.Context, uri string) (any, error)
}

// ToolSet is a map-backed ToolRegistry for in-process tool registration.
// Safe for concurrent use.
type ToolSet struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolSet creates an empty ToolSet.
func NewToolSet() *ToolSet {
	return &ToolSet{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any existing tool of the same name.
func (s *ToolSet) Register(t Tool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[t.Name()] = t
}

// Lookup implements ToolRegistry.
func (s *ToolSet) Lookup(name string) (Tool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tools[name]
	return t, ok
}

// FuncTool adapts a plain function into a Tool.
type FuncTool struct {
	ToolName string
	Required []string
	Fn       func(ctx context.Context, args map[string]any) (ToolResult, error)
}

// Name implements Tool.
func (t *FuncTool) Name() string { return t.ToolName }

// Schema implements Tool.
func (t *FuncTool) Schema(ctx context.Context) (*ToolSchema, error) {
	return &ToolSchema{Required: t.Required}, nil
}

// Invoke implements Tool.
func (t *FuncTool) Invoke(ctx context.Context, args map[string]any) (ToolResult, error) {
	return t.Fn(ctx, args)
}

var (
	_ ToolRegistry = (*ToolSet)(nil)
	_ Tool         = (*FuncTool)(nil)
)
