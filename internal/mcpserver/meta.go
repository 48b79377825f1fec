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

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tombee/taskcore/pkg/meta"
)

// extractTaskID reads the inbound _meta._task_id field from a tools/call
// request. The field name is fixed on the wire regardless of
// mcp-go's internal Meta representation, so this round-trips through JSON
// rather than depending on a specific struct shape.
func extractTaskID(req mcp.CallToolRequest) string {
	raw := req.Params.Meta
	if raw == nil {
		return ""
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return ""
	}
	var m meta.ToolCallMeta
	if err := json.Unmarshal(b, &m); err != nil {
		return ""
	}
	return m.TaskID
}

// bearerTokenCtxKey is an unexported context key for the raw bearer token
// a transport-level auth middleware extracted from the request. The
// transport (stdio or HTTP) is
// responsible for setting it; absent a token, owner resolution falls back
// to auth.LocalOwner.
type bearerTokenCtxKey struct{}

// WithBearerToken attaches a bearer token to ctx for later owner
// resolution.
func WithBearerToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, bearerTokenCtxKey{}, token)
}

func bearerTokenFrom(ctx context.Context) string {
	token, _ := ctx.Value(bearerTokenCtxKey{}).(string)
	return token
}
