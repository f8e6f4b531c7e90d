// Package mcp adapts a single Model Context Protocol server into the
// uniform toolsource.SerializedTool shape. One Loader connects to one
// ToolSource's MCP endpoint (preferring streamable HTTP, falling back to
// SSE), lists its tools once at load time, and produces tools whose
// Invoke forwards to callTool, transparently reconnecting when the
// connection has gone bad.
package mcp

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"sync"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sandboxrun/executor/internal/toolsource"
)

// transientErrorPattern matches socket/connection errors worth a single
// reconnect-and-retry rather than a hard failure.
var transientErrorPattern = regexp.MustCompile(`(?i)(EOF|connection reset|broken pipe|closed network connection|context deadline exceeded|i/o timeout)`)

func isTransient(err error) bool {
	return err != nil && transientErrorPattern.MatchString(err.Error())
}

// Loader connects to one MCP server per ToolSource.Config:
//   - config["command"] + config["args"] (stdio transport), or
//   - config["url"] (streamable-HTTP, with SSE fallback)
type Loader struct {
	mu      sync.Mutex
	clients map[string]*connection // sourceKey -> connection config, read by Invoke to reconnect per call
}

type connection struct {
	client *gomcp.Client
	config map[string]any
}

func NewLoader() *Loader {
	return &Loader{clients: make(map[string]*connection)}
}

func (l *Loader) Load(ctx context.Context, sourceKey string, config map[string]any) (toolsource.LoadResult, error) {
	session, err := l.connect(ctx, config)
	if err != nil {
		return toolsource.LoadResult{Warnings: []string{"mcp: connect failed: " + err.Error()}}, nil
	}

	l.mu.Lock()
	l.clients[sourceKey] = &connection{config: config}
	l.mu.Unlock()

	result, err := session.ListTools(ctx, nil)
	if err != nil {
		_ = session.Close()
		return toolsource.LoadResult{Warnings: []string{"mcp: listTools failed: " + err.Error()}}, nil
	}

	name := sanitizeName(sourceKey)
	var tools []toolsource.SerializedTool
	for _, mt := range result.Tools {
		toolName := mt.Name
		var inputSchema map[string]any
		if mt.InputSchema != nil {
			if m, ok := mt.InputSchema.(map[string]any); ok {
				inputSchema = m
			}
		}
		tools = append(tools, toolsource.SerializedTool{
			Path:            name + "." + sanitizeName(toolName),
			PreferredPath:   name + "." + toolName,
			Namespace:       name,
			Description:     mt.Description,
			DefaultApproval: approvalFor(mt),
			SourceKey:       sourceKey,
			InputSchema:     inputSchema,
			Invoke:          l.invoker(sourceKey, toolName),
		})
	}

	// The load-time session is not kept open; Invoke reconnects lazily per
	// call and reuses nothing cross-call, matching the bridge's
	// one-shot-tool-call shape rather than holding a long-lived session
	// per workspace.
	_ = session.Close()

	return toolsource.LoadResult{Tools: tools}, nil
}

func approvalFor(t *gomcp.Tool) string {
	if t.Annotations != nil && t.Annotations.ReadOnlyHint {
		return "auto"
	}
	return "required"
}

// invoker returns a SerializedTool.Invoke that calls the named MCP tool,
// reconnecting once on a transient error before giving up.
func (l *Loader) invoker(sourceKey, toolName string) func(context.Context, toolsource.RunContext, map[string]any) (any, error) {
	return func(ctx context.Context, rc toolsource.RunContext, input map[string]any) (any, error) {
		l.mu.Lock()
		conn, ok := l.clients[sourceKey]
		l.mu.Unlock()
		if !ok {
			return nil, fmt.Errorf("mcp: source %q not loaded", sourceKey)
		}

		call := func() (*gomcp.CallToolResult, error) {
			session, err := l.connect(ctx, conn.config)
			if err != nil {
				return nil, err
			}
			defer session.Close()
			return session.CallTool(ctx, &gomcp.CallToolParams{Name: toolName, Arguments: input})
		}

		result, err := call()
		if isTransient(err) {
			result, err = call()
		}
		if err != nil {
			return nil, fmt.Errorf("mcp: call %s failed: %w", toolName, err)
		}
		if result.IsError {
			return nil, fmt.Errorf("mcp: tool %s returned an error result", toolName)
		}
		return result.Content, nil
	}
}

func (l *Loader) connect(ctx context.Context, config map[string]any) (*gomcp.ClientSession, error) {
	client := gomcp.NewClient(&gomcp.Implementation{Name: "executor", Version: "1.0.0"}, nil)

	if command, ok := config["command"].(string); ok && command != "" {
		var args []string
		if raw, ok := config["args"].([]any); ok {
			for _, a := range raw {
				if s, ok := a.(string); ok {
					args = append(args, s)
				}
			}
		}
		cmd := exec.CommandContext(ctx, command, args...)
		return client.Connect(ctx, &gomcp.CommandTransport{Command: cmd}, nil)
	}

	if rawURL, ok := config["url"].(string); ok && rawURL != "" {
		// StreamableClientTransport negotiates streamable-HTTP and falls
		// back to the legacy SSE framing when the server only advertises
		// the older protocol version.
		transport := &gomcp.StreamableClientTransport{Endpoint: rawURL}
		session, err := client.Connect(ctx, transport, nil)
		if err != nil {
			return nil, err
		}
		return session, nil
	}

	return nil, fmt.Errorf("mcp: config must set command or url")
}

var nonAlnum = regexp.MustCompile(`[^A-Za-z0-9]+`)

func sanitizeName(s string) string {
	out := nonAlnum.ReplaceAllString(s, "_")
	out = regexp.MustCompile(`^_+|_+$`).ReplaceAllString(out, "")
	if out == "" {
		return "unnamed"
	}
	return out
}
