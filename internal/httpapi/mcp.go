package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/google/uuid"

	"github.com/sandboxrun/executor/internal/model"
)

// mcpPollInterval governs run_code's synchronous wait for task completion:
// the task row is re-read every 250ms, independent of the scheduler's own
// queue poll interval (EXECUTOR_WORKER_POLL_MS, 2s by default).
const mcpPollInterval = 250 * time.Millisecond

// runCodeInput is the one tool this server exposes: it hands code to the
// executor the same way a direct POST /api/tasks call would, then blocks
// for the task's terminal outcome. The SDK derives the tool's JSON Schema
// from this struct's fields.
type runCodeInput struct {
	Code      string `json:"code" jsonschema:"the code to execute"`
	RuntimeID string `json:"runtimeId" jsonschema:"which runtime target to execute against"`
	TimeoutMs int64  `json:"timeoutMs,omitempty" jsonschema:"optional execution timeout in milliseconds"`
}

type runCodeOutput struct {
	Status   model.TaskStatus `json:"status"`
	Result   any              `json:"result,omitempty"`
	Error    string           `json:"error,omitempty"`
	ExitCode *int             `json:"exitCode,omitempty"`
}

// newMCPHandler builds the http.Handler serving POST/GET/DELETE /mcp. Per
// request it binds workspaceId and actorId from the query string (clientId
// and sessionId are not read) and constructs a server exposing run_code closed over that
// context, mirroring how internal/toolsource/mcp's client side binds a
// connection per config rather than sharing one global client.
func newMCPHandler(deps Deps) http.Handler {
	getServer := func(r *http.Request) *gomcp.Server {
		q := r.URL.Query()
		workspaceID := q.Get("workspaceId")
		accountID := q.Get("actorId")

		server := gomcp.NewServer(&gomcp.Implementation{Name: "executor", Version: "1.0.0"}, nil)
		gomcp.AddTool(server, &gomcp.Tool{
			Name:        "run_code",
			Description: "Execute code against one of the executor's runtime targets and return its terminal outcome.",
		}, func(ctx context.Context, req *gomcp.CallToolRequest, in runCodeInput) (*gomcp.CallToolResult, runCodeOutput, error) {
			return runCode(ctx, deps, workspaceID, accountID, in)
		})
		return server
	}

	return gomcp.NewStreamableHTTPHandler(getServer, nil)
}

func runCode(ctx context.Context, deps Deps, workspaceID, accountID string, in runCodeInput) (*gomcp.CallToolResult, runCodeOutput, error) {
	if workspaceID == "" {
		return toolError("workspaceId query parameter is required")
	}
	if _, ok := deps.Runtimes.Get(in.RuntimeID); !ok {
		return toolError(fmt.Sprintf("unknown runtimeId %q", in.RuntimeID))
	}

	task := &model.Task{
		ID: uuid.New().String(), WorkspaceID: workspaceID, AccountID: accountID,
		Code: in.Code, RuntimeID: in.RuntimeID, TimeoutMs: in.TimeoutMs,
		Status: model.TaskQueued, CreatedAt: time.Now(),
	}
	if err := deps.Store.CreateTask(ctx, task); err != nil {
		return toolError(err.Error())
	}

	ticker := time.NewTicker(mcpPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return toolError("run_code: context cancelled while waiting for task completion")
		case <-ticker.C:
			current, err := deps.Store.GetTask(ctx, task.ID)
			if err != nil {
				return toolError(err.Error())
			}
			if current.Status.IsTerminal() {
				out := runCodeOutput{Status: current.Status, Result: current.Result, Error: current.Error, ExitCode: current.ExitCode}
				text, _ := json.Marshal(out)
				return &gomcp.CallToolResult{Content: []gomcp.Content{&gomcp.TextContent{Text: string(text)}}}, out, nil
			}
		}
	}
}

func toolError(message string) (*gomcp.CallToolResult, runCodeOutput, error) {
	out := runCodeOutput{Status: model.TaskFailed, Error: message}
	return &gomcp.CallToolResult{
		IsError: true,
		Content: []gomcp.Content{&gomcp.TextContent{Text: message}},
	}, out, nil
}
