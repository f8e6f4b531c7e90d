package sandboxbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxrun/executor/internal/approval"
	"github.com/sandboxrun/executor/internal/credential"
	"github.com/sandboxrun/executor/internal/execadapter"
	"github.com/sandboxrun/executor/internal/invocation"
	"github.com/sandboxrun/executor/internal/model"
	"github.com/sandboxrun/executor/internal/store"
	"github.com/sandboxrun/executor/internal/toolregistry"
	"github.com/sandboxrun/executor/internal/toolsource"
)

type echoLoader struct{}

func (echoLoader) Load(ctx context.Context, sourceKey string, config map[string]any) (toolsource.LoadResult, error) {
	return toolsource.LoadResult{Tools: []toolsource.SerializedTool{{
		Path: "demo.echo", PreferredPath: "demo.echo", Namespace: "demo",
		SourceKey: sourceKey, DefaultApproval: "auto",
		Invoke: func(ctx context.Context, rc toolsource.RunContext, input map[string]any) (any, error) { return input, nil },
	}}}, nil
}

func newHandler(t *testing.T) (*Handler, string) {
	t.Helper()
	s := store.NewMemoryStore()
	workspaceID := "ws_1"
	require.NoError(t, s.UpsertToolSource(context.Background(), &model.ToolSource{
		ID: "src_1", WorkspaceID: workspaceID, Kind: model.ToolSourceOpenAPI, Name: "demo",
		Enabled: true, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))
	registry := toolregistry.New(s, map[model.ToolSourceKind]toolsource.Loader{model.ToolSourceOpenAPI: echoLoader{}})
	approvals := approval.New(s)
	creds := credential.NewResolver(s)
	pipeline := invocation.New(s, registry, approvals, creds)

	require.NoError(t, s.CreateTask(context.Background(), &model.Task{
		ID: "run_1", WorkspaceID: workspaceID, Status: model.TaskRunning, CreatedAt: time.Now(),
	}))

	return New(s, pipeline, approvals, "secret-token", nil), workspaceID
}

func TestToolCall_RejectsMissingToken(t *testing.T) {
	h, _ := newHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/internal/runs/run_1/tool-call", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()

	h.ToolCall(rec, req, "run_1")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestToolCall_InvokesPipelineAndReturnsResult(t *testing.T) {
	h, _ := newHandler(t)
	body, _ := json.Marshal(toolCallRequestBody{CallID: "call_1", ToolPath: "demo.echo", Input: map[string]any{"x": 1}})
	req := httptest.NewRequest(http.MethodPost, "/internal/runs/run_1/tool-call", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret-token")
	rec := httptest.NewRecorder()

	h.ToolCall(rec, req, "run_1")
	require.Equal(t, http.StatusOK, rec.Code)

	var result execadapter.ToolCallResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.True(t, result.Ok)
}

func TestOutput_RecordsTaskEvent(t *testing.T) {
	h, _ := newHandler(t)
	body, _ := json.Marshal(outputRequestBody{Stream: "stdout", Line: "hello"})
	req := httptest.NewRequest(http.MethodPost, "/internal/runs/run_1/output", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret-token")
	rec := httptest.NewRecorder()

	h.Output(rec, req, "run_1")
	require.Equal(t, http.StatusOK, rec.Code)

	events, err := h.store.ListTaskEvents(context.Background(), "run_1", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventTaskOutput, events[0].Type)
}
