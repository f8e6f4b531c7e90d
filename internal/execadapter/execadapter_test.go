package execadapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxrun/executor/internal/approval"
	"github.com/sandboxrun/executor/internal/credential"
	"github.com/sandboxrun/executor/internal/invocation"
	"github.com/sandboxrun/executor/internal/model"
	"github.com/sandboxrun/executor/internal/store"
	"github.com/sandboxrun/executor/internal/toolregistry"
	"github.com/sandboxrun/executor/internal/toolsource"
)

type fakeLoader struct{ approvalMode string }

func (l *fakeLoader) Load(ctx context.Context, sourceKey string, config map[string]any) (toolsource.LoadResult, error) {
	return toolsource.LoadResult{Tools: []toolsource.SerializedTool{{
		Path: "demo.echo", PreferredPath: "demo.echo", Namespace: "demo",
		SourceKey: sourceKey, DefaultApproval: l.approvalMode,
		Invoke: func(ctx context.Context, rc toolsource.RunContext, input map[string]any) (any, error) {
			return input, nil
		},
	}}}, nil
}

func setup(t *testing.T, approvalMode string) (*InProcess, store.Store, *approval.Coordinator, string) {
	t.Helper()
	s := store.NewMemoryStore()
	workspaceID := "ws_1"
	require.NoError(t, s.UpsertToolSource(context.Background(), &model.ToolSource{
		ID: "src_1", WorkspaceID: workspaceID, Kind: model.ToolSourceOpenAPI, Name: "demo",
		Enabled: true, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))
	registry := toolregistry.New(s, map[model.ToolSourceKind]toolsource.Loader{model.ToolSourceOpenAPI: &fakeLoader{approvalMode: approvalMode}})
	approvals := approval.New(s)
	creds := credential.NewResolver(s)
	pipeline := invocation.New(s, registry, approvals, creds)

	require.NoError(t, s.CreateTask(context.Background(), &model.Task{
		ID: "task_1", WorkspaceID: workspaceID, Status: model.TaskRunning, CreatedAt: time.Now(),
	}))

	adapter := NewInProcess(pipeline, approvals, workspaceID, "", "", "task_1", nil)
	return adapter, s, approvals, workspaceID
}

func TestInvokeTool_SuccessReturnsOkResult(t *testing.T) {
	adapter, _, _, _ := setup(t, "auto")

	result, err := adapter.InvokeTool(context.Background(), ToolCallRequest{CallID: "call_1", ToolPath: "demo.echo", Input: map[string]any{"a": 1}})
	require.NoError(t, err)
	assert.True(t, result.Ok)
}

func TestInvokeTool_BlocksUntilApprovedThenSucceeds(t *testing.T) {
	adapter, s, approvals, workspaceID := setup(t, "required")

	done := make(chan ToolCallResult, 1)
	go func() {
		result, err := adapter.InvokeTool(context.Background(), ToolCallRequest{CallID: "call_1", ToolPath: "demo.echo"})
		require.NoError(t, err)
		done <- result
	}()

	require.Eventually(t, func() bool {
		pending, err := s.ListApprovals(context.Background(), workspaceID, model.ApprovalPending)
		return err == nil && len(pending) == 1
	}, time.Second, 10*time.Millisecond)

	pending, err := s.ListApprovals(context.Background(), workspaceID, model.ApprovalPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	_, err = approvals.Resolve(context.Background(), workspaceID, pending[0].ID, model.ApprovalApproved, "reviewer_1", "")
	require.NoError(t, err)

	select {
	case result := <-done:
		assert.True(t, result.Ok)
	case <-time.After(2 * time.Second):
		t.Fatal("expected InvokeTool to unblock after approval")
	}
}
