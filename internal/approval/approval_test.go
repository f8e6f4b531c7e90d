package approval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxrun/executor/internal/model"
	"github.com/sandboxrun/executor/internal/store"
)

func newTask(t *testing.T, s store.Store, workspaceID, taskID string) {
	t.Helper()
	require.NoError(t, s.CreateTask(context.Background(), &model.Task{
		ID: taskID, WorkspaceID: workspaceID, Status: model.TaskQueued, CreatedAt: time.Now(),
	}))
}

func TestCreate_PublishesApprovalRequested(t *testing.T) {
	s := store.NewMemoryStore()
	newTask(t, s, "ws_1", "task_1")
	c := New(s)

	a, err := c.Create(context.Background(), "ws_1", "task_1", "call_1", "github.issues.create", map[string]any{"title": "bug"})
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalPending, a.Status)

	events, cancel := s.SubscribeTaskEvents(context.Background(), "task_1", 0)
	defer cancel()
	select {
	case ev := <-events:
		assert.Equal(t, model.EventApprovalRequested, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("expected approval.requested event")
	}
}

func TestResolve_ApprovedPublishesResolvedEvent(t *testing.T) {
	s := store.NewMemoryStore()
	newTask(t, s, "ws_1", "task_1")
	c := New(s)

	a, err := c.Create(context.Background(), "ws_1", "task_1", "call_1", "github.issues.create", nil)
	require.NoError(t, err)

	resolved, err := c.Resolve(context.Background(), "ws_1", a.ID, model.ApprovalApproved, "reviewer_1", "looks fine")
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, model.ApprovalApproved, resolved.Status)
}

func TestResolve_AlreadyResolvedIsNoOp(t *testing.T) {
	s := store.NewMemoryStore()
	newTask(t, s, "ws_1", "task_1")
	c := New(s)

	a, err := c.Create(context.Background(), "ws_1", "task_1", "call_1", "github.issues.create", nil)
	require.NoError(t, err)

	_, err = c.Resolve(context.Background(), "ws_1", a.ID, model.ApprovalDenied, "reviewer_1", "no")
	require.NoError(t, err)

	again, err := c.Resolve(context.Background(), "ws_1", a.ID, model.ApprovalApproved, "reviewer_2", "changed my mind")
	require.NoError(t, err)
	assert.Nil(t, again, "resolving an already-resolved approval must be a no-op")
}

func TestWaitForResolution_WakesOnSubscribedEvent(t *testing.T) {
	s := store.NewMemoryStore()
	newTask(t, s, "ws_1", "task_1")
	c := New(s)

	a, err := c.Create(context.Background(), "ws_1", "task_1", "call_1", "github.issues.create", nil)
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = c.Resolve(context.Background(), "ws_1", a.ID, model.ApprovalApproved, "reviewer_1", "")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resolved, err := c.WaitForResolution(ctx, "ws_1", "task_1", a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalApproved, resolved.Status)
}

func TestWaitForResolution_ReturnsImmediatelyIfAlreadyResolved(t *testing.T) {
	s := store.NewMemoryStore()
	newTask(t, s, "ws_1", "task_1")
	c := New(s)

	a, err := c.Create(context.Background(), "ws_1", "task_1", "call_1", "github.issues.create", nil)
	require.NoError(t, err)
	_, err = c.Resolve(context.Background(), "ws_1", a.ID, model.ApprovalDenied, "reviewer_1", "no")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resolved, err := c.WaitForResolution(ctx, "ws_1", "task_1", a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalDenied, resolved.Status)
}
