package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxrun/executor/internal/approval"
	"github.com/sandboxrun/executor/internal/credential"
	"github.com/sandboxrun/executor/internal/execadapter"
	"github.com/sandboxrun/executor/internal/invocation"
	"github.com/sandboxrun/executor/internal/model"
	"github.com/sandboxrun/executor/internal/runtime"
	"github.com/sandboxrun/executor/internal/store"
	"github.com/sandboxrun/executor/internal/toolregistry"
	"github.com/sandboxrun/executor/internal/toolsource"
)

type stubRuntime struct {
	id     string
	result runtime.Result
	err    error
}

func (r *stubRuntime) Descriptor() runtime.Descriptor { return runtime.Descriptor{ID: r.id, Label: r.id} }
func (r *stubRuntime) Run(ctx context.Context, req runtime.Request, adapter execadapter.Adapter) (runtime.Result, error) {
	return r.result, r.err
}

func newScheduler(t *testing.T, rt runtime.Runtime) (*Scheduler, store.Store) {
	t.Helper()
	s := store.NewMemoryStore()
	registry := toolregistry.New(s, map[model.ToolSourceKind]toolsource.Loader{})
	approvals := approval.New(s)
	creds := credential.NewResolver(s)
	pipeline := invocation.New(s, registry, approvals, creds)
	runtimes := runtime.NewRegistry(rt)
	sch := New(s, pipeline, approvals, runtimes, 10, 20*time.Millisecond, nil)
	return sch, s
}

func TestDispatch_CompletesSuccessfulTask(t *testing.T) {
	exitCode := 0
	rt := &stubRuntime{id: "starlark", result: runtime.Result{ExitCode: &exitCode, Value: 42}}
	sch, s := newScheduler(t, rt)

	require.NoError(t, s.CreateTask(context.Background(), &model.Task{
		ID: "task_1", WorkspaceID: "ws_1", RuntimeID: "starlark", Status: model.TaskQueued, CreatedAt: time.Now(),
	}))

	sch.drainQueue(context.Background(), "test")

	task, err := s.GetTask(context.Background(), "task_1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, task.Status)
	assert.Equal(t, float64(42), toFloat(task.Result))
}

func TestDispatch_UnknownRuntimeFailsTask(t *testing.T) {
	rt := &stubRuntime{id: "starlark"}
	sch, s := newScheduler(t, rt)

	require.NoError(t, s.CreateTask(context.Background(), &model.Task{
		ID: "task_1", WorkspaceID: "ws_1", RuntimeID: "missing", Status: model.TaskQueued, CreatedAt: time.Now(),
	}))

	sch.drainQueue(context.Background(), "test")

	task, err := s.GetTask(context.Background(), "task_1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskFailed, task.Status)
	assert.Equal(t, "Runtime not found", task.Error)
}

func TestDispatch_TimeoutMapsToTimedOut(t *testing.T) {
	rt := &stubRuntime{id: "starlark", err: runtime.ErrTimeout}
	sch, s := newScheduler(t, rt)

	require.NoError(t, s.CreateTask(context.Background(), &model.Task{
		ID: "task_1", WorkspaceID: "ws_1", RuntimeID: "starlark", Status: model.TaskQueued, CreatedAt: time.Now(),
	}))

	sch.drainQueue(context.Background(), "test")

	task, err := s.GetTask(context.Background(), "task_1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskTimedOut, task.Status)
}

func TestDispatch_DeniedRuntimeResultMapsToDenied(t *testing.T) {
	rt := &stubRuntime{id: "starlark", result: runtime.Result{Denied: true, Err: "tool call denied: policy"}}
	sch, s := newScheduler(t, rt)

	require.NoError(t, s.CreateTask(context.Background(), &model.Task{
		ID: "task_1", WorkspaceID: "ws_1", RuntimeID: "starlark", Status: model.TaskQueued, CreatedAt: time.Now(),
	}))

	sch.drainQueue(context.Background(), "test")

	task, err := s.GetTask(context.Background(), "task_1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskDenied, task.Status)
}

func TestIsLikelySandboxDenial(t *testing.T) {
	assert.True(t, isLikelySandboxDenial("Error: Operation not permitted"))
	assert.True(t, isLikelySandboxDenial("seccomp filter blocked syscall"))
	assert.False(t, isLikelySandboxDenial("file not found: /tmp/x"))
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case float64:
		return n
	default:
		return -1
	}
}
