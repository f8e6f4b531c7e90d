package httpapi

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
	"github.com/sandboxrun/executor/internal/runtime"
	"github.com/sandboxrun/executor/internal/store"
	"github.com/sandboxrun/executor/internal/toolregistry"
	"github.com/sandboxrun/executor/internal/toolsource"
)

type stubRuntime struct{ id string }

func (r *stubRuntime) Descriptor() runtime.Descriptor { return runtime.Descriptor{ID: r.id, Label: r.id} }
func (r *stubRuntime) Run(ctx context.Context, req runtime.Request, adapter execadapter.Adapter) (runtime.Result, error) {
	return runtime.Result{Value: "ok"}, nil
}

func newTestRouter(t *testing.T) (http.Handler, string) {
	t.Helper()
	s := store.NewMemoryStore()
	workspaceID := "ws_1"
	registry := toolregistry.New(s, map[model.ToolSourceKind]toolsource.Loader{})
	approvals := approval.New(s)
	creds := credential.NewResolver(s)
	pipeline := invocation.New(s, registry, approvals, creds)
	runtimes := runtime.NewRegistry(&stubRuntime{id: "starlark"})

	r := NewRouter(Deps{
		Store: s, Registry: registry, Pipeline: pipeline, Approvals: approvals,
		Creds: creds, Runtimes: runtimes,
	})
	return r, workspaceID
}

func TestHealth_ReturnsOK(t *testing.T) {
	r, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestBootstrap_IsIdempotentOnSessionID(t *testing.T) {
	r, _ := newTestRouter(t)
	body, _ := json.Marshal(map[string]string{"sessionId": "session-1"})

	var first, second bootstrapResponse
	for _, target := range []*bootstrapResponse{&first, &second} {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/anonymous/bootstrap", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		require.NoError(t, json.NewDecoder(rec.Body).Decode(target))
	}
	assert.Equal(t, first, second)
}

func TestRuntimeTargets_ListsRegisteredRuntimes(t *testing.T) {
	r, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/runtime-targets", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Targets []runtime.Descriptor `json:"targets"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Targets, 1)
	assert.Equal(t, "starlark", body.Targets[0].ID)
}

func TestCreateAndGetTask_RoundTrips(t *testing.T) {
	r, workspaceID := newTestRouter(t)

	createBody, _ := json.Marshal(createTaskBody{WorkspaceID: workspaceID, Code: "return 1", RuntimeID: "starlark"})
	req := httptest.NewRequest(http.MethodPost, "/api/tasks", bytes.NewReader(createBody))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var task model.Task
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&task))
	assert.Equal(t, model.TaskQueued, task.Status)

	getReq := httptest.NewRequest(http.MethodGet, "/api/tasks/"+task.ID, nil)
	getRec := httptest.NewRecorder()
	r.ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)
}

func TestCreateTask_RejectsUnknownRuntime(t *testing.T) {
	r, workspaceID := newTestRouter(t)
	body, _ := json.Marshal(createTaskBody{WorkspaceID: workspaceID, Code: "return 1", RuntimeID: "missing"})
	req := httptest.NewRequest(http.MethodPost, "/api/tasks", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPolicies_UpsertThenList(t *testing.T) {
	r, workspaceID := newTestRouter(t)
	policy := model.AccessPolicy{
		WorkspaceID: workspaceID, Scope: model.ScopeWorkspace,
		ResourceType: model.ResourceAllTools, Effect: model.EffectAllow,
		ApprovalMode: model.ApprovalModeAuto,
	}
	body, _ := json.Marshal(policy)
	req := httptest.NewRequest(http.MethodPost, "/api/policies", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	listReq := httptest.NewRequest(http.MethodGet, "/api/policies?workspaceId="+workspaceID, nil)
	listRec := httptest.NewRecorder()
	r.ServeHTTP(listRec, listReq)
	require.Equal(t, http.StatusOK, listRec.Code)

	var listBody struct {
		Policies []*model.AccessPolicy `json:"policies"`
	}
	require.NoError(t, json.NewDecoder(listRec.Body).Decode(&listBody))
	require.Len(t, listBody.Policies, 1)
}

func TestCredentials_ResponseNeverExposesSecret(t *testing.T) {
	r, workspaceID := newTestRouter(t)
	body, _ := json.Marshal(upsertCredentialBody{
		WorkspaceID: workspaceID, Scope: model.ScopeWorkspace, SourceKey: "openapi:github",
		SecretJSON: map[string]any{"token": "shh"},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/credentials", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "shh")

	listReq := httptest.NewRequest(http.MethodGet, "/api/credentials?workspaceId="+workspaceID, nil)
	listRec := httptest.NewRecorder()
	r.ServeHTTP(listRec, listReq)
	require.Equal(t, http.StatusOK, listRec.Code)
	assert.NotContains(t, listRec.Body.String(), "shh")
	assert.Contains(t, listRec.Body.String(), `"hasSecret":true`)
}

func TestApprovals_ResolveApprovedTransitionsStatus(t *testing.T) {
	workspaceID := "ws_1"
	s := store.NewMemoryStore()
	require.NoError(t, s.CreateTask(context.Background(), &model.Task{
		ID: "task_1", WorkspaceID: workspaceID, Status: model.TaskRunning, CreatedAt: time.Now(),
	}))
	coord := approval.New(s)
	a, err := coord.Create(context.Background(), workspaceID, "task_1", "call_1", "demo.write", nil)
	require.NoError(t, err)

	registry := toolregistry.New(s, map[model.ToolSourceKind]toolsource.Loader{})
	router := NewRouter(Deps{
		Store:     s,
		Registry:  registry,
		Pipeline:  invocation.New(s, registry, coord, credential.NewResolver(s)),
		Approvals: coord,
		Creds:     credential.NewResolver(s),
		Runtimes:  runtime.NewRegistry(&stubRuntime{id: "starlark"}),
	})

	resolveBody, _ := json.Marshal(resolveApprovalBody{WorkspaceID: workspaceID, Decision: "approved", ReviewerID: "rev_1"})
	req := httptest.NewRequest(http.MethodPost, "/api/approvals/"+a.ID, bytes.NewReader(resolveBody))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resolved model.Approval
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resolved))
	assert.Equal(t, model.ApprovalApproved, resolved.Status)
}
