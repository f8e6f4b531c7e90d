// Package sandboxbridge implements the control-plane side of the Sandbox
// Bridge Protocol (§4.J): the HTTP contract a remote sandbox process uses
// to reach back into the control plane over a shared bearer token. A
// local subprocess runtime (internal/runtime/subprocess) speaks the same
// marker vocabulary without the network hop; this package is for a
// sandbox that is a genuinely separate process or machine.
package sandboxbridge

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sandboxrun/executor/internal/approval"
	"github.com/sandboxrun/executor/internal/execadapter"
	"github.com/sandboxrun/executor/internal/invocation"
	"github.com/sandboxrun/executor/internal/model"
	"github.com/sandboxrun/executor/internal/store"
)

// Handler serves the two internal bridge endpoints. It is mounted by
// cmd/server under a router that extracts the path's runId segment and
// enforces the bearer token; Handler itself re-checks the token as a
// defense-in-depth measure since it must never be reachable unauthenticated.
type Handler struct {
	store     store.Store
	pipeline  *invocation.Pipeline
	approvals *approval.Coordinator
	token     string
	log       *slog.Logger
}

func New(s store.Store, pipeline *invocation.Pipeline, approvals *approval.Coordinator, token string, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{store: s, pipeline: pipeline, approvals: approvals, token: token, log: log}
}

// Authenticate reports whether r carries the configured bearer token.
// Exported so a router can reject unauthenticated requests before ever
// reaching a handler method, per the spec's "authenticated with
// Authorization: Bearer <internal-token>" requirement.
func (h *Handler) Authenticate(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return false
	}
	return auth[len(prefix):] == h.token
}

type toolCallRequestBody struct {
	CallID   string         `json:"callId"`
	ToolPath string         `json:"toolPath"`
	Input    map[string]any `json:"input"`
}

// ToolCall handles POST /internal/runs/{runId}/tool-call.
func (h *Handler) ToolCall(w http.ResponseWriter, r *http.Request, runID string) {
	if !h.Authenticate(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var body toolCallRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, execadapter.ToolCallResult{Ok: false, Kind: execadapter.KindFailed, Error: "malformed request body"})
		return
	}

	task, err := h.store.GetTask(r.Context(), runID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, execadapter.ToolCallResult{Ok: false, Kind: execadapter.KindFailed, Error: "run not found"})
		return
	}

	adapter := execadapter.NewInProcess(h.pipeline, h.approvals, task.WorkspaceID, task.AccountID, "", task.ID, nil)
	result, err := adapter.InvokeTool(r.Context(), execadapter.ToolCallRequest{CallID: body.CallID, ToolPath: body.ToolPath, Input: body.Input})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, execadapter.ToolCallResult{Ok: false, Kind: execadapter.KindFailed, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type outputRequestBody struct {
	Stream    string `json:"stream"`
	Line      string `json:"line"`
	Timestamp int64  `json:"timestamp"`
}

// Output handles POST /internal/runs/{runId}/output.
func (h *Handler) Output(w http.ResponseWriter, r *http.Request, runID string) {
	if !h.Authenticate(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var body outputRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if body.Timestamp == 0 {
		body.Timestamp = time.Now().UnixMilli()
	}

	if _, err := h.store.AppendTaskEvent(r.Context(), &model.TaskEvent{
		TaskID: runID,
		Family: model.EventFamilyTask,
		Type:   model.EventTaskOutput,
		Payload: map[string]any{
			"stream":    body.Stream,
			"line":      body.Line,
			"timestamp": body.Timestamp,
		},
		CreatedAt: time.Now(),
	}); err != nil {
		h.log.Error("append output event failed", "runId", runID, "error", err)
		http.Error(w, "failed to record output", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
