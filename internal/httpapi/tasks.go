package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sandboxrun/executor/internal/model"
)

// listTasks handles GET /api/tasks?workspaceId&limit?.
func (h *handler) listTasks(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.URL.Query().Get("workspaceId")
	if workspaceID == "" {
		writeError(w, http.StatusBadRequest, "workspaceId is required")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	tasks, err := h.deps.Store.ListTasks(r.Context(), workspaceID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

type createTaskBody struct {
	WorkspaceID string         `json:"workspaceId"`
	AccountID   string         `json:"accountId"`
	Code        string         `json:"code"`
	RuntimeID   string         `json:"runtimeId"`
	TimeoutMs   int64          `json:"timeoutMs"`
	Metadata    map[string]any `json:"metadata"`
}

// createTask handles POST /api/tasks: it records the task in status
// queued. Actual execution is picked up by whichever scheduler process
// is polling the queue (cmd/server with EXECUTOR_SERVER_AUTO_EXECUTE, or
// a standalone cmd/worker).
func (h *handler) createTask(w http.ResponseWriter, r *http.Request) {
	var body createTaskBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if body.WorkspaceID == "" || body.Code == "" || body.RuntimeID == "" {
		writeError(w, http.StatusBadRequest, "workspaceId, code, and runtimeId are required")
		return
	}
	if _, ok := h.deps.Runtimes.Get(body.RuntimeID); !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown runtimeId %q", body.RuntimeID))
		return
	}

	task := &model.Task{
		ID:          uuid.New().String(),
		WorkspaceID: body.WorkspaceID,
		AccountID:   body.AccountID,
		Code:        body.Code,
		RuntimeID:   body.RuntimeID,
		TimeoutMs:   body.TimeoutMs,
		Metadata:    body.Metadata,
		Status:      model.TaskQueued,
		CreatedAt:   time.Now(),
	}
	if err := h.deps.Store.CreateTask(r.Context(), task); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// getTask handles GET /api/tasks/:id.
func (h *handler) getTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, err := h.deps.Store.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

const sseKeepaliveInterval = 15 * time.Second

// taskEvents handles GET /api/tasks/:id/events: replay the task's journal
// from seq 0, then stream new events as they're published, closing once
// the task reaches a terminal status. A ticker sends a comment-only
// keepalive frame so intermediaries don't time the connection out while
// a task is simply taking a while.
func (h *handler) taskEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	task, err := h.deps.Store.GetTask(ctx, id)
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	var lastSeq int64
	replay, err := h.deps.Store.ListTaskEvents(ctx, id, 0)
	if err != nil {
		return
	}
	for _, ev := range replay {
		writeSSE(w, ev)
		lastSeq = ev.Seq
	}
	flusher.Flush()
	if task.Status.IsTerminal() {
		return
	}

	events, cancel := h.deps.Store.SubscribeTaskEvents(ctx, id, lastSeq)
	defer cancel()

	ticker := time.NewTicker(sseKeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			writeSSE(w, ev)
			flusher.Flush()
			if isTerminalEventType(ev.Type) {
				return
			}
		case <-ticker.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev *model.TaskEvent) {
	payload, err := jsonMarshal(ev.Payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
}

func isTerminalEventType(eventType string) bool {
	switch eventType {
	case model.EventTaskCompleted, model.EventTaskFailed, model.EventTaskTimedOut, model.EventTaskDenied:
		return true
	default:
		return false
	}
}
