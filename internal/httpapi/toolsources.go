package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sandboxrun/executor/internal/model"
)

// listToolSources handles GET /api/tool-sources?workspaceId.
func (h *handler) listToolSources(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.URL.Query().Get("workspaceId")
	if workspaceID == "" {
		writeError(w, http.StatusBadRequest, "workspaceId is required")
		return
	}
	sources, err := h.deps.Store.ListToolSources(r.Context(), workspaceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"toolSources": sources})
}

type toolSourceBody struct {
	ID          string               `json:"id"`
	WorkspaceID string               `json:"workspaceId"`
	Kind        model.ToolSourceKind `json:"kind"`
	Name        string               `json:"name"`
	Config      map[string]any       `json:"config"`
	Enabled     bool                 `json:"enabled"`
}

// createToolSource handles POST /api/tool-sources: it upserts the record
// and runs a registry rebuild synchronously. The builder does not join
// concurrent builds: while another build holds a live claim for the
// workspace, the rebuild fails with an error.
func (h *handler) createToolSource(w http.ResponseWriter, r *http.Request) {
	var body toolSourceBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if body.WorkspaceID == "" || body.Name == "" {
		writeError(w, http.StatusBadRequest, "workspaceId and name are required")
		return
	}
	if body.ID == "" {
		body.ID = uuid.New().String()
	}

	src := &model.ToolSource{
		ID: body.ID, WorkspaceID: body.WorkspaceID, Kind: body.Kind,
		Name: body.Name, Config: body.Config, Enabled: body.Enabled,
	}
	if err := h.deps.Store.UpsertToolSource(r.Context(), src); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if _, err := h.deps.Registry.Build(r.Context(), body.WorkspaceID); err != nil {
		h.deps.Log.Warn("tool source registry rebuild failed", "workspaceId", body.WorkspaceID, "error", err)
	}

	writeJSON(w, http.StatusOK, src)
}

// deleteToolSource handles DELETE /api/tool-sources/:id?workspaceId.
func (h *handler) deleteToolSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	workspaceID := r.URL.Query().Get("workspaceId")
	if workspaceID == "" {
		writeError(w, http.StatusBadRequest, "workspaceId is required")
		return
	}
	if err := h.deps.Store.DeleteToolSource(r.Context(), workspaceID, id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
