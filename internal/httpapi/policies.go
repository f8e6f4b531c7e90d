package httpapi

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/sandboxrun/executor/internal/model"
)

// listPolicies handles GET /api/policies?workspaceId.
func (h *handler) listPolicies(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.URL.Query().Get("workspaceId")
	if workspaceID == "" {
		writeError(w, http.StatusBadRequest, "workspaceId is required")
		return
	}
	policies, err := h.deps.Store.ListPolicies(r.Context(), workspaceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"policies": policies})
}

// upsertPolicy handles POST /api/policies. The body is an AccessPolicy;
// an absent id creates a new one.
func (h *handler) upsertPolicy(w http.ResponseWriter, r *http.Request) {
	var p model.AccessPolicy
	if err := decodeJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if p.WorkspaceID == "" {
		writeError(w, http.StatusBadRequest, "workspaceId is required")
		return
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if err := h.deps.Store.UpsertPolicy(r.Context(), &p); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}
