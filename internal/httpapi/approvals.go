package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sandboxrun/executor/internal/model"
)

// listApprovals handles GET /api/approvals?workspaceId&status?. It returns
// at most 500 approvals, the store's ListApprovals cap.
func (h *handler) listApprovals(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.URL.Query().Get("workspaceId")
	if workspaceID == "" {
		writeError(w, http.StatusBadRequest, "workspaceId is required")
		return
	}
	status := model.ApprovalStatus(r.URL.Query().Get("status"))

	approvals, err := h.deps.Store.ListApprovals(r.Context(), workspaceID, status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"approvals": approvals})
}

type resolveApprovalBody struct {
	WorkspaceID string `json:"workspaceId"`
	Decision    string `json:"decision"`
	ReviewerID  string `json:"reviewerId"`
	Reason      string `json:"reason"`
}

// resolveApproval handles POST /api/approvals/:approvalId.
func (h *handler) resolveApproval(w http.ResponseWriter, r *http.Request) {
	approvalID := chi.URLParam(r, "approvalId")

	var body resolveApprovalBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if body.WorkspaceID == "" {
		writeError(w, http.StatusBadRequest, "workspaceId is required")
		return
	}

	var status model.ApprovalStatus
	switch body.Decision {
	case "approved":
		status = model.ApprovalApproved
	case "denied":
		status = model.ApprovalDenied
	default:
		writeError(w, http.StatusBadRequest, `decision must be "approved" or "denied"`)
		return
	}

	resolved, err := h.deps.Approvals.Resolve(r.Context(), body.WorkspaceID, approvalID, status, body.ReviewerID, body.Reason)
	if err != nil {
		writeError(w, http.StatusNotFound, "approval not found")
		return
	}
	if resolved == nil {
		// Already resolved: the spec models this as a no-op, so return the
		// approval's current (already-terminal) state rather than an error.
		existing, err := h.deps.Approvals.Get(r.Context(), body.WorkspaceID, approvalID)
		if err != nil {
			writeError(w, http.StatusNotFound, "approval not found")
			return
		}
		writeJSON(w, http.StatusOK, existing)
		return
	}
	writeJSON(w, http.StatusOK, resolved)
}
