package httpapi

import (
	"net/http"

	"github.com/sandboxrun/executor/internal/model"
	"github.com/sandboxrun/executor/internal/policy"
)

// listTools handles GET /api/tools?workspaceId&actorId?&clientId?: the
// workspace's current tool catalog filtered down to what the given actor
// is allowed to see at all (anything the Policy Engine would not
// outright deny). A tool whose effective decision is require_approval is
// still listed — the caller finds that out when it actually invokes it.
func (h *handler) listTools(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.URL.Query().Get("workspaceId")
	if workspaceID == "" {
		writeError(w, http.StatusBadRequest, "workspaceId is required")
		return
	}
	actorID := r.URL.Query().Get("actorId")
	clientID := r.URL.Query().Get("clientId")

	ctx := r.Context()
	buildID, err := h.deps.Registry.EnsureFresh(ctx, workspaceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	entries, err := h.deps.Registry.ListTools(ctx, workspaceID, buildID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	policies, err := h.deps.Store.ListPolicies(ctx, workspaceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	pctx := policy.Context{WorkspaceID: workspaceID, AccountID: actorID, ClientID: clientID}
	visible := make([]*model.ToolRegistryEntry, 0, len(entries))
	for _, e := range entries {
		tool := policy.Tool{Path: e.Path, Source: e.SourceKey, Namespace: e.Namespace, DefaultApprove: e.ApprovalMode}
		if policy.Decide(tool, pctx, policies, nil) != policy.Deny {
			visible = append(visible, e)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"buildId": buildID, "tools": visible})
}
