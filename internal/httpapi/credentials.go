package httpapi

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/sandboxrun/executor/internal/credential"
	"github.com/sandboxrun/executor/internal/model"
)

// listCredentials handles GET /api/credentials?workspaceId. The response
// never carries a secret payload, per the CredentialRecord invariant;
// each row is projected through credential.Summarize.
func (h *handler) listCredentials(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.URL.Query().Get("workspaceId")
	if workspaceID == "" {
		writeError(w, http.StatusBadRequest, "workspaceId is required")
		return
	}
	records, err := h.deps.Store.ListCredentials(r.Context(), workspaceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	summaries := make([]credential.Summary, 0, len(records))
	for _, rec := range records {
		summaries = append(summaries, credential.Summarize(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"credentials": summaries})
}

type upsertCredentialBody struct {
	ID              string            `json:"id"`
	WorkspaceID     string            `json:"workspaceId"`
	Scope           model.PolicyScope `json:"scope"`
	TargetAccountID string            `json:"targetAccountId"`
	SourceKey       string            `json:"sourceKey"`
	SecretJSON      map[string]any    `json:"secretJson"`
	HeaderOverrides map[string]string `json:"headerOverrides"`
}

// upsertCredential handles POST /api/credentials. The request body
// carries secretJson (it must, to set one); the response never echoes it
// back, same as listCredentials.
func (h *handler) upsertCredential(w http.ResponseWriter, r *http.Request) {
	var body upsertCredentialBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if body.WorkspaceID == "" || body.SourceKey == "" {
		writeError(w, http.StatusBadRequest, "workspaceId and sourceKey are required")
		return
	}
	if body.ID == "" {
		body.ID = uuid.New().String()
	}

	rec := &model.CredentialRecord{
		ID: body.ID, WorkspaceID: body.WorkspaceID, Scope: body.Scope,
		TargetAccountID: body.TargetAccountID, SourceKey: body.SourceKey,
		SecretJSON: body.SecretJSON, HeaderOverrides: body.HeaderOverrides,
	}
	if err := h.deps.Store.UpsertCredential(r.Context(), rec); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, credential.Summarize(rec))
}
