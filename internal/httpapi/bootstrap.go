package httpapi

import (
	"net/http"

	"github.com/google/uuid"
)

// bootstrapNamespace seeds the deterministic derivation of a workspace/
// account id pair from a client-supplied sessionId: the same sessionId
// always yields the same pair (the endpoint's "idempotent on sessionId"
// requirement) with no server-side session table to maintain.
var bootstrapNamespace = uuid.MustParse("6f9eb1d0-9c1e-4f60-9a3f-0b2f6a7c9d10")

type bootstrapResponse struct {
	WorkspaceID string `json:"workspaceId"`
	AccountID   string `json:"accountId"`
}

// bootstrap handles POST /api/auth/anonymous/bootstrap.
func (h *handler) bootstrap(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string `json:"sessionId"`
	}
	_ = decodeJSON(r, &body)

	if body.SessionID == "" {
		writeJSON(w, http.StatusOK, bootstrapResponse{
			WorkspaceID: uuid.New().String(),
			AccountID:   uuid.New().String(),
		})
		return
	}

	writeJSON(w, http.StatusOK, bootstrapResponse{
		WorkspaceID: uuid.NewSHA1(bootstrapNamespace, []byte("workspace:"+body.SessionID)).String(),
		AccountID:   uuid.NewSHA1(bootstrapNamespace, []byte("account:"+body.SessionID)).String(),
	})
}
