package httpapi

import (
	"net/http"

	"github.com/sandboxrun/executor/internal/version"
)

// systemToolCount is the number of built-in discovery tools the
// invocation pipeline always serves (internal/invocation.isSystemTool),
// independent of any workspace's registry build.
const systemToolCount = 3 // discover, catalog.namespaces, catalog.tools

// health handles GET /api/health: liveness plus a base tool count.
func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"baseToolCount": systemToolCount,
		"gitCommit":     version.GitCommit,
	})
}
