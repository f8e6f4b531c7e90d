package httpapi

import "net/http"

// runtimeTargets handles GET /api/runtime-targets.
func (h *handler) runtimeTargets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"targets": h.deps.Runtimes.List(),
	})
}
