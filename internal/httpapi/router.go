// Package httpapi implements the control plane's public HTTP API (§6):
// health, anonymous bootstrap, runtime target listing, tool discovery,
// tool source / policy / credential CRUD, task lifecycle plus SSE event
// streaming, approval resolution, and an MCP protocol passthrough.
//
// The teacher carries no HTTP server of its own (its client is the
// Temporal worker's workflow/activity boundary); chi is the retrieval
// pack's attested router for this concern (kadirpekel-hector).
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sandboxrun/executor/internal/approval"
	"github.com/sandboxrun/executor/internal/credential"
	"github.com/sandboxrun/executor/internal/invocation"
	"github.com/sandboxrun/executor/internal/runtime"
	"github.com/sandboxrun/executor/internal/store"
	"github.com/sandboxrun/executor/internal/toolregistry"
)

// Deps bundles the collaborators every handler group needs. It is built
// once in cmd/server and threaded into NewRouter the way the teacher
// threads workflow.Context through its activities.
type Deps struct {
	Store     store.Store
	Registry  *toolregistry.Builder
	Pipeline  *invocation.Pipeline
	Approvals *approval.Coordinator
	Creds     *credential.Resolver
	Runtimes  *runtime.Registry
	Log       *slog.Logger
}

type handler struct {
	deps Deps
}

// NewRouter builds the chi.Mux serving every public endpoint in §6.
func NewRouter(deps Deps) *chi.Mux {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	h := &handler{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.MethodFunc(http.MethodOptions, "/*", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/api/health", h.health)
	r.Post("/api/auth/anonymous/bootstrap", h.bootstrap)
	r.Get("/api/runtime-targets", h.runtimeTargets)
	r.Get("/api/tools", h.listTools)

	r.Route("/api/tool-sources", func(r chi.Router) {
		r.Get("/", h.listToolSources)
		r.Post("/", h.createToolSource)
		r.Delete("/{id}", h.deleteToolSource)
	})

	r.Route("/api/tasks", func(r chi.Router) {
		r.Get("/", h.listTasks)
		r.Post("/", h.createTask)
		r.Get("/{id}", h.getTask)
		r.Get("/{id}/events", h.taskEvents)
	})

	r.Get("/api/approvals", h.listApprovals)
	r.Post("/api/approvals/{approvalId}", h.resolveApproval)

	r.Route("/api/policies", func(r chi.Router) {
		r.Get("/", h.listPolicies)
		r.Post("/", h.upsertPolicy)
	})

	r.Route("/api/credentials", func(r chi.Router) {
		r.Get("/", h.listCredentials)
		r.Post("/", h.upsertCredential)
	})

	mcpHandler := newMCPHandler(deps)
	r.Handle("/mcp", mcpHandler)

	return r
}

// corsMiddleware returns permissive CORS per §6 ("All endpoints accept
// OPTIONS and return permissive CORS").
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
