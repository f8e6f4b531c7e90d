// Command server serves the executor control plane's public HTTP API
// (internal/httpapi) and its internal sandbox bridge endpoints
// (internal/sandboxbridge), optionally running the Task Scheduler
// in-process alongside them when EXECUTOR_SERVER_AUTO_EXECUTE=1.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sandboxrun/executor/internal/approval"
	"github.com/sandboxrun/executor/internal/config"
	"github.com/sandboxrun/executor/internal/credential"
	"github.com/sandboxrun/executor/internal/execenv"
	"github.com/sandboxrun/executor/internal/httpapi"
	"github.com/sandboxrun/executor/internal/invocation"
	"github.com/sandboxrun/executor/internal/model"
	"github.com/sandboxrun/executor/internal/runtime"
	"github.com/sandboxrun/executor/internal/runtime/starlark"
	"github.com/sandboxrun/executor/internal/runtime/subprocess"
	"github.com/sandboxrun/executor/internal/sandbox"
	"github.com/sandboxrun/executor/internal/sandboxbridge"
	"github.com/sandboxrun/executor/internal/scheduler"
	"github.com/sandboxrun/executor/internal/store"
	"github.com/sandboxrun/executor/internal/toolregistry"
	"github.com/sandboxrun/executor/internal/toolsource"
	"github.com/sandboxrun/executor/internal/toolsource/graphql"
	"github.com/sandboxrun/executor/internal/toolsource/mcp"
	"github.com/sandboxrun/executor/internal/toolsource/openapi"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", "error", err)
		os.Exit(1)
	}

	s := store.NewMemoryStore()
	registry := toolregistry.New(s, map[model.ToolSourceKind]toolsource.Loader{
		model.ToolSourceOpenAPI: openapi.NewLoader(),
		model.ToolSourceGraphQL: graphql.NewLoader(),
		model.ToolSourceMCP:     mcp.NewLoader(),
	})
	approvals := approval.New(s)
	creds := credential.NewResolver(s)
	pipeline := invocation.New(s, registry, approvals, creds)

	runtimes := buildRuntimeRegistry(cfg)

	router := httpapi.NewRouter(httpapi.Deps{
		Store: s, Registry: registry, Pipeline: pipeline,
		Approvals: approvals, Creds: creds, Runtimes: runtimes, Log: log,
	})

	if cfg.InternalToken != "" {
		bridge := sandboxbridge.New(s, pipeline, approvals, cfg.InternalToken, log)
		router.Post("/internal/runs/{runId}/tool-call", func(w http.ResponseWriter, r *http.Request) {
			bridge.ToolCall(w, r, chi.URLParam(r, "runId"))
		})
		router.Post("/internal/runs/{runId}/output", func(w http.ResponseWriter, r *http.Request) {
			bridge.Output(w, r, chi.URLParam(r, "runId"))
		})
	} else {
		log.Warn("EXECUTOR_INTERNAL_TOKEN not set; internal sandbox bridge endpoints are disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.ServerAutoExecute {
		sch := scheduler.New(s, pipeline, approvals, runtimes, cfg.WorkerBatchSize,
			time.Duration(cfg.WorkerPollIntervalMs)*time.Millisecond, log)
		go sch.Run(ctx)
	}

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		log.Info("server listening", "port", cfg.Port, "autoExecute", cfg.ServerAutoExecute)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	s.Close()
}

// buildRuntimeRegistry always registers the in-process starlark runtime;
// it additionally registers the out-of-process subprocess runtime under
// cfg.VercelSandboxRuntime's id when a runner script is configured via
// EXECUTOR_RUNNER_INTERP/EXECUTOR_RUNNER_PATH (local wiring on top of the
// §6 environment variable table, not itself spec-named, since the spec
// names only the runtime variant id, not where its runner script lives).
func buildRuntimeRegistry(cfg config.Config) *runtime.Registry {
	runtimes := []runtime.Runtime{starlark.New("starlark", "Starlark (in-process)")}

	interp := os.Getenv("EXECUTOR_RUNNER_INTERP")
	runnerPath := os.Getenv("EXECUTOR_RUNNER_PATH")
	if interp != "" && runnerPath != "" {
		env := execenv.DefaultShellEnvironmentPolicy()
		runtimes = append(runtimes, subprocess.New(
			cfg.VercelSandboxRuntime, "Sandboxed subprocess",
			interp, runnerPath, &env, sandbox.NewSandboxManager(),
		))
	}
	return runtime.NewRegistry(runtimes...)
}
