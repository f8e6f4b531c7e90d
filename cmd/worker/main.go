// Command worker runs a standalone Task Scheduler: it claims queued
// tasks and dispatches them to their runtime, independently of
// cmd/server. Multiple workers (and a cmd/server running with
// EXECUTOR_SERVER_AUTO_EXECUTE=1) are safe to run at once; the store's
// conditional claim write ensures a task is only ever picked up once.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sandboxrun/executor/internal/approval"
	"github.com/sandboxrun/executor/internal/config"
	"github.com/sandboxrun/executor/internal/credential"
	"github.com/sandboxrun/executor/internal/execenv"
	"github.com/sandboxrun/executor/internal/invocation"
	"github.com/sandboxrun/executor/internal/model"
	"github.com/sandboxrun/executor/internal/runtime"
	"github.com/sandboxrun/executor/internal/runtime/starlark"
	"github.com/sandboxrun/executor/internal/runtime/subprocess"
	"github.com/sandboxrun/executor/internal/sandbox"
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

	sch := scheduler.New(s, pipeline, approvals, runtimes,
		cfg.WorkerBatchSize, time.Duration(cfg.WorkerPollIntervalMs)*time.Millisecond, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("worker starting", "pollIntervalMs", cfg.WorkerPollIntervalMs, "batchSize", cfg.WorkerBatchSize)
	sch.Run(ctx)
	log.Info("worker stopped")
	s.Close()
}

// buildRuntimeRegistry mirrors cmd/server's: starlark is always
// available, subprocess only when a runner script is configured.
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
