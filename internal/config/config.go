// Package config assembles the control plane's startup configuration
// from environment variables, following the shape of the teacher's
// SessionConfiguration (internal/models/config.go): typed fields, a
// Default constructor, and a single Load() that overrides the defaults
// from the process environment and validates once at startup rather than
// scattering os.Getenv calls through the rest of the codebase.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/sandboxrun/executor/internal/model"
)

// ToolSourceConfig is one entry of the EXECUTOR_TOOL_SOURCES JSON array.
// Load parses and kind-checks it; nothing in this module seeds a
// workspace from it.
type ToolSourceConfig struct {
	Kind    model.ToolSourceKind `json:"kind"`
	Name    string               `json:"name"`
	Config  map[string]any       `json:"config"`
	Enabled bool                 `json:"enabled"`
}

// Config is the complete set of environment-driven settings §6 names.
type Config struct {
	// Port is the public HTTP API's listen port.
	Port string

	// InternalBaseURL is the base URL a sandbox uses to reach this
	// process's internal bridge endpoints (§4.J).
	InternalBaseURL string

	// PublicBaseURL is the base URL clients use to reach the public API,
	// used to construct any link-back URL this process hands out.
	PublicBaseURL string

	// InternalToken gates every /internal/* request (§4.J, §7
	// Authentication).
	InternalToken string

	// AutoTailscaleFunnel is true unless EXECUTOR_AUTO_TAILSCALE_FUNNEL=0.
	// No code in this module reads it; no Funnel is set up.
	AutoTailscaleFunnel bool

	// ToolSources holds the parsed EXECUTOR_TOOL_SOURCES entries; no code
	// in this module reads it to seed workspaces.
	ToolSources []ToolSourceConfig

	// ServerAutoExecute, when true, runs the Task Scheduler in-process
	// alongside cmd/server rather than relying solely on a standalone
	// cmd/worker.
	ServerAutoExecute bool

	// VercelSandboxRuntime names the runtime id cmd/server registers for
	// the out-of-process subprocess runtime variant.
	VercelSandboxRuntime string

	// WorkerPollIntervalMs and WorkerBatchSize tune the Task Scheduler's
	// queue-drain loop (internal/scheduler).
	WorkerPollIntervalMs int64
	WorkerBatchSize      int

	// RepositoryURL is read from EXECUTOR_REPOSITORY_URL; no health or
	// diagnostic output in this module includes it, and it names no
	// runtime behavior of its own.
	RepositoryURL string
}

// Default returns the configuration used when no environment variable
// overrides a field.
func Default() Config {
	return Config{
		Port:                 "8080",
		AutoTailscaleFunnel:  true,
		ServerAutoExecute:    false,
		VercelSandboxRuntime: "subprocess",
		WorkerPollIntervalMs: 2000,
		WorkerBatchSize:      16,
	}
}

// Load builds a Config from Default(), overridden by the process
// environment, and validates it. It is called once at process startup
// in cmd/server and cmd/worker.
func Load() (Config, error) {
	c := Default()

	if v := os.Getenv("PORT"); v != "" {
		c.Port = v
	}
	c.InternalBaseURL = os.Getenv("EXECUTOR_INTERNAL_BASE_URL")
	c.PublicBaseURL = os.Getenv("EXECUTOR_PUBLIC_BASE_URL")
	c.InternalToken = os.Getenv("EXECUTOR_INTERNAL_TOKEN")
	c.RepositoryURL = os.Getenv("EXECUTOR_REPOSITORY_URL")

	if v := os.Getenv("EXECUTOR_AUTO_TAILSCALE_FUNNEL"); v != "" {
		c.AutoTailscaleFunnel = v != "0"
	}
	if v := os.Getenv("EXECUTOR_SERVER_AUTO_EXECUTE"); v != "" {
		c.ServerAutoExecute = v == "1"
	}
	if v := os.Getenv("EXECUTOR_VERCEL_SANDBOX_RUNTIME"); v != "" {
		c.VercelSandboxRuntime = v
	}
	if v := os.Getenv("EXECUTOR_WORKER_POLL_MS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("config: EXECUTOR_WORKER_POLL_MS must be an integer: %w", err)
		}
		c.WorkerPollIntervalMs = n
	}
	if v := os.Getenv("EXECUTOR_WORKER_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: EXECUTOR_WORKER_BATCH_SIZE must be an integer: %w", err)
		}
		c.WorkerBatchSize = n
	}
	if v := os.Getenv("EXECUTOR_TOOL_SOURCES"); v != "" {
		if err := json.Unmarshal([]byte(v), &c.ToolSources); err != nil {
			return Config{}, fmt.Errorf("config: EXECUTOR_TOOL_SOURCES must be a JSON array: %w", err)
		}
	}

	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) validate() error {
	if c.Port == "" {
		return fmt.Errorf("config: PORT must not be empty")
	}
	if c.WorkerPollIntervalMs <= 0 {
		return fmt.Errorf("config: EXECUTOR_WORKER_POLL_MS must be positive")
	}
	if c.WorkerBatchSize <= 0 {
		return fmt.Errorf("config: EXECUTOR_WORKER_BATCH_SIZE must be positive")
	}
	for _, src := range c.ToolSources {
		switch src.Kind {
		case model.ToolSourceOpenAPI, model.ToolSourceGraphQL, model.ToolSourceMCP:
		default:
			return fmt.Errorf("config: EXECUTOR_TOOL_SOURCES entry %q has unknown kind %q", src.Name, src.Kind)
		}
	}
	return nil
}
