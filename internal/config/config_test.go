package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_AppliesDefaultsWithNoEnvironment(t *testing.T) {
	for _, key := range envKeys {
		t.Setenv(key, "")
	}

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", c.Port)
	assert.True(t, c.AutoTailscaleFunnel)
	assert.False(t, c.ServerAutoExecute)
	assert.Equal(t, "subprocess", c.VercelSandboxRuntime)
	assert.Equal(t, int64(2000), c.WorkerPollIntervalMs)
	assert.Equal(t, 16, c.WorkerBatchSize)
}

func TestLoad_OverridesFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("EXECUTOR_AUTO_TAILSCALE_FUNNEL", "0")
	t.Setenv("EXECUTOR_SERVER_AUTO_EXECUTE", "1")
	t.Setenv("EXECUTOR_WORKER_POLL_MS", "500")
	t.Setenv("EXECUTOR_WORKER_BATCH_SIZE", "4")
	t.Setenv("EXECUTOR_TOOL_SOURCES", `[{"kind":"openapi","name":"github","enabled":true}]`)

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", c.Port)
	assert.False(t, c.AutoTailscaleFunnel)
	assert.True(t, c.ServerAutoExecute)
	assert.Equal(t, int64(500), c.WorkerPollIntervalMs)
	assert.Equal(t, 4, c.WorkerBatchSize)
	require.Len(t, c.ToolSources, 1)
	assert.Equal(t, "github", c.ToolSources[0].Name)
}

func TestLoad_RejectsMalformedToolSources(t *testing.T) {
	t.Setenv("EXECUTOR_TOOL_SOURCES", `not json`)
	_, err := Load()
	require.Error(t, err)
}

func TestLoad_RejectsUnknownToolSourceKind(t *testing.T) {
	t.Setenv("EXECUTOR_TOOL_SOURCES", `[{"kind":"soap","name":"legacy"}]`)
	_, err := Load()
	require.Error(t, err)
}

var envKeys = []string{
	"PORT", "EXECUTOR_INTERNAL_BASE_URL", "EXECUTOR_PUBLIC_BASE_URL",
	"EXECUTOR_INTERNAL_TOKEN", "EXECUTOR_AUTO_TAILSCALE_FUNNEL",
	"EXECUTOR_TOOL_SOURCES", "EXECUTOR_SERVER_AUTO_EXECUTE",
	"EXECUTOR_VERCEL_SANDBOX_RUNTIME", "EXECUTOR_WORKER_POLL_MS",
	"EXECUTOR_WORKER_BATCH_SIZE", "EXECUTOR_REPOSITORY_URL",
}
