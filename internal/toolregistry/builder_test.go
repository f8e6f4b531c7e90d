package toolregistry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxrun/executor/internal/model"
	"github.com/sandboxrun/executor/internal/store"
	"github.com/sandboxrun/executor/internal/toolsource"
)

type stubLoader struct {
	tools []toolsource.SerializedTool
	err   error
}

func (l *stubLoader) Load(ctx context.Context, sourceKey string, config map[string]any) (toolsource.LoadResult, error) {
	if l.err != nil {
		return toolsource.LoadResult{}, l.err
	}
	return toolsource.LoadResult{Tools: l.tools}, nil
}

func newTestBuilder(t *testing.T, loader toolsource.Loader) (*Builder, store.Store, string) {
	t.Helper()
	s := store.NewMemoryStore()
	workspaceID := "ws_1"
	src := &model.ToolSource{
		ID:          "src_1",
		WorkspaceID: workspaceID,
		Kind:        model.ToolSourceOpenAPI,
		Name:        "github",
		Enabled:     true,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	require.NoError(t, s.UpsertToolSource(context.Background(), src))
	b := New(s, map[model.ToolSourceKind]toolsource.Loader{
		model.ToolSourceOpenAPI: loader,
	})
	return b, s, workspaceID
}

func TestBuild_IndexesAndCommitsReadyBuild(t *testing.T) {
	loader := &stubLoader{tools: []toolsource.SerializedTool{
		{
			Path:            "github.issues.create",
			PreferredPath:   "github.issues.create",
			Namespace:       "github",
			SourceKey:       "openapi:github",
			DefaultApproval: "required",
			InputSchema: map[string]any{
				"type":     "object",
				"required": []any{"title"},
				"properties": map[string]any{
					"title": map[string]any{"type": "string"},
					"body":  map[string]any{"type": "string"},
				},
			},
		},
	}}
	b, s, workspaceID := newTestBuilder(t, loader)

	buildID, err := b.Build(context.Background(), workspaceID)
	require.NoError(t, err)
	assert.NotEmpty(t, buildID)

	st, err := s.GetRegistryState(context.Background(), workspaceID)
	require.NoError(t, err)
	assert.Equal(t, model.RegistryReady, st.Status)
	assert.Equal(t, buildID, st.ReadyBuildID)
	assert.Empty(t, st.BuildingBuildID)
	assert.Equal(t, 1, st.ToolCount)

	entries, err := b.ListTools(context.Background(), workspaceID, buildID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "github", entries[0].Namespace)
	assert.Equal(t, []string{"title"}, entries[0].RequiredInputs)

	namespaces, err := b.ListNamespaces(context.Background(), workspaceID, buildID)
	require.NoError(t, err)
	require.Len(t, namespaces, 1)
	assert.Equal(t, 1, namespaces[0].ToolCount)
}

func TestEnsureFresh_ReusesReadyBuildWhenSignatureUnchanged(t *testing.T) {
	loader := &stubLoader{tools: []toolsource.SerializedTool{{Path: "github.issues.create", SourceKey: "openapi:github"}}}
	b, _, workspaceID := newTestBuilder(t, loader)

	first, err := b.EnsureFresh(context.Background(), workspaceID)
	require.NoError(t, err)

	second, err := b.EnsureFresh(context.Background(), workspaceID)
	require.NoError(t, err)
	assert.Equal(t, first, second, "unchanged signature must reuse the ready build, not rebuild")
}

func TestListTools_ErrorsWhenBuildIDNotReady(t *testing.T) {
	loader := &stubLoader{}
	b, _, workspaceID := newTestBuilder(t, loader)

	_, err := b.ListTools(context.Background(), workspaceID, "nonexistent-build")
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestBuild_NoLoaderRegisteredSurfacesSourceError(t *testing.T) {
	s := store.NewMemoryStore()
	workspaceID := "ws_2"
	src := &model.ToolSource{
		ID:          "src_2",
		WorkspaceID: workspaceID,
		Kind:        model.ToolSourceMCP,
		Name:        "filesystem",
		Enabled:     true,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	require.NoError(t, s.UpsertToolSource(context.Background(), src))
	b := New(s, map[model.ToolSourceKind]toolsource.Loader{})

	buildID, err := b.Build(context.Background(), workspaceID)
	require.NoError(t, err, "a missing loader is a per-source warning, not a build-wide failure")
	assert.NotEmpty(t, buildID)

	st, err := s.GetRegistryState(context.Background(), workspaceID)
	require.NoError(t, err)
	require.Len(t, st.SourceStates, 1)
	assert.Contains(t, st.SourceStates[0].Error, "no loader registered")
}

func TestSignature_IgnoresDisabledSources(t *testing.T) {
	now := time.Now()
	enabled := &model.ToolSource{ID: "a", Enabled: true, UpdatedAt: now}
	disabled := &model.ToolSource{ID: "b", Enabled: false, UpdatedAt: now}

	withDisabled := Signature([]*model.ToolSource{enabled, disabled})
	withoutDisabled := Signature([]*model.ToolSource{enabled})
	assert.Equal(t, withoutDisabled, withDisabled)
}

func TestSuggest_FindsNearTypo(t *testing.T) {
	entries := []*model.ToolRegistryEntry{
		{Path: "github.issues.create", Namespace: "github", Aliases: []string{"github.issues.create"}},
		{Path: "slack.messages.send", Namespace: "slack"},
	}
	suggestions := Suggest("github.issue.create", entries)
	require.NotEmpty(t, suggestions)
	assert.Equal(t, "github.issues.create", suggestions[0])
}
