package graphql

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxrun/executor/internal/toolsource"
)

func introspectionFixture() map[string]any {
	return map[string]any{
		"data": map[string]any{
			"__schema": map[string]any{
				"queryType":    map[string]any{"name": "Query"},
				"mutationType": map[string]any{"name": "Mutation"},
				"types": []map[string]any{
					{
						"name": "Query",
						"kind": "OBJECT",
						"fields": []map[string]any{
							{"name": "viewer"},
							{"name": "repository"},
						},
					},
					{
						"name": "Mutation",
						"kind": "OBJECT",
						"fields": []map[string]any{
							{"name": "createIssue"},
						},
					},
				},
			},
		},
	}
}

func TestLoad_BuildsExecutorAndPseudoTools(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		json.Unmarshal(body, &req)
		q, _ := req["query"].(string)

		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(q, "IntrospectionQuery") {
			json.NewEncoder(w).Encode(introspectionFixture())
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"viewer": map[string]any{"login": "octo"}}})
	}))
	defer srv.Close()

	l := NewLoader()
	result, err := l.Load(context.Background(), "graphql:github", map[string]any{"endpoint": srv.URL})
	require.NoError(t, err)
	require.Empty(t, result.Warnings)

	paths := map[string]toolsource.SerializedTool{}
	for _, tool := range result.Tools {
		paths[tool.Path] = tool
	}

	exec, ok := paths["graphql_github.graphql"]
	require.True(t, ok)
	assert.NotNil(t, exec.Invoke)
	assert.Equal(t, "required", exec.DefaultApproval)

	viewer, ok := paths["graphql_github.query.viewer"]
	require.True(t, ok)
	assert.Nil(t, viewer.Invoke, "pseudo-tools must be inert")
	assert.Equal(t, "auto", viewer.DefaultApproval)

	createIssue, ok := paths["graphql_github.mutation.createIssue"]
	require.True(t, ok)
	assert.Nil(t, createIssue.Invoke)
	assert.Equal(t, "required", createIssue.DefaultApproval)
}

func TestInvoke_ExecutesRawQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		json.Unmarshal(body, &req)
		q, _ := req["query"].(string)

		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(q, "IntrospectionQuery") {
			json.NewEncoder(w).Encode(introspectionFixture())
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"viewer": map[string]any{"login": "octo"}}})
	}))
	defer srv.Close()

	l := NewLoader()
	result, err := l.Load(context.Background(), "graphql:github", map[string]any{"endpoint": srv.URL})
	require.NoError(t, err)

	var exec toolsource.SerializedTool
	for _, tool := range result.Tools {
		if tool.Path == "graphql_github.graphql" {
			exec = tool
		}
	}
	require.NotNil(t, exec.Invoke)

	out, err := exec.Invoke(context.Background(), toolsource.RunContext{}, map[string]any{"query": "{ viewer { login } }"})
	require.NoError(t, err)
	assert.NotNil(t, out)
}

