package openapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxrun/executor/internal/toolsource"
)

func TestSanitize(t *testing.T) {
	assert.Equal(t, "my_repo", Sanitize("my-repo"))
	assert.Equal(t, "unnamed", Sanitize("***"))
	assert.Equal(t, "createIssue", Sanitize("createIssue"))
}

const specTemplate = `{
  "openapi": "3.0.0",
  "info": {"title": "t", "version": "1.0"},
  "servers": [{"url": "%s"}],
  "paths": {
    "/repos/{owner}/{repo}/issues": {
      "post": {
        "operationId": "createIssue",
        "tags": ["issues"],
        "parameters": [
          {"name": "owner", "in": "path", "required": true, "schema": {"type": "string"}},
          {"name": "repo", "in": "path", "required": true, "schema": {"type": "string"}}
        ],
        "requestBody": {
          "content": {
            "application/json": {
              "schema": {
                "type": "object",
                "properties": {"title": {"type": "string"}},
                "required": ["title"]
              }
            }
          }
        }
      },
      "get": {
        "operationId": "listIssues",
        "tags": ["issues"],
        "parameters": [
          {"name": "owner", "in": "path", "required": true, "schema": {"type": "string"}},
          {"name": "repo", "in": "path", "required": true, "schema": {"type": "string"}},
          {"name": "labels", "in": "query", "schema": {"type": "array", "items": {"type": "string"}}}
        ]
      }
    }
  }
}`

func TestLoad_ProducesOneToolPerOperation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodPost:
			json.NewEncoder(w).Encode(map[string]any{"id": 1, "title": r.URL.Query().Get("title")})
		case http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{"labels": r.URL.Query()["labels"]})
		}
	}))
	defer srv.Close()

	l := NewLoader()
	result, err := l.Load(context.Background(), "openapi:github", map[string]any{
		"spec": fmt.Sprintf(specTemplate, srv.URL),
	})
	require.NoError(t, err)
	require.Len(t, result.Tools, 2)

	byPath := map[string]bool{}
	for _, tool := range result.Tools {
		byPath[tool.Path] = true
		assert.Equal(t, "openapi_github", tool.Namespace)
	}
	assert.True(t, byPath["openapi_github.issues.createIssue"])
	assert.True(t, byPath["openapi_github.issues.listIssues"])
}

func TestLoad_ApprovalDefaultsByMethod(t *testing.T) {
	l := NewLoader()
	result, err := l.Load(context.Background(), "openapi:github", map[string]any{"spec": `{
		"openapi": "3.0.0",
		"info": {"title": "t", "version": "1.0"},
		"servers": [{"url": "http://example.test"}],
		"paths": {
			"/x": {
				"get": {"operationId": "readX"},
				"post": {"operationId": "writeX"}
			}
		}
	}`})
	require.NoError(t, err)

	approvals := map[string]string{}
	for _, tool := range result.Tools {
		approvals[tool.Path] = tool.DefaultApproval
	}
	assert.Equal(t, "auto", approvals["openapi_github.default.readX"])
	assert.Equal(t, "required", approvals["openapi_github.default.writeX"])
}

func TestInvoke_SubstitutesPathAndQuery(t *testing.T) {
	var gotPath, gotRawQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotRawQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	spec := `{
		"openapi": "3.0.0",
		"info": {"title": "t", "version": "1.0"},
		"servers": [{"url": "` + srv.URL + `"}],
		"paths": {
			"/repos/{owner}/{repo}/issues": {
				"get": {
					"operationId": "listIssues",
					"parameters": [
						{"name": "owner", "in": "path", "required": true, "schema": {"type": "string"}},
						{"name": "repo", "in": "path", "required": true, "schema": {"type": "string"}},
						{"name": "labels", "in": "query", "explode": true, "schema": {"type": "array", "items": {"type": "string"}}}
					]
				}
			}
		}
	}`

	l := NewLoader()
	result, err := l.Load(context.Background(), "openapi:github", map[string]any{"spec": spec})
	require.NoError(t, err)
	require.Len(t, result.Tools, 1)

	tool := result.Tools[0]
	_, err = tool.Invoke(context.Background(), toolsource.RunContext{}, map[string]any{
		"owner": "acme", "repo": "widgets", "labels": []any{"bug", "p1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "/repos/acme/widgets/issues", gotPath)
	assert.Contains(t, gotRawQuery, "labels=bug")
	assert.Contains(t, gotRawQuery, "labels=p1")
}
