package toolregistry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sandboxrun/executor/internal/toolsource"
)

func TestNamespace(t *testing.T) {
	assert.Equal(t, "github", namespace("github.issues.create"))
	assert.Equal(t, "standalone", namespace("standalone"))
}

func TestNormalizedPath(t *testing.T) {
	assert.Equal(t, "githubissuescreate", normalizedPath("GitHub.Issues.Create"))
	assert.Equal(t, normalizedPath("github_issues_create"), normalizedPath("GitHub.Issues.Create"))
}

func TestAliases_ExcludesCanonicalAndDedupes(t *testing.T) {
	got := aliases("github.issues.create", "github.issues.create")
	assert.NotContains(t, got, "github.issues.create")
	assert.Equal(t, []string{"githubissuescreate"}, got)
}

func TestRequiredInputKeys_HandlesJSONDecodedSlice(t *testing.T) {
	schema := map[string]any{"required": []any{"title", "body"}}
	assert.Equal(t, []string{"title", "body"}, requiredInputKeys(schema))
}

func TestPreviewKeys_RequiredFirstCappedAtFive(t *testing.T) {
	schema := map[string]any{
		"required": []any{"title"},
		"properties": map[string]any{
			"title": map[string]any{"type": "string"},
			"a":     map[string]any{"type": "string"},
			"b":     map[string]any{"type": "string"},
			"c":     map[string]any{"type": "string"},
			"d":     map[string]any{"type": "string"},
			"e":     map[string]any{"type": "string"},
		},
	}
	keys := previewKeys(schema)
	assert.Len(t, keys, 5)
	assert.Equal(t, "title", keys[0])
}

func TestDisplayHint_PrefersProvidedUnlessLossy(t *testing.T) {
	provided := &toolsource.DisplayHint{Kind: "typescript", Text: "{ title: string }"}
	hint := displayHint(provided, map[string]any{"type": "object"})
	assert.Equal(t, "typescript", hint.Kind)

	lossy := &toolsource.DisplayHint{Kind: "lossy", Text: "unknown"}
	hint = displayHint(lossy, map[string]any{"type": "object"})
	assert.Equal(t, "json_schema", hint.Kind)
}
