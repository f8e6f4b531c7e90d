package toolregistry

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/sandboxrun/executor/internal/model"
	"github.com/sandboxrun/executor/internal/toolsource"
)

// namespace is the first dotted segment of a tool path.
func namespace(path string) string {
	if i := strings.Index(path, "."); i >= 0 {
		return path[:i]
	}
	return path
}

var nonWordRe = regexp.MustCompile(`[^a-z0-9]+`)

// normalizedPath lowercases, strips separators, and dedupes a tool path
// into a token useful for fuzzy lookup when the exact or preferred path
// doesn't match: "GitHub.Issues.Create" and "github_issues_create" both
// normalize to "githubissuescreate".
func normalizedPath(path string) string {
	return nonWordRe.ReplaceAllString(strings.ToLower(path), "")
}

// NormalizedPath exports normalizedPath for callers outside this package
// that need to retry a lookup by normalized form, e.g. the invocation
// pipeline's tool-resolution fallback.
func NormalizedPath(path string) string { return normalizedPath(path) }

// aliases returns the variant spellings a lookup should also try: the
// preferred (prettified) path, that path with its dots removed, a
// lowercased copy of it, and the normalized form of the canonical path —
// deduplicated, excluding the canonical path itself. Segments are not
// re-cased, so no camelCased variant is produced.
func aliases(canonicalPath, preferredPath string) []string {
	seen := map[string]bool{canonicalPath: true}
	var out []string
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	add(preferredPath)
	add(strings.ReplaceAll(preferredPath, ".", ""))
	add(strings.ToLower(preferredPath))
	add(normalizedPath(canonicalPath))
	return out
}

// requiredInputKeys reads "required" off a JSON-Schema-shaped input
// schema; it tolerates both []string and []any (as decoded from JSON).
func requiredInputKeys(schema map[string]any) []string {
	raw, ok := schema["required"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// previewKeys picks a small, stable subset of a schema's top-level
// property names to show in compact tool listings: required keys first,
// then remaining properties in sorted order, capped at 5.
func previewKeys(schema map[string]any) []string {
	props, _ := schema["properties"].(map[string]any)
	if len(props) == 0 {
		return nil
	}
	required := map[string]bool{}
	for _, k := range requiredInputKeys(schema) {
		required[k] = true
	}
	var req, rest []string
	for k := range props {
		if required[k] {
			req = append(req, k)
		} else {
			rest = append(rest, k)
		}
	}
	sort.Strings(req)
	sort.Strings(rest)
	keys := append(req, rest...)
	if len(keys) > 5 {
		keys = keys[:5]
	}
	return keys
}

// displayHint prefers the loader-provided hint unless it's marked lossy,
// in which case it derives a plain JSON Schema hint instead.
func displayHint(provided *toolsource.DisplayHint, schema map[string]any) *model.DisplayHint {
	if provided != nil && provided.Kind != "lossy" {
		return &model.DisplayHint{Kind: provided.Kind, Text: provided.Text}
	}
	if schema == nil {
		return nil
	}
	b, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	return &model.DisplayHint{Kind: "json_schema", Text: string(b)}
}

// toRegistryEntry converts a loader's SerializedTool plus build
// coordinates into the persisted ToolRegistryEntry shape.
func toRegistryEntry(workspaceID, buildID string, t toolsource.SerializedTool) *model.ToolRegistryEntry {
	var inputHint *toolsource.DisplayHint
	if t.InputHint != nil {
		inputHint = t.InputHint
	}
	var outputHint *toolsource.DisplayHint
	if t.OutputHint != nil {
		outputHint = t.OutputHint
	}

	serialized := map[string]any{
		"path":            t.Path,
		"description":     t.Description,
		"defaultApproval": t.DefaultApproval,
		"sourceKey":       t.SourceKey,
		"pseudo":          t.IsPseudo(),
	}
	if t.InputSchema != nil {
		serialized["inputSchema"] = t.InputSchema
	}

	return &model.ToolRegistryEntry{
		WorkspaceID:    workspaceID,
		BuildID:        buildID,
		Path:           t.Path,
		PreferredPath:  t.PreferredPath,
		Aliases:        aliases(t.Path, t.PreferredPath),
		Namespace:      namespace(t.Path),
		NormalizedPath: normalizedPath(t.Path),
		Description:    t.Description,
		ApprovalMode:   model.ApprovalMode(t.DefaultApproval),
		SourceKey:      t.SourceKey,
		InputHint:      displayHint(inputHint, t.InputSchema),
		OutputHint:     displayHint(outputHint, t.OutputSchema),
		RequiredInputs: requiredInputKeys(t.InputSchema),
		PreviewKeys:    previewKeys(t.InputSchema),
		SerializedTool: serialized,
	}
}
