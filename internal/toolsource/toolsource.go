// Package toolsource defines the uniform output of every tool source
// loader (OpenAPI, GraphQL, MCP) and the Loader contract the Tool Registry
// Builder drives. Concrete loaders live in the openapi, graphql, and mcp
// subpackages.
package toolsource

import "context"

// DisplayHint mirrors model.DisplayHint; redefined here (rather than
// imported) so loaders can construct one without depending on the
// registry's persistence shape. toolregistry converts between the two
// when indexing.
type DisplayHint struct {
	Kind string // "typescript" | "json_schema" | "lossy"
	Text string
}

// SerializedTool is the uniform shape every loader produces, regardless
// of source kind. The Tool Registry Builder indexes a batch of these into
// ToolRegistryEntry rows.
type SerializedTool struct {
	Path            string
	PreferredPath   string
	Namespace       string
	Description     string
	DefaultApproval string // "auto" | "required" | "inherit"
	SourceKey       string
	InputSchema     map[string]any
	OutputSchema    map[string]any
	InputHint       *DisplayHint
	OutputHint      *DisplayHint
	RequiredInputs  []string

	// Invoke executes this tool given a resolved input and an execution
	// context. Pseudo-tools (GraphQL root-field stand-ins) set Invoke to
	// nil: they exist only for policy matching and discovery and must
	// never be called directly.
	Invoke func(ctx context.Context, rc RunContext, input map[string]any) (any, error)
}

// IsPseudo reports whether this tool can only be matched/discovered, not
// invoked — true for GraphQL's per-field synthetic paths.
func (t SerializedTool) IsPseudo() bool { return t.Invoke == nil }

// RunContext is what a loader's Invoke function receives at call time:
// identity for auth/credential purposes and any headers the invocation
// pipeline has already resolved (resolved credential headers and overrides,
// then explicit input headers, composed in that precedence). Static auth
// headers from the source's config are not among them; loaders apply those.
type RunContext struct {
	WorkspaceID string
	AccountID   string
	ClientID    string
	Headers     map[string]string
}

// LoadResult is what a Loader returns: the flattened tool set plus any
// non-fatal warnings encountered while scanning the source.
type LoadResult struct {
	Tools    []SerializedTool
	Warnings []string
}

// Loader adapts one ToolSource kind into a uniform tool list. Loaders must
// be side-effect-free at scan time: a failure is reported as an error (the
// caller turns it into a warning) and must never panic in a way that
// aborts the whole registry build.
type Loader interface {
	Load(ctx context.Context, sourceKey string, config map[string]any) (LoadResult, error)
}
