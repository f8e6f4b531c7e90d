package invocation

import (
	"context"
	"fmt"
	"strings"

	"github.com/sandboxrun/executor/internal/model"
	"github.com/sandboxrun/executor/internal/policy"
	"github.com/sandboxrun/executor/internal/store"
	"github.com/sandboxrun/executor/internal/toolregistry"
)

// isSystemTool reports whether path is one of the built-in discovery
// tools the pipeline serves directly from the registry rather than
// dispatching to any source loader.
func isSystemTool(path string) bool {
	switch path {
	case "discover", "catalog.namespaces", "catalog.tools":
		return true
	default:
		return false
	}
}

// discoveryHandler answers the built-in discovery tools directly against
// a workspace's current registry build, bypassing policy's resource
// matching entirely (discovery is always allow; see policy.isDiscoveryTool)
// and never touching a source loader.
type discoveryHandler struct {
	store    store.Store
	registry *toolregistry.Builder
}

func (h *discoveryHandler) handle(ctx context.Context, workspaceID, toolPath string, input map[string]any) (any, error) {
	buildID, err := h.registry.EnsureFresh(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	switch toolPath {
	case "catalog.namespaces":
		namespaces, err := h.registry.ListNamespaces(ctx, workspaceID, buildID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"buildId": buildID, "namespaces": namespaces}, nil

	case "catalog.tools":
		entries, err := h.registry.ListTools(ctx, workspaceID, buildID)
		if err != nil {
			return nil, err
		}
		if ns, ok := input["namespace"].(string); ok && ns != "" {
			entries = filterByNamespace(entries, ns)
		}
		return map[string]any{"buildId": buildID, "tools": summarize(entries)}, nil

	case "discover":
		namespaces, err := h.registry.ListNamespaces(ctx, workspaceID, buildID)
		if err != nil {
			return nil, err
		}
		entries, err := h.registry.ListTools(ctx, workspaceID, buildID)
		if err != nil {
			return nil, err
		}
		if q, ok := input["query"].(string); ok && q != "" {
			entries = filterByQuery(entries, q)
		}
		return map[string]any{"buildId": buildID, "namespaces": namespaces, "tools": summarize(entries)}, nil

	default:
		return nil, fmt.Errorf("invocation: unhandled system tool %q", toolPath)
	}
}

func filterByNamespace(entries []*model.ToolRegistryEntry, ns string) []*model.ToolRegistryEntry {
	out := make([]*model.ToolRegistryEntry, 0, len(entries))
	for _, e := range entries {
		if e.Namespace == ns {
			out = append(out, e)
		}
	}
	return out
}

func filterByQuery(entries []*model.ToolRegistryEntry, query string) []*model.ToolRegistryEntry {
	q := strings.ToLower(query)
	out := make([]*model.ToolRegistryEntry, 0, len(entries))
	for _, e := range entries {
		if strings.Contains(strings.ToLower(e.Path), q) || strings.Contains(strings.ToLower(e.Description), q) {
			out = append(out, e)
		}
	}
	return out
}

// toolSummary is the compact shape discovery tools return per entry,
// deliberately omitting the full serialized schema the registry persists.
type toolSummary struct {
	Path           string   `json:"path"`
	Namespace      string   `json:"namespace"`
	Description    string   `json:"description,omitempty"`
	ApprovalMode   string   `json:"approvalMode"`
	RequiredInputs []string `json:"requiredInputs,omitempty"`
	PreviewKeys    []string `json:"previewKeys,omitempty"`
}

func summarize(entries []*model.ToolRegistryEntry) []toolSummary {
	out := make([]toolSummary, 0, len(entries))
	for _, e := range entries {
		out = append(out, toolSummary{
			Path:           e.Path,
			Namespace:      e.Namespace,
			Description:    e.Description,
			ApprovalMode:   string(e.ApprovalMode),
			RequiredInputs: e.RequiredInputs,
			PreviewKeys:    e.PreviewKeys,
		})
	}
	return out
}

// runSystemTool evaluates policy for the system tool the same way as any
// other call (policy.Decide allows discover and catalog.* unconditionally,
// so no policy, all_tools deny included, blocks them) and completes the call with
// the handler's result, publishing no tool.call.started/completed events:
// discovery calls are a read path, not an executable side effect worth
// journaling per call.
func (p *Pipeline) runSystemTool(ctx context.Context, req Request, tc *model.ToolCall) (*model.ToolCall, error) {
	policies, err := p.store.ListPolicies(ctx, req.WorkspaceID)
	if err != nil {
		return nil, err
	}
	pctx := policy.Context{WorkspaceID: req.WorkspaceID, AccountID: req.AccountID, ClientID: req.ClientID}
	ptool := policy.Tool{Path: req.ToolPath, Source: "system", Namespace: "catalog", DefaultApprove: model.ApprovalModeAuto}
	if policy.Decide(ptool, pctx, policies, req.Input) == policy.Deny {
		return nil, p.deny(ctx, tc, "denied by access policy")
	}

	output, err := p.discovery.handle(ctx, req.WorkspaceID, req.ToolPath, req.Input)
	if err != nil {
		return nil, p.fail(ctx, tc, err)
	}
	return p.store.UpdateToolCall(ctx, req.TaskID, req.CallID, func(c *model.ToolCall) {
		c.Status = model.ToolCallCompleted
		c.Output = output
	})
}

// graphQLQuery extracts the raw query string from a GraphQL executor
// tool's input, if entry is one.
func graphQLQuery(entry *model.ToolRegistryEntry, input map[string]any) (string, bool) {
	if !strings.HasSuffix(entry.Path, ".graphql") {
		return "", false
	}
	q, ok := input["query"].(string)
	return q, ok
}

// rewriteGraphQLPseudoCall redirects a call against a GraphQL pseudo-tool
// (path "source.{query|mutation}.field") into a synthesized call against
// that source's real "source.graphql" executor tool, per §4.E: invoking
// a pseudo-tool rewrites the call into a .graphql call with a synthesized
// query rather than executing anything directly.
func rewriteGraphQLPseudoCall(entry *model.ToolRegistryEntry, input map[string]any) (execPath string, rewritten map[string]any, ok bool) {
	if !strings.HasPrefix(entry.SourceKey, string(model.ToolSourceGraphQL)+":") {
		return "", nil, false
	}
	rest, found := strings.CutPrefix(entry.Path, entry.Namespace+".")
	if !found {
		return "", nil, false
	}
	opKind, field, found := strings.Cut(rest, ".")
	if !found || (opKind != "query" && opKind != "mutation") {
		return "", nil, false
	}

	rewritten = map[string]any{"query": opKind + " { " + field + " }"}
	if variables, ok := input["variables"]; ok {
		rewritten["variables"] = variables
	}
	return entry.Namespace + ".graphql", rewritten, true
}

// graphQLOperationKind guesses whether a GraphQL call is a query or a
// mutation from its query text, defaulting to the stricter mutation
// classification when it can't tell — an unrecognized shape should never
// be treated more permissively than a mutation.
func graphQLOperationKind(input map[string]any) policy.OperationKind {
	q, _ := input["query"].(string)
	trimmed := strings.TrimSpace(q)
	if strings.HasPrefix(trimmed, "mutation") {
		return policy.OperationMutation
	}
	if strings.HasPrefix(trimmed, "query") || strings.HasPrefix(trimmed, "{") {
		return policy.OperationQuery
	}
	return policy.OperationMutation
}
