package invocation

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/sandboxrun/executor/internal/approval"
	"github.com/sandboxrun/executor/internal/credential"
	"github.com/sandboxrun/executor/internal/model"
	"github.com/sandboxrun/executor/internal/policy"
	"github.com/sandboxrun/executor/internal/store"
	"github.com/sandboxrun/executor/internal/toolregistry"
	"github.com/sandboxrun/executor/internal/toolsource"
)

// Request is one ToolCallRequest as the pipeline receives it, regardless
// of whether it originated from an in-process runtime or a remote sandbox.
type Request struct {
	WorkspaceID string
	AccountID   string
	ClientID    string
	TaskID      string
	CallID      string
	ToolPath    string
	Input       map[string]any
}

// Pipeline is the Tool Invocation Pipeline (§4.F): the single path every
// tool call takes from request persistence through policy, credentials,
// the approval gate, and execution.
type Pipeline struct {
	store     store.Store
	registry  *toolregistry.Builder
	approvals *approval.Coordinator
	creds     *credential.Resolver
	discovery *discoveryHandler
}

// New constructs a Pipeline wired to the given collaborators.
func New(s store.Store, registry *toolregistry.Builder, approvals *approval.Coordinator, creds *credential.Resolver) *Pipeline {
	return &Pipeline{
		store:     s,
		registry:  registry,
		approvals: approvals,
		creds:     creds,
		discovery: &discoveryHandler{store: s, registry: registry},
	}
}

// Invoke runs req through the full pipeline and returns the resulting
// ToolCall row. A suspension (pending approval) or denial surfaces as a
// typed error from this package; callers use AsApprovalPending /
// AsApprovalDenied to distinguish suspension from a genuine failure.
func (p *Pipeline) Invoke(ctx context.Context, req Request) (*model.ToolCall, error) {
	// Step 1: persist request idempotently; replay of an already-terminal
	// call returns its cached outcome rather than re-executing anything.
	tc, created, err := p.store.UpsertToolCallRequested(ctx, &model.ToolCall{
		TaskID:      req.TaskID,
		CallID:      req.CallID,
		WorkspaceID: req.WorkspaceID,
		ToolPath:    req.ToolPath,
		Input:       req.Input,
		Status:      model.ToolCallRequested,
	})
	if err != nil {
		return nil, err
	}
	if !created && tc.Status.IsTerminal() {
		return p.replayOutcome(tc)
	}

	// Step 2: fast-path system tools never touch a source loader.
	if isSystemTool(req.ToolPath) {
		return p.runSystemTool(ctx, req, tc)
	}

	// Step 3: resolve the tool against the workspace's current build.
	buildID, err := p.registry.EnsureFresh(ctx, req.WorkspaceID)
	if err != nil {
		return nil, err
	}
	entry, err := p.resolveTool(ctx, req.WorkspaceID, buildID, req.ToolPath)
	if err != nil {
		return nil, p.fail(ctx, tc, err)
	}

	// Step 3b: a GraphQL pseudo-tool is never executed directly; rewrite
	// the call into its source's real ".graphql" executor tool with a
	// synthesized query before policy ever sees it, so the GraphQL
	// entry-point extension below evaluates the same way it would for a
	// caller that invoked the executor tool directly.
	if execPath, rewritten, ok := rewriteGraphQLPseudoCall(entry, req.Input); ok {
		entry, err = p.resolveTool(ctx, req.WorkspaceID, buildID, execPath)
		if err != nil {
			return nil, p.fail(ctx, tc, err)
		}
		req.Input = rewritten
	}

	// Step 4: evaluate policy, with the GraphQL entry-point extension.
	policies, err := p.store.ListPolicies(ctx, req.WorkspaceID)
	if err != nil {
		return nil, err
	}
	pctx := policy.Context{WorkspaceID: req.WorkspaceID, AccountID: req.AccountID, ClientID: req.ClientID}
	ptool := policy.Tool{Path: entry.Path, Source: entry.SourceKey, Namespace: entry.Namespace, DefaultApprove: entry.ApprovalMode}
	decision := policy.Decide(ptool, pctx, policies, req.Input)
	if query, ok := graphQLQuery(entry, req.Input); ok {
		decision = policy.DecideGraphQL(entry.SourceKey, graphQLOperationKind(req.Input), query, pctx, policies, req.Input)
	}

	// Step 5: deny fails fast.
	if decision == policy.Deny {
		return nil, p.deny(ctx, tc, "denied by access policy")
	}

	// Step 6: resolve credentials.
	headers, err := p.resolveHeaders(ctx, req, entry)
	if err != nil {
		return nil, p.fail(ctx, tc, err)
	}

	// Step 7: publish tool.call.started, but only on the first attempt —
	// a call re-entering the pipeline after approval already has one.
	if created {
		if _, err := p.store.AppendTaskEvent(ctx, &model.TaskEvent{
			TaskID:    req.TaskID,
			Family:    model.EventFamilyTask,
			Type:      model.EventToolCallStarted,
			Payload:   map[string]any{"callId": req.CallID, "toolPath": entry.Path},
			CreatedAt: time.Now(),
		}); err != nil {
			return nil, err
		}
	}

	// Step 8: the approval gate.
	if tc.ApprovalID != "" {
		a, err := p.approvals.Get(ctx, req.WorkspaceID, tc.ApprovalID)
		if err != nil {
			return nil, err
		}
		switch a.Status {
		case model.ApprovalPending:
			return nil, &ApprovalPendingError{ApprovalID: a.ID}
		case model.ApprovalDenied:
			return nil, p.deny(ctx, tc, a.Reason)
		// model.ApprovalApproved falls through to execution.
		}
	} else if decision == policy.RequireApproval {
		a, err := p.approvals.Create(ctx, req.WorkspaceID, req.TaskID, req.CallID, entry.Path, req.Input)
		if err != nil {
			return nil, err
		}
		if _, err := p.store.UpdateToolCall(ctx, req.TaskID, req.CallID, func(c *model.ToolCall) {
			c.Status = model.ToolCallPendingApproval
			c.ApprovalID = a.ID
		}); err != nil {
			return nil, err
		}
		return nil, &ApprovalPendingError{ApprovalID: a.ID}
	}

	// Step 9: execute.
	return p.execute(ctx, req, tc, entry, buildID, headers)
}

func (p *Pipeline) replayOutcome(tc *model.ToolCall) (*model.ToolCall, error) {
	switch tc.Status {
	case model.ToolCallDenied:
		return nil, &ApprovalDeniedError{Reason: tc.Error}
	case model.ToolCallFailed:
		return nil, fmt.Errorf("tool call %s previously failed: %s", tc.CallID, tc.Error)
	default: // completed
		return tc, nil
	}
}

func (p *Pipeline) resolveTool(ctx context.Context, workspaceID, buildID, requestedPath string) (*model.ToolRegistryEntry, error) {
	entry, err := p.registry.GetTool(ctx, workspaceID, buildID, requestedPath)
	if err == nil {
		return entry, nil
	}

	entries, listErr := p.registry.ListTools(ctx, workspaceID, buildID)
	if listErr != nil {
		return nil, listErr
	}
	normalized := toolregistry.NormalizedPath(requestedPath)
	var candidates []*model.ToolRegistryEntry
	for _, e := range entries {
		if e.NormalizedPath == normalized {
			candidates = append(candidates, e)
		}
	}
	if best := pickBestCandidate(requestedPath, candidates); best != nil {
		return best, nil
	}

	return nil, &UnknownToolError{ToolPath: requestedPath, Suggestions: toolregistry.Suggest(requestedPath, entries)}
}

// pickBestCandidate applies the tie-break order from §4.F step 3: prefer
// an exact preferred-path match, then the shortest canonical path, then
// lexicographic order.
func pickBestCandidate(requestedPath string, candidates []*model.ToolRegistryEntry) *model.ToolRegistryEntry {
	if len(candidates) == 0 {
		return nil
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		switch {
		case c.PreferredPath == requestedPath && best.PreferredPath != requestedPath:
			best = c
		case (c.PreferredPath == requestedPath) == (best.PreferredPath == requestedPath) && len(c.Path) < len(best.Path):
			best = c
		case (c.PreferredPath == requestedPath) == (best.PreferredPath == requestedPath) && len(c.Path) == len(best.Path) && c.Path < best.Path:
			best = c
		}
	}
	return best
}

func (p *Pipeline) deny(ctx context.Context, tc *model.ToolCall, reason string) error {
	if _, err := p.store.UpdateToolCall(ctx, tc.TaskID, tc.CallID, func(c *model.ToolCall) {
		c.Status = model.ToolCallDenied
		c.Error = reason
	}); err != nil {
		return err
	}
	if _, err := p.store.AppendTaskEvent(ctx, &model.TaskEvent{
		TaskID:    tc.TaskID,
		Family:    model.EventFamilyTask,
		Type:      model.EventToolCallDenied,
		Payload:   map[string]any{"callId": tc.CallID, "reason": reason},
		CreatedAt: time.Now(),
	}); err != nil {
		return err
	}
	return &ApprovalDeniedError{Reason: reason}
}

func (p *Pipeline) fail(ctx context.Context, tc *model.ToolCall, cause error) error {
	if _, err := p.store.UpdateToolCall(ctx, tc.TaskID, tc.CallID, func(c *model.ToolCall) {
		c.Status = model.ToolCallFailed
		c.Error = cause.Error()
	}); err != nil {
		return err
	}
	if _, err := p.store.AppendTaskEvent(ctx, &model.TaskEvent{
		TaskID:    tc.TaskID,
		Family:    model.EventFamilyTask,
		Type:      model.EventToolCallFailed,
		Payload:   map[string]any{"callId": tc.CallID, "error": cause.Error()},
		CreatedAt: time.Now(),
	}); err != nil {
		return err
	}
	return cause
}

func (p *Pipeline) execute(ctx context.Context, req Request, tc *model.ToolCall, entry *model.ToolRegistryEntry, buildID string, headers map[string]string) (*model.ToolCall, error) {
	tool, ok := p.registry.Invoker(req.WorkspaceID, buildID, entry.Path)
	if !ok || tool.IsPseudo() {
		return nil, p.fail(ctx, tc, fmt.Errorf("tool %s is not directly callable", entry.Path))
	}

	rc := toolsource.RunContext{WorkspaceID: req.WorkspaceID, AccountID: req.AccountID, ClientID: req.ClientID, Headers: headers}
	output, err := tool.Invoke(ctx, rc, req.Input)
	if err != nil {
		return nil, p.fail(ctx, tc, err)
	}

	updated, err := p.store.UpdateToolCall(ctx, req.TaskID, req.CallID, func(c *model.ToolCall) {
		c.Status = model.ToolCallCompleted
		c.Output = output
	})
	if err != nil {
		return nil, err
	}
	if _, err := p.store.AppendTaskEvent(ctx, &model.TaskEvent{
		TaskID:    req.TaskID,
		Family:    model.EventFamilyTask,
		Type:      model.EventToolCallCompleted,
		Payload:   map[string]any{"callId": req.CallID, "outputRedacted": true},
		CreatedAt: time.Now(),
	}); err != nil {
		return nil, err
	}
	return updated, nil
}

// resolveHeaders composes the header set a tool invocation authenticates
// with: a resolved credential's auth headers, then that credential's
// header overrides, then explicit input headers — each later layer
// overriding the former. Static auth headers from a source's config are
// not added here; the OpenAPI and GraphQL loaders apply them beneath these.
func (p *Pipeline) resolveHeaders(ctx context.Context, req Request, entry *model.ToolRegistryEntry) (map[string]string, error) {
	headers := map[string]string{}

	resolved, err := p.creds.Resolve(ctx, req.WorkspaceID, entry.SourceKey, req.AccountID)
	if err != nil {
		return nil, err
	}
	if resolved != nil {
		for k, v := range authHeaders(resolved.SecretJSON) {
			headers[k] = v
		}
		for k, v := range resolved.HeaderOverrides {
			headers[k] = v
		}
	}

	if raw, ok := req.Input["headers"].(map[string]any); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				headers[k] = s
			}
		}
	}
	return headers, nil
}

// authHeaders turns a credential's opaque secret payload into concrete
// HTTP headers based on its declared authType: bearer, apiKey, or basic.
func authHeaders(secret map[string]any) map[string]string {
	if secret == nil {
		return nil
	}
	authType, _ := secret["authType"].(string)
	switch authType {
	case "bearer":
		token, _ := secret["token"].(string)
		return map[string]string{"Authorization": "Bearer " + token}
	case "apiKey":
		headerName, _ := secret["headerName"].(string)
		if headerName == "" {
			headerName = "X-Api-Key"
		}
		key, _ := secret["key"].(string)
		return map[string]string{headerName: key}
	case "basic":
		user, _ := secret["username"].(string)
		pass, _ := secret["password"].(string)
		encoded := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
		return map[string]string{"Authorization": "Basic " + encoded}
	default:
		return nil
	}
}
