// Package toolregistry implements the Tool Registry Builder: it compiles
// a workspace's enabled ToolSources into a versioned, queryable catalog
// of SerializedTool entries, tracked through a small per-workspace state
// machine (ready/building/stale/failed) so readers never observe a
// partially-written build.
package toolregistry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sandboxrun/executor/internal/model"
	"github.com/sandboxrun/executor/internal/store"
	"github.com/sandboxrun/executor/internal/toolsource"
)

// ErrNotReady is returned by read operations against a buildId whose
// state is not "ready".
var ErrNotReady = errors.New("toolregistry: registry not ready")

// buildClaimTTL bounds how long a build may hold the claim with no
// progress before it's considered abandoned and eligible to be
// superseded by a new claim.
const buildClaimTTL = 120 * time.Second

// entryBatchSize is the persistence batching limit (§4.D: ≤100 rows per
// mutation).
const entryBatchSize = 100

// maxRetainedBuilds is how many builds are kept per workspace after a
// successful commit; older ones are pruned.
const maxRetainedBuilds = 2

// perSourceBuildTimeout bounds a single source's load call so one slow or
// hung loader can't stall the whole workspace build indefinitely.
const perSourceBuildTimeout = 20 * time.Second

// Builder drives registry builds for a store, dispatching each enabled
// ToolSource to the loader registered for its Kind.
type Builder struct {
	store   store.Store
	loaders map[model.ToolSourceKind]toolsource.Loader

	// invokers holds the live SerializedTool.Invoke closures for the two
	// most recently committed builds per workspace, keyed by "workspaceId/buildId"
	// then tool path. The Store persists everything about an entry except
	// the callable itself — a function value has no business going through
	// a generic document-store interface — so this in-process side table is
	// where execution actually looks a call up, the same way the MCP loader
	// keeps its per-source connection config out of anything meant to be
	// serialized.
	invokersMu sync.Mutex
	invokers   map[string]map[string]toolsource.SerializedTool
}

// New constructs a Builder. loaders maps each ToolSourceKind to the
// toolsource.Loader that knows how to load it (openapi.NewLoader(),
// graphql.NewLoader(), mcp.NewLoader(), ...).
func New(s store.Store, loaders map[model.ToolSourceKind]toolsource.Loader) *Builder {
	return &Builder{
		store:    s,
		loaders:  loaders,
		invokers: make(map[string]map[string]toolsource.SerializedTool),
	}
}

// Invoker returns the live SerializedTool for path within buildId, if that
// build is still held in memory. A build committed by a different process
// (or evicted after pruning) returns ok=false; callers should treat that
// the same as "tool not found" since a prior build's closures were never
// reconstructable from storage alone.
func (b *Builder) Invoker(workspaceID, buildID, path string) (toolsource.SerializedTool, bool) {
	b.invokersMu.Lock()
	defer b.invokersMu.Unlock()
	m, ok := b.invokers[buildKey(workspaceID, buildID)]
	if !ok {
		return toolsource.SerializedTool{}, false
	}
	t, ok := m[path]
	return t, ok
}

func buildKey(workspaceID, buildID string) string { return workspaceID + "/" + buildID }

// EnsureFresh returns the buildId a caller should read from: the current
// readyBuildId if the workspace's signature is still current, otherwise
// it runs a build via Build and returns the result of that build. It does
// not join a build already in progress: Build's error for a live claim is
// returned as is.
func (b *Builder) EnsureFresh(ctx context.Context, workspaceID string) (string, error) {
	sources, err := b.store.ListToolSources(ctx, workspaceID)
	if err != nil {
		return "", err
	}
	sig := Signature(sources)

	st, err := b.store.GetRegistryState(ctx, workspaceID)
	if err != nil {
		return "", err
	}
	if st.Status == model.RegistryReady && st.Signature == sig && st.ReadyBuildID != "" {
		return st.ReadyBuildID, nil
	}
	return b.Build(ctx, workspaceID)
}

// Build claims a new build for workspaceID (or takes over an abandoned
// claim), runs every enabled source's loader, indexes and persists the
// results, and commits the build as ready. It returns the committed
// buildId. If another caller already holds a live claim, it returns an
// error and starts no build.
func (b *Builder) Build(ctx context.Context, workspaceID string) (string, error) {
	sources, err := b.store.ListToolSources(ctx, workspaceID)
	if err != nil {
		return "", err
	}
	sig := Signature(sources)

	st, err := b.store.GetRegistryState(ctx, workspaceID)
	if err != nil {
		return "", err
	}

	if st.Status == model.RegistryBuilding && !claimExpired(st) {
		return "", fmt.Errorf("toolregistry: build already in progress for workspace %s", workspaceID)
	}

	buildID := uuid.New().String()
	now := time.Now()
	st.WorkspaceID = workspaceID
	st.Status = model.RegistryBuilding
	st.Signature = sig
	st.BuildingBuildID = buildID
	st.BuildClaimedAt = &now
	if err := b.store.SaveRegistryState(ctx, st); err != nil {
		return "", err
	}

	sourceStates, entries, summaries, allTools, buildErr := b.runSources(ctx, workspaceID, buildID, sources)

	fresh, err := b.store.GetRegistryState(ctx, workspaceID)
	if err != nil {
		return "", err
	}
	if fresh.BuildingBuildID != buildID {
		// Our claim was superseded (abandonment timeout) while we were
		// still working; our results are stale, drop them.
		return "", fmt.Errorf("toolregistry: build claim for %s superseded", buildID)
	}

	if buildErr != nil {
		fresh.Status = model.RegistryFailed
		fresh.BuildingBuildID = ""
		fresh.SourceStates = sourceStates
		fresh.Warnings = warningsOf(sourceStates)
		if err := b.store.SaveRegistryState(ctx, fresh); err != nil {
			return "", err
		}
		return "", buildErr
	}

	if err := b.persist(ctx, entries, summaries); err != nil {
		fresh.Status = model.RegistryFailed
		fresh.BuildingBuildID = ""
		if serr := b.store.SaveRegistryState(ctx, fresh); serr != nil {
			return "", serr
		}
		return "", err
	}

	priorReady := fresh.ReadyBuildID
	fresh.Status = model.RegistryReady
	fresh.ReadyBuildID = buildID
	fresh.BuildingBuildID = ""
	fresh.BuildClaimedAt = nil
	fresh.SourceStates = sourceStates
	fresh.Warnings = warningsOf(sourceStates)
	fresh.ToolCount = len(entries)
	if err := b.store.SaveRegistryState(ctx, fresh); err != nil {
		return "", err
	}

	b.storeInvokers(workspaceID, buildID, priorReady, allTools)

	if err := b.prune(ctx, workspaceID, buildID, priorReady); err != nil {
		return buildID, err
	}
	return buildID, nil
}

// storeInvokers caches the live Invoke closures for a freshly committed
// build and evicts everything except it and the build it superseded, in
// step with prune()'s two-build retention so a caller holding either
// build id can still execute against it.
func (b *Builder) storeInvokers(workspaceID, buildID, priorReadyBuildID string, tools []toolsource.SerializedTool) {
	m := make(map[string]toolsource.SerializedTool, len(tools))
	for _, t := range tools {
		m[t.Path] = t
	}
	keep := map[string]bool{buildKey(workspaceID, buildID): true}
	if priorReadyBuildID != "" {
		keep[buildKey(workspaceID, priorReadyBuildID)] = true
	}
	prefix := workspaceID + "/"
	b.invokersMu.Lock()
	defer b.invokersMu.Unlock()
	for k := range b.invokers {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix && !keep[k] {
			delete(b.invokers, k)
		}
	}
	b.invokers[buildKey(workspaceID, buildID)] = m
}

func claimExpired(st *model.ToolRegistryState) bool {
	if st.BuildClaimedAt == nil {
		return true
	}
	return time.Since(*st.BuildClaimedAt) > buildClaimTTL
}

// runSources loads every enabled source concurrently and flattens the
// results into registry entries and namespace summaries. A single
// source's failure becomes a SourceBuildState.Error, not a build-wide
// error, and so does a source whose kind has no registered loader; the
// returned error is always nil.
func (b *Builder) runSources(ctx context.Context, workspaceID, buildID string, sources []*model.ToolSource) ([]model.SourceBuildState, []*model.ToolRegistryEntry, []*model.NamespaceSummary, []toolsource.SerializedTool, error) {
	type result struct {
		state   model.SourceBuildState
		tools   []toolsource.SerializedTool
	}
	results := make(chan result, len(sources))

	for _, src := range sources {
		src := src
		go func() {
			if !src.Enabled {
				results <- result{state: model.SourceBuildState{SourceID: src.ID}}
				return
			}
			loader, ok := b.loaders[src.Kind]
			if !ok {
				results <- result{state: model.SourceBuildState{
					SourceID: src.ID,
					Error:    fmt.Sprintf("no loader registered for kind %q", src.Kind),
				}}
				return
			}

			loadCtx, cancel := context.WithTimeout(ctx, perSourceBuildTimeout)
			defer cancel()

			res, err := loader.Load(loadCtx, src.Key(), src.Config)
			warnings := append([]string{}, res.Warnings...)
			for _, t := range res.Tools {
				if verr := validateInputSchema(t.InputSchema); verr != nil {
					warnings = append(warnings, fmt.Sprintf("tool %s: %s", t.Path, verr))
				}
			}
			state := model.SourceBuildState{SourceID: src.ID, ToolCount: len(res.Tools), Warnings: warnings}
			if err != nil {
				state.Error = err.Error()
			}
			results <- result{state: state, tools: res.Tools}
		}()
	}

	var sourceStates []model.SourceBuildState
	var allTools []toolsource.SerializedTool
	for range sources {
		r := <-results
		sourceStates = append(sourceStates, r.state)
		allTools = append(allTools, r.tools...)
	}

	entries := make([]*model.ToolRegistryEntry, 0, len(allTools))
	nsCounts := map[string]int{}
	for _, t := range allTools {
		entry := toRegistryEntry(workspaceID, buildID, t)
		entries = append(entries, entry)
		nsCounts[entry.Namespace]++
	}
	summaries := make([]*model.NamespaceSummary, 0, len(nsCounts))
	for ns, count := range nsCounts {
		summaries = append(summaries, &model.NamespaceSummary{
			WorkspaceID: workspaceID,
			BuildID:     buildID,
			Namespace:   ns,
			ToolCount:   count,
		})
	}
	return sourceStates, entries, summaries, allTools, nil
}

func warningsOf(states []model.SourceBuildState) []string {
	var out []string
	for _, s := range states {
		out = append(out, s.Warnings...)
		if s.Error != "" {
			out = append(out, fmt.Sprintf("source %s: %s", s.SourceID, s.Error))
		}
	}
	return out
}

// persist writes entries and summaries in batches of entryBatchSize,
// matching the ≤100-per-mutation rule.
func (b *Builder) persist(ctx context.Context, entries []*model.ToolRegistryEntry, summaries []*model.NamespaceSummary) error {
	for start := 0; start < len(entries); start += entryBatchSize {
		end := min(start+entryBatchSize, len(entries))
		if err := b.store.PutRegistryEntries(ctx, entries[start:end]); err != nil {
			return err
		}
	}
	for start := 0; start < len(summaries); start += entryBatchSize {
		end := min(start+entryBatchSize, len(summaries))
		if err := b.store.PutNamespaceSummaries(ctx, summaries[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// prune retains at most maxRetainedBuilds builds. Since only the current
// and immediately-prior ready build are ever in play, anything older than
// priorReady (the build being superseded) is deleted.
func (b *Builder) prune(ctx context.Context, workspaceID, newBuildID, priorReadyBuildID string) error {
	if priorReadyBuildID == "" || priorReadyBuildID == newBuildID {
		return nil
	}
	if maxRetainedBuilds <= 1 {
		return b.store.DeleteBuild(ctx, workspaceID, priorReadyBuildID)
	}
	// maxRetainedBuilds == 2: newBuildID and priorReadyBuildID are both
	// kept; there is nothing older tracked to delete beyond priorReady's
	// own predecessor, which was already pruned when priorReady was
	// committed.
	return nil
}

// ListTools returns every entry for buildID, erroring ErrNotReady unless
// the workspace's registry state considers buildID the current ready
// build.
func (b *Builder) ListTools(ctx context.Context, workspaceID, buildID string) ([]*model.ToolRegistryEntry, error) {
	if err := b.requireReady(ctx, workspaceID, buildID); err != nil {
		return nil, err
	}
	return b.store.ListRegistryEntries(ctx, workspaceID, buildID)
}

// GetTool looks up one tool by exact path within buildID.
func (b *Builder) GetTool(ctx context.Context, workspaceID, buildID, path string) (*model.ToolRegistryEntry, error) {
	if err := b.requireReady(ctx, workspaceID, buildID); err != nil {
		return nil, err
	}
	return b.store.GetRegistryEntry(ctx, workspaceID, buildID, path)
}

// ListNamespaces returns the namespace rollup for buildID.
func (b *Builder) ListNamespaces(ctx context.Context, workspaceID, buildID string) ([]*model.NamespaceSummary, error) {
	if err := b.requireReady(ctx, workspaceID, buildID); err != nil {
		return nil, err
	}
	return b.store.ListNamespaceSummaries(ctx, workspaceID, buildID)
}

func (b *Builder) requireReady(ctx context.Context, workspaceID, buildID string) error {
	st, err := b.store.GetRegistryState(ctx, workspaceID)
	if err != nil {
		return err
	}
	if st.Status != model.RegistryReady || st.ReadyBuildID != buildID {
		return ErrNotReady
	}
	return nil
}
