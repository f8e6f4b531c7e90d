// Package store provides a typed repository over the control plane's
// entities: tasks, their event journal, approvals, tool calls, tool
// sources, access policies, credentials, and the tool registry.
//
// The source system backs this abstraction with a reactive document
// database; this package specifies the same read/write/subscribe contract
// against an in-memory store so the rest of the control plane can depend on
// an interface rather than a storage engine.
package store

import (
	"context"
	"errors"

	"github.com/sandboxrun/executor/internal/model"
)

// ErrNotFound is returned by single-entity getters when no row matches.
var ErrNotFound = errors.New("store: not found")

// ErrConflict names a failed precondition on a conditional write. No method
// of this package returns it: MarkTaskRunning reports that case through its
// bool and ResolveApproval through a (nil, nil) result.
var ErrConflict = errors.New("store: conflict")

// Store is the repository contract. All mutations are atomic per entity.
// Implementations must not lose an insert signalled to a Subscribe stream
// while a listener is attached (see SubscribeQueuedTaskIDs).
type Store interface {
	TaskStore
	ApprovalStore
	ToolCallStore
	ToolSourceStore
	PolicyStore
	CredentialStore
	RegistryStore

	// Close releases any resources held by the store (subscriptions,
	// background goroutines). Safe to call once during shutdown.
	Close()
}

// TaskStore covers Task and TaskEvent persistence.
type TaskStore interface {
	CreateTask(ctx context.Context, t *model.Task) error
	GetTask(ctx context.Context, id string) (*model.Task, error)
	ListTasks(ctx context.Context, workspaceID string, limit int) ([]*model.Task, error)

	// ListQueuedTaskIDs returns up to limit task ids with status "queued",
	// oldest first.
	ListQueuedTaskIDs(ctx context.Context, limit int) ([]string, error)

	// SubscribeQueuedTaskIDs pushes an updated id list (per ListQueuedTaskIDs
	// semantics) whenever the queued set changes. The returned cancel func
	// is idempotent.
	SubscribeQueuedTaskIDs(ctx context.Context, limit int) (<-chan []string, func())

	// MarkTaskRunning atomically flips queued -> running and stamps
	// startedAt, but only if the task's current status is still "queued".
	// Returns (true, nil) if this call performed the transition; (false,
	// nil) if another caller already claimed it or it wasn't queued.
	MarkTaskRunning(ctx context.Context, id string) (bool, error)

	// CompleteTask writes one of the terminal statuses plus its outcome
	// fields. No-ops if the task is already terminal.
	CompleteTask(ctx context.Context, id string, status model.TaskStatus, exitCode *int, result any, taskErr string) error

	// AppendTaskEvent assigns the next sequence number for taskId and
	// stores the event, returning the assigned seq.
	AppendTaskEvent(ctx context.Context, ev *model.TaskEvent) (int64, error)

	// ListTaskEvents returns events for taskId with Seq > afterSeq, in
	// order.
	ListTaskEvents(ctx context.Context, taskID string, afterSeq int64) ([]*model.TaskEvent, error)

	// SubscribeTaskEvents streams events for taskId in publication order,
	// starting from afterSeq (exclusive). The returned cancel func is
	// idempotent.
	SubscribeTaskEvents(ctx context.Context, taskID string, afterSeq int64) (<-chan *model.TaskEvent, func())
}

// ApprovalStore covers Approval persistence.
type ApprovalStore interface {
	CreateApproval(ctx context.Context, a *model.Approval) error
	GetApproval(ctx context.Context, workspaceID, id string) (*model.Approval, error)
	ListApprovals(ctx context.Context, workspaceID string, status model.ApprovalStatus) ([]*model.Approval, error)

	// ResolveApproval transitions a pending approval to approved/denied.
	// If the approval was not pending it returns (nil, nil), not an error:
	// the spec models this as a no-op returning a nil approval.
	ResolveApproval(ctx context.Context, workspaceID, id string, status model.ApprovalStatus, reviewerID, reason string) (*model.Approval, error)
}

// ToolCallStore covers ToolCall persistence.
type ToolCallStore interface {
	// UpsertToolCallRequested is idempotent on (taskId, callId): if a row
	// already exists it is returned unchanged, otherwise a new row in
	// status "requested" is created and returned.
	UpsertToolCallRequested(ctx context.Context, tc *model.ToolCall) (*model.ToolCall, bool, error)

	GetToolCall(ctx context.Context, taskID, callID string) (*model.ToolCall, error)

	// UpdateToolCall applies mutate to the stored row and persists it.
	// mutate must not change TaskID/CallID.
	UpdateToolCall(ctx context.Context, taskID, callID string, mutate func(*model.ToolCall)) (*model.ToolCall, error)
}

// ToolSourceStore covers ToolSource persistence.
type ToolSourceStore interface {
	UpsertToolSource(ctx context.Context, s *model.ToolSource) error
	GetToolSource(ctx context.Context, workspaceID, id string) (*model.ToolSource, error)
	ListToolSources(ctx context.Context, workspaceID string) ([]*model.ToolSource, error)
	DeleteToolSource(ctx context.Context, workspaceID, id string) error
}

// PolicyStore covers AccessPolicy persistence.
type PolicyStore interface {
	UpsertPolicy(ctx context.Context, p *model.AccessPolicy) error
	ListPolicies(ctx context.Context, workspaceID string) ([]*model.AccessPolicy, error)
}

// CredentialStore covers CredentialRecord persistence.
type CredentialStore interface {
	UpsertCredential(ctx context.Context, c *model.CredentialRecord) error
	ListCredentials(ctx context.Context, workspaceID string) ([]*model.CredentialRecord, error)

	// ResolveCredential returns the best-matching credential for a source
	// key, scope, and account (account-scoped first, then org, then
	// workspace), or ErrNotFound.
	ResolveCredential(ctx context.Context, workspaceID, sourceKey, accountID string) (*model.CredentialRecord, error)
}

// RegistryStore covers ToolRegistryState and ToolRegistryEntry persistence.
type RegistryStore interface {
	GetRegistryState(ctx context.Context, workspaceID string) (*model.ToolRegistryState, error)

	// SaveRegistryState overwrites the workspace's registry state wholesale.
	// Callers are expected to read-modify-write under their own
	// synchronization (the registry builder refuses a second build while a
	// live claim is held for the workspace).
	SaveRegistryState(ctx context.Context, s *model.ToolRegistryState) error

	// PutRegistryEntries stores a batch of entries for a build. Call
	// repeatedly to respect the ≤100-per-mutation batching rule; each call
	// here is already one mutation.
	PutRegistryEntries(ctx context.Context, entries []*model.ToolRegistryEntry) error

	PutNamespaceSummaries(ctx context.Context, summaries []*model.NamespaceSummary) error

	// GetRegistryEntry looks up an entry by exact path within a build.
	GetRegistryEntry(ctx context.Context, workspaceID, buildID, path string) (*model.ToolRegistryEntry, error)

	// ListRegistryEntries returns every entry for a build.
	ListRegistryEntries(ctx context.Context, workspaceID, buildID string) ([]*model.ToolRegistryEntry, error)

	ListNamespaceSummaries(ctx context.Context, workspaceID, buildID string) ([]*model.NamespaceSummary, error)

	// DeleteBuild removes all entries/summaries for a build id, used by
	// the registry builder's pruning step.
	DeleteBuild(ctx context.Context, workspaceID, buildID string) error
}
