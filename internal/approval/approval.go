// Package approval implements the Approval Coordinator: creating,
// resolving, and waiting on the human-in-the-loop decisions that gate a
// tool call the Policy Engine marked require_approval.
package approval

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/sandboxrun/executor/internal/model"
	"github.com/sandboxrun/executor/internal/store"
)

// ErrNotPending names the case of a resolution attempted against an
// approval that has already left the pending state. The spec models this
// as a no-op returning (nil, nil) rather than an error, and no Coordinator
// method returns ErrNotPending: Resolve reports that case as (nil, nil).
var ErrNotPending = errors.New("approval: not pending")

// pollInterval is how often waitForResolution's polling arm re-checks the
// approval row when no event subscription delivers a resolution first.
const pollInterval = 750 * time.Millisecond

// Coordinator is the Approval Coordinator.
type Coordinator struct {
	store store.Store
}

func New(s store.Store) *Coordinator {
	return &Coordinator{store: s}
}

// Create records a new pending approval for one tool call and publishes
// approval.requested.
func (c *Coordinator) Create(ctx context.Context, workspaceID, taskID, callID, toolPath string, input map[string]any) (*model.Approval, error) {
	a := &model.Approval{
		ID:          uuid.New().String(),
		WorkspaceID: workspaceID,
		TaskID:      taskID,
		CallID:      callID,
		ToolPath:    toolPath,
		Input:       input,
		Status:      model.ApprovalPending,
		CreatedAt:   time.Now(),
	}
	if err := c.store.CreateApproval(ctx, a); err != nil {
		return nil, err
	}
	if _, err := c.store.AppendTaskEvent(ctx, &model.TaskEvent{
		TaskID:    taskID,
		Family:    model.EventFamilyApproval,
		Type:      model.EventApprovalRequested,
		Payload:   map[string]any{"approvalId": a.ID, "toolPath": toolPath, "callId": callID},
		CreatedAt: time.Now(),
	}); err != nil {
		return nil, err
	}
	return a, nil
}

// Resolve transitions a pending approval to approved/denied. Workspace
// ownership is enforced by the store's (workspaceId, id) lookup key, which
// is itself joined through the owning task at creation time. A non-pending
// approval resolves to (nil, nil) per the spec's no-op contract, not to
// ErrNotPending; a caller that needs to tell "already resolved" from
// "truly absent" uses Get, which returns store.ErrNotFound for the latter.
func (c *Coordinator) Resolve(ctx context.Context, workspaceID, approvalID string, status model.ApprovalStatus, reviewerID, reason string) (*model.Approval, error) {
	resolved, err := c.store.ResolveApproval(ctx, workspaceID, approvalID, status, reviewerID, reason)
	if err != nil {
		return nil, err
	}
	if resolved == nil {
		return nil, nil
	}

	if _, err := c.store.AppendTaskEvent(ctx, &model.TaskEvent{
		TaskID: resolved.TaskID,
		Family: model.EventFamilyApproval,
		Type:   model.EventApprovalResolved,
		Payload: map[string]any{
			"approvalId": resolved.ID,
			"decision":   string(resolved.Status),
			"reviewerId": reviewerID,
			"reason":     reason,
		},
		CreatedAt: time.Now(),
	}); err != nil {
		return nil, err
	}
	return resolved, nil
}

// Get fetches one approval by id.
func (c *Coordinator) Get(ctx context.Context, workspaceID, approvalID string) (*model.Approval, error) {
	return c.store.GetApproval(ctx, workspaceID, approvalID)
}

// WaitForResolution blocks until approvalID leaves the pending state, the
// task reaches a terminal state, or ctx is cancelled. Two delivery paths
// race: a subscription to the task's event stream (fast path, resumes the
// instant approval.resolved or a terminal task event is published) and a
// fixed-interval poll of the approval row (slow path, covers stores with
// no true push). Either path returning a decision wins. A denied approval
// is returned with a nil error, like an approved one; the caller reads its
// Status (the in-process adapter replays the call through the invocation
// pipeline, which raises the denied control signal). A terminal task event
// while the approval is still pending ends the wait with an error.
func (c *Coordinator) WaitForResolution(ctx context.Context, workspaceID, taskID, approvalID string) (*model.Approval, error) {
	events, cancel := c.store.SubscribeTaskEvents(ctx, taskID, 0)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	check := func() (*model.Approval, bool, error) {
		a, err := c.store.GetApproval(ctx, workspaceID, approvalID)
		if err != nil {
			return nil, false, err
		}
		return a, a.Status != model.ApprovalPending, nil
	}

	if a, done, err := check(); err != nil {
		return nil, err
	} else if done {
		return a, nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				continue
			}
			terminal := model.TaskStatus(eventStatusSuffix(ev.Type)).IsTerminal()
			if ev.Type == model.EventApprovalResolved || terminal {
				if a, done, err := check(); err != nil {
					return nil, err
				} else if done {
					return a, nil
				} else if terminal {
					return nil, errors.New("approval: task reached a terminal state while the approval was pending")
				}
			}
		case <-ticker.C:
			if a, done, err := check(); err != nil {
				return nil, err
			} else if done {
				return a, nil
			}
		}
	}
}

// eventStatusSuffix maps a "task.X" event type to the TaskStatus X, so the
// subscription arm can recognize a terminal task event (which should also
// unblock a waiter even if no explicit approval.resolved event arrives,
// e.g. the task timed out while the approval was still pending) without
// hardcoding the full list of terminal event type strings twice.
func eventStatusSuffix(eventType string) string {
	switch eventType {
	case model.EventTaskCompleted:
		return string(model.TaskCompleted)
	case model.EventTaskFailed:
		return string(model.TaskFailed)
	case model.EventTaskTimedOut:
		return string(model.TaskTimedOut)
	case model.EventTaskDenied:
		return string(model.TaskDenied)
	default:
		return ""
	}
}
