// Package execadapter implements the Execution Adapter: the bridge a
// runtime is handed so the code it executes can call tools without
// knowing anything about policy, approval, or the registry. It exists
// purely to translate between a runtime's call shape and the Tool
// Invocation Pipeline's, in both directions.
package execadapter

import (
	"context"

	"github.com/sandboxrun/executor/internal/approval"
	"github.com/sandboxrun/executor/internal/invocation"
	"github.com/sandboxrun/executor/internal/model"
)

// ToolCallRequest is what a runtime passes to Adapter.InvokeTool.
type ToolCallRequest struct {
	CallID   string
	ToolPath string
	Input    map[string]any
}

// ResultKind discriminates ToolCallResult's failure shapes when Ok is
// false. The zero value is never used on a non-ok result.
type ResultKind string

const (
	KindPending ResultKind = "pending"
	KindDenied  ResultKind = "denied"
	KindFailed  ResultKind = "failed"
)

// ToolCallResult is the tagged union the spec describes: {ok:true, value}
// or {ok:false, kind, error, ...}. Modeled as one struct with an Ok
// discriminant (rather than an interface) so it serializes directly to
// the JSON shape the sandbox bridge protocol expects.
type ToolCallResult struct {
	Ok           bool       `json:"ok"`
	Value        any        `json:"value,omitempty"`
	Kind         ResultKind `json:"kind,omitempty"`
	Error        string     `json:"error,omitempty"`
	ApprovalID   string     `json:"approvalId,omitempty"`
	RetryAfterMs int64      `json:"retryAfterMs,omitempty"`
}

// OutputEvent is one line of a runtime's captured stdout/stderr, reported
// through Adapter.EmitOutput. Optional for the in-process adapter; the
// sandbox bridge variant uses it to persist and fan out output lines as
// task events.
type OutputEvent struct {
	Stream    string // "stdout" | "stderr"
	Line      string
	Timestamp int64
}

// Adapter is the contract a runtime is given. A runtime never talks to
// the invocation pipeline, policy engine, or approval coordinator
// directly — only through this interface.
type Adapter interface {
	InvokeTool(ctx context.Context, req ToolCallRequest) (ToolCallResult, error)
	EmitOutput(ctx context.Context, ev OutputEvent) error
}

// InProcess is the in-process Adapter variant: it calls the Tool
// Invocation Pipeline directly and translates its typed control-signal
// errors into tagged ToolCallResult outcomes, never losing the
// approvalId a pending result carries. On a pending result it blocks on
// the Approval Coordinator itself and replays the call once resolved —
// "the caller treats this as suspension" means the adapter suspends, not
// that pending ever surfaces to the runtime as a terminal outcome.
type InProcess struct {
	pipeline    *invocation.Pipeline
	approvals   *approval.Coordinator
	workspaceID string
	accountID   string
	clientID    string
	taskID      string
	onOutput    func(ctx context.Context, ev OutputEvent) error
}

// NewInProcess builds an InProcess adapter scoped to one task.
func NewInProcess(pipeline *invocation.Pipeline, approvals *approval.Coordinator, workspaceID, accountID, clientID, taskID string, onOutput func(ctx context.Context, ev OutputEvent) error) *InProcess {
	return &InProcess{
		pipeline:    pipeline,
		approvals:   approvals,
		workspaceID: workspaceID,
		accountID:   accountID,
		clientID:    clientID,
		taskID:      taskID,
		onOutput:    onOutput,
	}
}

func (a *InProcess) InvokeTool(ctx context.Context, req ToolCallRequest) (ToolCallResult, error) {
	tc, err := a.invoke(ctx, req)
	for {
		if err == nil {
			break
		}
		pending, ok := invocation.AsApprovalPending(err)
		if !ok {
			break
		}
		if _, waitErr := a.approvals.WaitForResolution(ctx, a.workspaceID, a.taskID, pending.ApprovalID); waitErr != nil {
			return ToolCallResult{Ok: false, Kind: KindFailed, Error: waitErr.Error()}, nil
		}
		tc, err = a.invoke(ctx, req)
	}
	if err != nil {
		if denied, ok := invocation.AsApprovalDenied(err); ok {
			return ToolCallResult{Ok: false, Kind: KindDenied, Error: denied.Reason}, nil
		}
		return ToolCallResult{Ok: false, Kind: KindFailed, Error: err.Error()}, nil
	}
	return ToolCallResult{Ok: true, Value: tc.Output}, nil
}

func (a *InProcess) invoke(ctx context.Context, req ToolCallRequest) (*model.ToolCall, error) {
	return a.pipeline.Invoke(ctx, invocation.Request{
		WorkspaceID: a.workspaceID,
		AccountID:   a.accountID,
		ClientID:    a.clientID,
		TaskID:      a.taskID,
		CallID:      req.CallID,
		ToolPath:    req.ToolPath,
		Input:       req.Input,
	})
}

func (a *InProcess) EmitOutput(ctx context.Context, ev OutputEvent) error {
	if a.onOutput == nil {
		return nil
	}
	return a.onOutput(ctx, ev)
}
