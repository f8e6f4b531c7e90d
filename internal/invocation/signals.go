// Package invocation implements the Tool Invocation Pipeline: the single
// path every tool call takes, whether it originates from an in-process
// runtime or a remote sandbox, from idempotent request persistence
// through policy evaluation, credential resolution, the approval gate,
// and execution.
package invocation

import (
	"errors"
	"fmt"
)

// ApprovalPendingError is a typed control signal, not a genuine failure:
// it tells the caller (runtime/scheduler) that this call is suspended
// waiting on a human decision. It must survive being wrapped by
// intermediate callers, so runtime adapters use errors.As to recover the
// approvalId rather than string-matching an error message.
type ApprovalPendingError struct {
	ApprovalID string
}

func (e *ApprovalPendingError) Error() string {
	return fmt.Sprintf("tool call suspended pending approval %s", e.ApprovalID)
}

// ApprovalDeniedError is a typed control signal for a call that was
// rejected, either by a deny policy or by a human reviewer.
type ApprovalDeniedError struct {
	Reason string
}

func (e *ApprovalDeniedError) Error() string {
	return fmt.Sprintf("tool call denied: %s", e.Reason)
}

// UnknownToolError is raised when a tool path resolves to nothing in the
// workspace's current registry build. Suggestions holds up to three
// nearest-neighbor tool paths for the caller to surface as a hint.
type UnknownToolError struct {
	ToolPath    string
	Suggestions []string
}

func (e *UnknownToolError) Error() string {
	if len(e.Suggestions) == 0 {
		return fmt.Sprintf("unknown tool %q; try discover(...)", e.ToolPath)
	}
	return fmt.Sprintf("unknown tool %q; did you mean one of %v? try discover(...)", e.ToolPath, e.Suggestions)
}

// AsApprovalPending reports whether err (or anything it wraps) is an
// ApprovalPendingError, returning it if so.
func AsApprovalPending(err error) (*ApprovalPendingError, bool) {
	var pending *ApprovalPendingError
	if errors.As(err, &pending) {
		return pending, true
	}
	return nil, false
}

// AsApprovalDenied reports whether err (or anything it wraps) is an
// ApprovalDeniedError, returning it if so.
func AsApprovalDenied(err error) (*ApprovalDeniedError, bool) {
	var denied *ApprovalDeniedError
	if errors.As(err, &denied) {
		return denied, true
	}
	return nil, false
}
