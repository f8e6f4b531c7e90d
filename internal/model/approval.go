package model

import "time"

// ApprovalStatus is an approval's resolution state.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDenied   ApprovalStatus = "denied"
)

// Approval is a human-in-the-loop decision record gating exactly one tool
// call on exactly one task. Resolution is one-shot: once Status leaves
// ApprovalPending it never changes again.
type Approval struct {
	ID          string         `json:"id"`
	WorkspaceID string         `json:"workspaceId"`
	TaskID      string         `json:"taskId"`
	CallID      string         `json:"callId"`
	ToolPath    string         `json:"toolPath"`
	Input       map[string]any `json:"input,omitempty"`
	Status      ApprovalStatus `json:"status"`
	ReviewerID  string         `json:"reviewerId,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	ResolvedAt  *time.Time     `json:"resolvedAt,omitempty"`
}

// ToolCallStatus is a tool call's lifecycle state.
type ToolCallStatus string

const (
	ToolCallRequested      ToolCallStatus = "requested"
	ToolCallPendingApproval ToolCallStatus = "pending_approval"
	ToolCallCompleted      ToolCallStatus = "completed"
	ToolCallFailed         ToolCallStatus = "failed"
	ToolCallDenied         ToolCallStatus = "denied"
)

// IsTerminal reports whether a tool call has reached a state in which it
// will never be re-executed; replaying the same callId returns this row.
func (s ToolCallStatus) IsTerminal() bool {
	switch s {
	case ToolCallCompleted, ToolCallFailed, ToolCallDenied:
		return true
	default:
		return false
	}
}

// ToolCall is the persisted record of one (task, callId) invocation attempt.
type ToolCall struct {
	TaskID      string         `json:"taskId"`
	CallID      string         `json:"callId"`
	WorkspaceID string         `json:"workspaceId"`
	ToolPath    string         `json:"toolPath"`
	Input       map[string]any `json:"input,omitempty"`
	Status      ToolCallStatus `json:"status"`
	ApprovalID  string         `json:"approvalId,omitempty"`
	Output      any            `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}
