package store

import (
	"context"
	"time"

	"github.com/sandboxrun/executor/internal/model"
)

func (s *MemoryStore) CreateApproval(ctx context.Context, a *model.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	cp := *a
	s.approvals[a.ID] = &cp
	return nil
}

func (s *MemoryStore) GetApproval(ctx context.Context, workspaceID, id string) (*model.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[id]
	if !ok || a.WorkspaceID != workspaceID {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) ListApprovals(ctx context.Context, workspaceID string, status model.ApprovalStatus) ([]*model.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Approval
	for _, a := range s.approvals {
		if a.WorkspaceID != workspaceID {
			continue
		}
		if status != "" && a.Status != status {
			continue
		}
		cp := *a
		out = append(out, &cp)
		// The source system caps listApprovals at 500 rows; this
		// implementation applies the same cap.
		if len(out) >= 500 {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) ResolveApproval(ctx context.Context, workspaceID, id string, status model.ApprovalStatus, reviewerID, reason string) (*model.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[id]
	if !ok || a.WorkspaceID != workspaceID {
		return nil, ErrNotFound
	}
	if a.Status != model.ApprovalPending {
		// Resolving a non-pending approval is a documented no-op.
		return nil, nil
	}
	now := time.Now()
	a.Status = status
	a.ReviewerID = reviewerID
	a.Reason = reason
	a.ResolvedAt = &now
	cp := *a
	return &cp, nil
}
