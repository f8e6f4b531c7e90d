package store

import (
	"context"
	"time"

	"github.com/sandboxrun/executor/internal/model"
)

func (s *MemoryStore) UpsertToolCallRequested(ctx context.Context, tc *model.ToolCall) (*model.ToolCall, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := toolCallKey(tc.TaskID, tc.CallID)
	if existing, ok := s.toolCalls[key]; ok {
		cp := *existing
		return &cp, false, nil
	}
	now := time.Now()
	tc.Status = model.ToolCallRequested
	tc.CreatedAt = now
	tc.UpdatedAt = now
	cp := *tc
	s.toolCalls[key] = &cp
	created := *tc
	return &created, true, nil
}

func (s *MemoryStore) GetToolCall(ctx context.Context, taskID, callID string) (*model.ToolCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tc, ok := s.toolCalls[toolCallKey(taskID, callID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tc
	return &cp, nil
}

func (s *MemoryStore) UpdateToolCall(ctx context.Context, taskID, callID string, mutate func(*model.ToolCall)) (*model.ToolCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := toolCallKey(taskID, callID)
	tc, ok := s.toolCalls[key]
	if !ok {
		return nil, ErrNotFound
	}
	mutate(tc)
	tc.UpdatedAt = time.Now()
	cp := *tc
	return &cp, nil
}
