package store

import (
	"context"
	"time"

	"github.com/sandboxrun/executor/internal/model"
)

func (s *MemoryStore) GetRegistryState(ctx context.Context, workspaceID string) (*model.ToolRegistryState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.registryState[workspaceID]
	if !ok {
		return &model.ToolRegistryState{WorkspaceID: workspaceID, Status: model.RegistryStale}, nil
	}
	cp := *st
	return &cp, nil
}

func (s *MemoryStore) SaveRegistryState(ctx context.Context, st *model.ToolRegistryState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st.UpdatedAt = time.Now()
	cp := *st
	s.registryState[st.WorkspaceID] = &cp
	return nil
}

func entryMapKey(workspaceID, buildID string) string { return workspaceID + "/" + buildID }

func (s *MemoryStore) PutRegistryEntries(ctx context.Context, entries []*model.ToolRegistryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		k := entryMapKey(e.WorkspaceID, e.BuildID)
		m, ok := s.registryEntries[k]
		if !ok {
			m = make(map[string]*model.ToolRegistryEntry)
			s.registryEntries[k] = m
		}
		cp := *e
		m[e.Path] = &cp
	}
	return nil
}

func (s *MemoryStore) PutNamespaceSummaries(ctx context.Context, summaries []*model.NamespaceSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range summaries {
		k := entryMapKey(n.WorkspaceID, n.BuildID)
		m, ok := s.namespaceSummaries[k]
		if !ok {
			m = make(map[string]*model.NamespaceSummary)
			s.namespaceSummaries[k] = m
		}
		cp := *n
		m[n.Namespace] = &cp
	}
	return nil
}

func (s *MemoryStore) GetRegistryEntry(ctx context.Context, workspaceID, buildID, path string) (*model.ToolRegistryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.registryEntries[entryMapKey(workspaceID, buildID)]
	if !ok {
		return nil, ErrNotFound
	}
	e, ok := m[path]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) ListRegistryEntries(ctx context.Context, workspaceID, buildID string) ([]*model.ToolRegistryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.registryEntries[entryMapKey(workspaceID, buildID)]
	out := make([]*model.ToolRegistryEntry, 0, len(m))
	for _, e := range m {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) ListNamespaceSummaries(ctx context.Context, workspaceID, buildID string) ([]*model.NamespaceSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.namespaceSummaries[entryMapKey(workspaceID, buildID)]
	out := make([]*model.NamespaceSummary, 0, len(m))
	for _, n := range m {
		cp := *n
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) DeleteBuild(ctx context.Context, workspaceID, buildID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := entryMapKey(workspaceID, buildID)
	delete(s.registryEntries, k)
	delete(s.namespaceSummaries, k)
	return nil
}
