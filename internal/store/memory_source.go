package store

import (
	"context"
	"time"

	"github.com/sandboxrun/executor/internal/model"
)

func (s *MemoryStore) UpsertToolSource(ctx context.Context, src *model.ToolSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if existing, ok := s.toolSources[src.ID]; ok {
		src.CreatedAt = existing.CreatedAt
	} else {
		src.CreatedAt = now
	}
	src.UpdatedAt = now
	cp := *src
	s.toolSources[src.ID] = &cp
	return nil
}

func (s *MemoryStore) GetToolSource(ctx context.Context, workspaceID, id string) (*model.ToolSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.toolSources[id]
	if !ok || src.WorkspaceID != workspaceID {
		return nil, ErrNotFound
	}
	cp := *src
	return &cp, nil
}

func (s *MemoryStore) ListToolSources(ctx context.Context, workspaceID string) ([]*model.ToolSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.ToolSource
	for _, src := range s.toolSources {
		if src.WorkspaceID == workspaceID {
			cp := *src
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteToolSource(ctx context.Context, workspaceID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.toolSources[id]
	if !ok || src.WorkspaceID != workspaceID {
		return ErrNotFound
	}
	delete(s.toolSources, id)
	return nil
}

func (s *MemoryStore) UpsertPolicy(ctx context.Context, p *model.AccessPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	list := s.policies[p.WorkspaceID]
	for i, existing := range list {
		if existing.ID == p.ID {
			cp := *p
			list[i] = &cp
			s.policies[p.WorkspaceID] = list
			return nil
		}
	}
	cp := *p
	s.policies[p.WorkspaceID] = append(list, &cp)
	return nil
}

func (s *MemoryStore) ListPolicies(ctx context.Context, workspaceID string) ([]*model.AccessPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.policies[workspaceID]
	out := make([]*model.AccessPolicy, len(list))
	for i, p := range list {
		cp := *p
		out[i] = &cp
	}
	return out, nil
}

func (s *MemoryStore) UpsertCredential(ctx context.Context, c *model.CredentialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	list := s.credentials[c.WorkspaceID]
	for i, existing := range list {
		if existing.ID == c.ID {
			c.CreatedAt = existing.CreatedAt
			c.UpdatedAt = now
			cp := *c
			list[i] = &cp
			s.credentials[c.WorkspaceID] = list
			return nil
		}
	}
	c.CreatedAt = now
	c.UpdatedAt = now
	cp := *c
	s.credentials[c.WorkspaceID] = append(list, &cp)
	return nil
}

func (s *MemoryStore) ListCredentials(ctx context.Context, workspaceID string) ([]*model.CredentialRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.credentials[workspaceID]
	out := make([]*model.CredentialRecord, len(list))
	for i, c := range list {
		cp := *c
		out[i] = &cp
	}
	return out, nil
}

func (s *MemoryStore) ResolveCredential(ctx context.Context, workspaceID, sourceKey, accountID string) (*model.CredentialRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *model.CredentialRecord
	bestRank := -1
	for _, c := range s.credentials[workspaceID] {
		if c.SourceKey != sourceKey {
			continue
		}
		rank := 0
		switch c.Scope {
		case model.ScopeAccount:
			if c.TargetAccountID != accountID {
				continue
			}
			rank = 2
		case model.ScopeOrganization:
			rank = 1
		case model.ScopeWorkspace:
			rank = 0
		}
		if rank > bestRank {
			bestRank = rank
			best = c
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	cp := *best
	return &cp, nil
}
