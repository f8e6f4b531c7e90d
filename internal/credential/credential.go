// Package credential resolves CredentialRecords for a tool invocation and
// enforces the secret-handling invariant from the data model: a secret
// payload is only ever held in memory for the duration of a single call,
// never logged, and never reaches a serialized response surface.
package credential

import (
	"context"
	"fmt"

	"github.com/sandboxrun/executor/internal/model"
	"github.com/sandboxrun/executor/internal/store"
)

// Resolver resolves the credential a tool invocation should authenticate
// with, given the source it targets and the acting account.
type Resolver struct {
	store store.CredentialStore
}

// NewResolver constructs a Resolver over the given credential store.
func NewResolver(s store.CredentialStore) *Resolver {
	return &Resolver{store: s}
}

// Resolved is the materialized credential for a single call: the secret
// payload and any header overrides. It is never logged and has no JSON
// tags of its own — callers must not serialize it.
type Resolved struct {
	SecretJSON      map[string]any
	HeaderOverrides map[string]string
}

// Resolve looks up the best-matching credential for sourceKey and
// accountID within workspaceID, applying the account > organization >
// workspace specificity ranking enforced by the store. It returns
// (nil, nil) when no credential is configured — callers treat an absent
// credential as "call unauthenticated", not an error, since not every
// tool source requires one.
func (r *Resolver) Resolve(ctx context.Context, workspaceID, sourceKey, accountID string) (*Resolved, error) {
	rec, err := r.store.ResolveCredential(ctx, workspaceID, sourceKey, accountID)
	if err == store.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve credential for %s: %w", sourceKey, err)
	}
	return &Resolved{SecretJSON: rec.SecretJSON, HeaderOverrides: rec.HeaderOverrides}, nil
}

// Summary is the API-facing projection of a CredentialRecord: it carries
// everything except the secret payload itself, replaced by a boolean flag.
type Summary struct {
	ID              string            `json:"id"`
	WorkspaceID     string            `json:"workspaceId"`
	Scope           model.PolicyScope `json:"scope"`
	TargetAccountID string            `json:"targetAccountId,omitempty"`
	SourceKey       string            `json:"sourceKey"`
	HasSecret       bool              `json:"hasSecret"`
	HeaderOverrides map[string]string `json:"headerOverrides,omitempty"`
}

// Summarize projects a CredentialRecord into its redacted API shape. It
// never places SecretJSON anywhere it could be serialized.
func Summarize(rec *model.CredentialRecord) Summary {
	return Summary{
		ID:              rec.ID,
		WorkspaceID:     rec.WorkspaceID,
		Scope:           rec.Scope,
		TargetAccountID: rec.TargetAccountID,
		SourceKey:       rec.SourceKey,
		HasSecret:       len(rec.SecretJSON) > 0,
		HeaderOverrides: rec.HeaderOverrides,
	}
}
