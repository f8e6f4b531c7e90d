package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sandboxrun/executor/internal/model"
)

func TestDecide_DiscoveryToolAlwaysAllowed(t *testing.T) {
	tool := Tool{Path: "discover"}
	policies := []*model.AccessPolicy{
		{ResourceType: model.ResourceAllTools, Effect: model.EffectDeny},
	}
	assert.Equal(t, Allow, Decide(tool, Context{}, policies, nil))

	catalogTool := Tool{Path: "catalog.sources"}
	assert.Equal(t, Allow, Decide(catalogTool, Context{}, policies, nil))
}

func TestDecide_DefaultWhenNoPoliciesMatch(t *testing.T) {
	tool := Tool{Path: "github.issues.create", DefaultApprove: model.ApprovalModeRequired}
	assert.Equal(t, RequireApproval, Decide(tool, Context{}, nil, nil))

	tool2 := Tool{Path: "github.issues.list"}
	assert.Equal(t, Allow, Decide(tool2, Context{}, nil, nil))
}

func TestDecide_DenyWins(t *testing.T) {
	tool := Tool{Path: "github.issues.create", Source: "github"}
	policies := []*model.AccessPolicy{
		{
			ResourceType: model.ResourceToolPath,
			Pattern:      "github.issues.create",
			MatchType:    "exact",
			Effect:       model.EffectDeny,
			Scope:        model.ScopeWorkspace,
		},
	}
	assert.Equal(t, Deny, Decide(tool, Context{WorkspaceID: "ws1"}, policies, nil))
}

func TestDecide_MoreSpecificPolicyWins(t *testing.T) {
	tool := Tool{Path: "github.issues.create", Source: "github", Namespace: "github"}
	generic := &model.AccessPolicy{
		ID:           "p-generic",
		ResourceType: model.ResourceAllTools,
		Effect:       model.EffectAllow,
		ApprovalMode: model.ApprovalModeAuto,
		Scope:        model.ScopeOrganization,
		CreatedAt:    time.Unix(0, 0),
	}
	specific := &model.AccessPolicy{
		ID:           "p-specific",
		ResourceType: model.ResourceToolPath,
		Pattern:      "github.issues.*",
		MatchType:    "glob",
		Effect:       model.EffectDeny,
		Scope:        model.ScopeWorkspace,
		CreatedAt:    time.Unix(1, 0),
	}
	decision := Decide(tool, Context{WorkspaceID: "ws1"}, []*model.AccessPolicy{generic, specific}, nil)
	assert.Equal(t, Deny, decision)
}

func TestDecide_TieBreaksByCreationOrder(t *testing.T) {
	tool := Tool{Path: "github.issues.create", Source: "github"}
	first := &model.AccessPolicy{
		ID: "first", ResourceType: model.ResourceToolPath, Pattern: "github.issues.create",
		MatchType: "exact", Effect: model.EffectAllow, ApprovalMode: model.ApprovalModeAuto,
		Scope: model.ScopeWorkspace, CreatedAt: time.Unix(0, 0),
	}
	second := &model.AccessPolicy{
		ID: "second", ResourceType: model.ResourceToolPath, Pattern: "github.issues.create",
		MatchType: "exact", Effect: model.EffectDeny, ApprovalMode: model.ApprovalModeAuto,
		Scope: model.ScopeWorkspace, CreatedAt: time.Unix(1, 0),
	}
	// Equal score: first (created earlier) should win per the deterministic
	// tie-break rule, so the decision is allow, not deny.
	decision := Decide(tool, Context{WorkspaceID: "ws1"}, []*model.AccessPolicy{second, first}, nil)
	assert.Equal(t, Allow, decision)
}

func TestDecide_ArgumentConditionsRequireMatchingInput(t *testing.T) {
	tool := Tool{Path: "github.issues.create", Source: "github"}
	policies := []*model.AccessPolicy{
		{
			ID:           "p1",
			ResourceType: model.ResourceToolPath,
			Pattern:      "github.issues.create",
			MatchType:    "exact",
			Effect:       model.EffectDeny,
			Scope:        model.ScopeWorkspace,
			ArgumentConditions: []model.ArgumentCondition{
				{Key: "repo", Operator: model.OpEquals, Value: "prod"},
			},
		},
	}
	denied := Decide(tool, Context{WorkspaceID: "ws1"}, policies, map[string]any{"repo": "prod"})
	assert.Equal(t, Deny, denied)

	allowed := Decide(tool, Context{WorkspaceID: "ws1"}, policies, map[string]any{"repo": "staging"})
	assert.Equal(t, Allow, allowed)

	// No input at all: a policy with argument conditions cannot match.
	noInput := Decide(tool, Context{WorkspaceID: "ws1"}, policies, nil)
	assert.Equal(t, Allow, noInput)
}

func TestDecide_AccountScopedPolicyRequiresAccountMatch(t *testing.T) {
	tool := Tool{Path: "github.issues.create", Source: "github"}
	policies := []*model.AccessPolicy{
		{
			ID: "acct-only", ResourceType: model.ResourceToolPath, Pattern: "github.issues.create",
			MatchType: "exact", Effect: model.EffectDeny, Scope: model.ScopeAccount,
			TargetAccountID: "acct-1",
		},
	}
	assert.Equal(t, Deny, Decide(tool, Context{AccountID: "acct-1"}, policies, nil))
	assert.Equal(t, Allow, Decide(tool, Context{AccountID: "acct-2"}, policies, nil))
}

func TestDecide_GlobResourceMatch(t *testing.T) {
	tool := Tool{Path: "github.issues.create", Source: "github", Namespace: "github"}
	policies := []*model.AccessPolicy{
		{
			ID: "glob1", ResourceType: model.ResourceToolPath, Pattern: "github.issues.*",
			MatchType: "glob", Effect: model.EffectDeny, Scope: model.ScopeWorkspace,
		},
	}
	assert.Equal(t, Deny, Decide(tool, Context{}, policies, nil))

	other := Tool{Path: "github.pulls.create", Source: "github"}
	assert.Equal(t, Allow, Decide(other, Context{}, policies, nil))
}

func TestExtractTopLevelFields(t *testing.T) {
	query := `
		query {
			repository(name: "foo") {
				id
			}
			viewer {
				login
			}
		}
	`
	fields := ExtractTopLevelFields(query)
	assert.ElementsMatch(t, []string{"repository", "viewer"}, fields)
}

func TestDecideGraphQL_StrictestAcrossFields(t *testing.T) {
	query := `mutation { createIssue(input: {}) { id } deleteRepo(name: "x") { ok } }`
	policies := []*model.AccessPolicy{
		{
			ID: "deny-delete", ResourceType: model.ResourceToolPath, Pattern: "github.mutation.deleteRepo",
			MatchType: "exact", Effect: model.EffectDeny, Scope: model.ScopeWorkspace,
		},
	}
	decision := DecideGraphQL("github", OperationMutation, query, Context{}, policies, nil)
	assert.Equal(t, Deny, decision)
}
