package model

import "time"

// ToolSourceKind is the external system a ToolSource adapts.
type ToolSourceKind string

const (
	ToolSourceOpenAPI ToolSourceKind = "openapi"
	ToolSourceGraphQL ToolSourceKind = "graphql"
	ToolSourceMCP     ToolSourceKind = "mcp"
)

// ToolSource is a workspace-scoped definition of an external tool provider.
// Config is kind-specific (URL, inline spec, auth profile name, ...); the
// loader for Kind interprets it.
type ToolSource struct {
	ID              string         `json:"id"`
	WorkspaceID     string         `json:"workspaceId"`
	Kind            ToolSourceKind `json:"kind"`
	Name            string         `json:"name"`
	Config          map[string]any `json:"config"`
	Enabled         bool           `json:"enabled"`
	SpecHash        string         `json:"specHash,omitempty"`
	AuthFingerprint string         `json:"authFingerprint,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// Key returns the source key used for source-scoped policies and credential
// lookup: "{kind}:{name}".
func (s *ToolSource) Key() string {
	return string(s.Kind) + ":" + s.Name
}

// PolicyScope is the breadth at which an AccessPolicy or CredentialRecord
// applies.
type PolicyScope string

const (
	ScopeAccount      PolicyScope = "account"
	ScopeOrganization PolicyScope = "organization"
	ScopeWorkspace    PolicyScope = "workspace"
)

// PolicyResourceType selects what part of a tool's identity a policy's
// Pattern is matched against.
type PolicyResourceType string

const (
	ResourceAllTools PolicyResourceType = "all_tools"
	ResourceSource   PolicyResourceType = "source"
	ResourceNamespace PolicyResourceType = "namespace"
	ResourceToolPath  PolicyResourceType = "tool_path"
)

// PolicyEffect is the terminal decision a matching policy can force.
type PolicyEffect string

const (
	EffectAllow PolicyEffect = "allow"
	EffectDeny  PolicyEffect = "deny"
)

// ApprovalMode controls how a policy match affects the approval gate.
type ApprovalMode string

const (
	ApprovalModeInherit  ApprovalMode = "inherit"
	ApprovalModeAuto     ApprovalMode = "auto"
	ApprovalModeRequired ApprovalMode = "required"
)

// ArgumentConditionOperator is the comparison an ArgumentCondition performs.
type ArgumentConditionOperator string

const (
	OpEquals     ArgumentConditionOperator = "equals"
	OpNotEquals  ArgumentConditionOperator = "not_equals"
	OpContains   ArgumentConditionOperator = "contains"
	OpMatches    ArgumentConditionOperator = "matches" // glob against a string value
	OpExists     ArgumentConditionOperator = "exists"
)

// ArgumentCondition restricts a policy match to calls whose input satisfies
// a single key/operator/value check.
type ArgumentCondition struct {
	Key      string                    `json:"key"`
	Operator ArgumentConditionOperator `json:"operator"`
	Value    any                       `json:"value,omitempty"`
}

// AccessPolicy is one rule in the policy engine's input. See
// internal/policy for the evaluation semantics.
type AccessPolicy struct {
	ID                 string              `json:"id"`
	WorkspaceID        string              `json:"workspaceId"`
	Scope              PolicyScope         `json:"scope"`
	TargetAccountID    string              `json:"targetAccountId,omitempty"`
	ClientID           string              `json:"clientId,omitempty"`
	ResourceType       PolicyResourceType  `json:"resourceType"`
	Pattern            string              `json:"pattern"`
	MatchType          string              `json:"matchType,omitempty"` // "exact" or "glob"
	Effect             PolicyEffect        `json:"effect"`
	ApprovalMode       ApprovalMode        `json:"approvalMode"`
	ArgumentConditions []ArgumentCondition `json:"argumentConditions,omitempty"`
	Priority           int                 `json:"priority"`
	CreatedAt          time.Time           `json:"createdAt"`
}

// CredentialRecord holds an opaque secret for a source, scoped to an
// account, organization, or workspace. SecretJSON is never serialized to
// any response surface; see HasSecret in the API-facing projection.
type CredentialRecord struct {
	ID              string            `json:"id"`
	WorkspaceID     string            `json:"workspaceId"`
	Scope           PolicyScope       `json:"scope"`
	TargetAccountID string            `json:"targetAccountId,omitempty"`
	SourceKey       string            `json:"sourceKey"`
	SecretJSON      map[string]any    `json:"-"`
	HeaderOverrides map[string]string `json:"headerOverrides,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}
