package model

import "time"

// RegistryStatus is a workspace's tool registry state.
type RegistryStatus string

const (
	RegistryReady    RegistryStatus = "ready"
	RegistryBuilding RegistryStatus = "building"
	RegistryStale    RegistryStatus = "stale"
	RegistryFailed   RegistryStatus = "failed"
)

// SourceBuildState is the per-source outcome of the most recent build
// attempt that touched it.
type SourceBuildState struct {
	SourceID  string `json:"sourceId"`
	ToolCount int    `json:"toolCount"`
	Warnings  []string `json:"warnings,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ToolRegistryState is the single row tracking a workspace's tool catalog
// build lifecycle. Reads are valid only when Signature matches the
// signature freshly derived from the workspace's current enabled sources;
// see internal/toolregistry.Signature.
type ToolRegistryState struct {
	WorkspaceID      string             `json:"workspaceId"`
	Status           RegistryStatus     `json:"status"`
	Signature        string             `json:"signature"`
	ReadyBuildID     string             `json:"readyBuildId,omitempty"`
	BuildingBuildID  string             `json:"buildingBuildId,omitempty"`
	BuildClaimedAt   *time.Time         `json:"buildClaimedAt,omitempty"`
	SourceStates     []SourceBuildState `json:"sourceStates,omitempty"`
	Warnings         []string           `json:"warnings,omitempty"`
	ToolCount        int                `json:"toolCount"`
	OpenAPIRefHints  map[string]string  `json:"openapiRefHints,omitempty"`
	TypesStorageID   string             `json:"typesStorageId,omitempty"`
	UpdatedAt        time.Time          `json:"updatedAt"`
}

// DisplayHint is a short human/LLM-oriented rendering of a tool's input or
// output shape, e.g. a generated TypeScript type or a JSON Schema summary.
type DisplayHint struct {
	Kind string `json:"kind"` // "typescript" | "json_schema" | "lossy"
	Text string `json:"text"`
}

// ToolRegistryEntry is one callable tool as compiled into a specific build
// of a workspace's catalog. (workspace, buildId, path) is unique.
type ToolRegistryEntry struct {
	WorkspaceID     string         `json:"workspaceId"`
	BuildID         string         `json:"buildId"`
	Path            string         `json:"path"`
	PreferredPath   string         `json:"preferredPath"`
	Aliases         []string       `json:"aliases,omitempty"`
	Namespace       string         `json:"namespace"`
	NormalizedPath  string         `json:"normalizedPath"`
	Description     string         `json:"description,omitempty"`
	ApprovalMode    ApprovalMode   `json:"approvalMode"`
	SourceKey       string         `json:"sourceKey"`
	InputHint       *DisplayHint   `json:"inputHint,omitempty"`
	OutputHint      *DisplayHint   `json:"outputHint,omitempty"`
	RequiredInputs  []string       `json:"requiredInputs,omitempty"`
	PreviewKeys     []string       `json:"previewKeys,omitempty"`
	SerializedTool  map[string]any `json:"serializedTool,omitempty"`
}

// NamespaceSummary is a per-namespace rollup used by the discovery tools
// (catalog.namespaces).
type NamespaceSummary struct {
	WorkspaceID string `json:"workspaceId"`
	BuildID     string `json:"buildId"`
	Namespace   string `json:"namespace"`
	ToolCount   int    `json:"toolCount"`
}
