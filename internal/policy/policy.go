// Package policy implements the control plane's Policy Engine: a pure
// function from a tool invocation and a set of access policies to a
// decision of allow, require_approval, or deny.
package policy

import (
	"sort"
	"strings"

	"github.com/gobwas/glob"

	"github.com/sandboxrun/executor/internal/model"
)

// Decision is the outcome of evaluating policies against a tool call.
type Decision string

const (
	Allow            Decision = "allow"
	RequireApproval  Decision = "require_approval"
	Deny             Decision = "deny"
)

// Tool is the minimal shape of a registry entry the engine needs to reach
// a decision: its path, source key, namespace, and default approval mode
// (as set by the tool source loader, e.g. "required" for OpenAPI writes).
type Tool struct {
	Path           string
	Source         string
	Namespace      string
	DefaultApprove model.ApprovalMode
}

// Context is the caller identity a decision is evaluated against.
type Context struct {
	WorkspaceID string
	AccountID   string
	ClientID    string
}

// discoveryPaths are always allowed regardless of policy configuration;
// they only ever reveal catalog metadata, never invoke anything.
func isDiscoveryTool(path string) bool {
	return path == "discover" || strings.HasPrefix(path, "catalog.")
}

// Decide evaluates policies against a single tool invocation. input may be
// nil when no argument-level conditions need to be checked (e.g. a dry
// listing); policies whose argumentConditions require input and find none
// do not match.
func Decide(tool Tool, ctx Context, policies []*model.AccessPolicy, input map[string]any) Decision {
	if isDiscoveryTool(tool.Path) {
		return Allow
	}

	var candidates []*model.AccessPolicy
	for _, p := range policies {
		if !scopeMatches(p, ctx) {
			continue
		}
		if p.ClientID != "" && p.ClientID != ctx.ClientID {
			continue
		}
		if len(p.ArgumentConditions) > 0 {
			if input == nil || !argumentConditionsMatch(p.ArgumentConditions, input) {
				continue
			}
		}
		if !resourceMatches(p, tool) {
			continue
		}
		candidates = append(candidates, p)
	}

	if len(candidates) == 0 {
		return defaultDecision(tool)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		si, sj := score(candidates[i]), score(candidates[j])
		if si != sj {
			return si > sj
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	winner := candidates[0]
	if winner.Effect == model.EffectDeny {
		return Deny
	}
	switch winner.ApprovalMode {
	case model.ApprovalModeRequired:
		return RequireApproval
	case model.ApprovalModeAuto:
		return Allow
	default: // inherit
		return defaultDecision(tool)
	}
}

func defaultDecision(tool Tool) Decision {
	if tool.DefaultApprove == model.ApprovalModeRequired {
		return RequireApproval
	}
	return Allow
}

func scopeMatches(p *model.AccessPolicy, ctx Context) bool {
	switch p.Scope {
	case model.ScopeAccount:
		return p.TargetAccountID == "" || p.TargetAccountID == ctx.AccountID
	case model.ScopeOrganization, model.ScopeWorkspace:
		return true
	default:
		return false
	}
}

func resourceMatches(p *model.AccessPolicy, tool Tool) bool {
	switch p.ResourceType {
	case model.ResourceAllTools:
		return true
	case model.ResourceSource:
		return patternMatches(p.Pattern, p.MatchType, tool.Source)
	case model.ResourceNamespace:
		return patternMatches(p.Pattern, p.MatchType, tool.Path)
	case model.ResourceToolPath:
		return patternMatches(p.Pattern, p.MatchType, tool.Path)
	default:
		return false
	}
}

func patternMatches(pattern, matchType, value string) bool {
	if matchType == "exact" || !strings.ContainsAny(pattern, "*?[{") {
		return pattern == value
	}
	g, err := glob.Compile(pattern, '.')
	if err != nil {
		return pattern == value
	}
	return g.Match(value)
}

func argumentConditionsMatch(conds []model.ArgumentCondition, input map[string]any) bool {
	for _, c := range conds {
		if !argumentConditionMatch(c, input) {
			return false
		}
	}
	return true
}

func argumentConditionMatch(c model.ArgumentCondition, input map[string]any) bool {
	v, present := input[c.Key]
	switch c.Operator {
	case model.OpExists:
		return present
	case model.OpEquals:
		return present && v == c.Value
	case model.OpNotEquals:
		return !present || v != c.Value
	case model.OpContains:
		s, ok := v.(string)
		sub, okSub := c.Value.(string)
		return present && ok && okSub && strings.Contains(s, sub)
	case model.OpMatches:
		s, ok := v.(string)
		pat, okPat := c.Value.(string)
		if !present || !ok || !okPat {
			return false
		}
		g, err := glob.Compile(pat, '.')
		if err != nil {
			return pat == s
		}
		return g.Match(s)
	default:
		return false
	}
}

// score implements the specificity ranking from the policy engine's
// resolution rules: exact account match, scope breadth, clientId
// presence, resource type specificity, exact match type, argument
// conditions, non-wildcard pattern length, and the policy's own priority.
func score(p *model.AccessPolicy) int {
	s := 0
	switch p.Scope {
	case model.ScopeAccount:
		if p.TargetAccountID != "" {
			s += 64
		}
	case model.ScopeWorkspace:
		s += 16
	case model.ScopeOrganization:
		s += 8
	}
	if p.ClientID != "" {
		s += 4
	}
	switch p.ResourceType {
	case model.ResourceToolPath:
		s += 24
	case model.ResourceNamespace:
		s += 18
	case model.ResourceSource:
		s += 12
	}
	if p.MatchType == "exact" {
		s += 3
	}
	if len(p.ArgumentConditions) > 0 {
		s += 32
	}
	if !strings.ContainsAny(p.Pattern, "*?[{") {
		s += len(p.Pattern)
	}
	s += p.Priority
	return s
}
