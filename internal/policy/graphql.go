package policy

import (
	"regexp"

	"github.com/sandboxrun/executor/internal/model"
)

// topLevelFieldPattern extracts identifier-looking top level selection
// names from a GraphQL operation body. It is intentionally lightweight: a
// full parse isn't needed, only a best-effort list of field names used to
// build synthetic policy paths, and a field mentioned in the query but
// not actually authorized will still be rejected at execution time by the
// upstream GraphQL server.
var topLevelFieldPattern = regexp.MustCompile(`(?m)^\s*([A-Za-z_][A-Za-z0-9_]*)\s*(?:\(|\{|$)`)

// OperationKind distinguishes the two top-level GraphQL operation types
// the synthetic policy paths discriminate between.
type OperationKind string

const (
	OperationQuery    OperationKind = "query"
	OperationMutation OperationKind = "mutation"
)

// ExtractTopLevelFields returns the field names selected at the top level
// of a GraphQL operation body (the contents between the outermost braces).
func ExtractTopLevelFields(query string) []string {
	body := stripOuterBraces(query)
	// Keep only depth-0 identifier text, one token per line, so the
	// line-anchored pattern sees each top-level field name and no nested one.
	top := make([]rune, 0, len(body))
	depth := 0
	for _, r := range body {
		if r == '{' || r == '(' {
			depth++
		} else if r == '}' || r == ')' {
			depth--
		} else if depth == 0 && (r == '_' || r >= '0' && r <= '9' || r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z') {
			top = append(top, r)
			continue
		}
		top = append(top, '\n')
	}
	var fields []string
	seen := map[string]bool{}
	for _, m := range topLevelFieldPattern.FindAllStringSubmatch(string(top), -1) {
		name := m[1]
		if name == "query" || name == "mutation" || name == "subscription" || seen[name] {
			continue
		}
		seen[name] = true
		fields = append(fields, name)
	}
	return fields
}

func stripOuterBraces(query string) string {
	start := -1
	depth := 0
	for i, r := range query {
		switch r {
		case '{':
			if depth == 0 {
				start = i + 1
			}
			depth++
		case '}':
			depth--
			if depth == 0 && start >= 0 {
				return query[start:i]
			}
		}
	}
	if start >= 0 {
		return query[start:]
	}
	return query
}

var decisionStrictness = map[Decision]int{
	Allow:           0,
	RequireApproval: 1,
	Deny:            2,
}

func strictest(a, b Decision) Decision {
	if decisionStrictness[b] > decisionStrictness[a] {
		return b
	}
	return a
}

// DecideGraphQL evaluates a GraphQL entry-point tool call by expanding it
// into one synthetic tool per top-level selected field
// (source.{query|mutation}.{field}) and returning the strictest decision
// across them.
func DecideGraphQL(sourceKey string, op OperationKind, query string, ctx Context, policies []*model.AccessPolicy, input map[string]any) Decision {
	fields := ExtractTopLevelFields(query)
	if len(fields) == 0 {
		return Allow
	}
	decision := Allow
	for _, f := range fields {
		syntheticPath := sourceKey + "." + string(op) + "." + f
		tool := Tool{Path: syntheticPath, Source: sourceKey, Namespace: sourceKey}
		decision = strictest(decision, Decide(tool, ctx, policies, input))
		if decision == Deny {
			return Deny
		}
	}
	return decision
}
