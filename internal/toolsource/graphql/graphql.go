// Package graphql adapts a GraphQL endpoint into the uniform
// toolsource.SerializedTool shape: one real executor tool that posts a
// query/variables pair, plus one inert pseudo-tool per root Query/
// Mutation field for policy matching and discovery.
package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/sandboxrun/executor/internal/toolsource"
)

const introspectionQuery = `
query IntrospectionQuery {
  __schema {
    queryType { name }
    mutationType { name }
    types {
      name
      kind
      fields { name description }
    }
  }
}`

type introspectionResponse struct {
	Data struct {
		Schema struct {
			QueryType    *struct{ Name string } `json:"queryType"`
			MutationType *struct{ Name string } `json:"mutationType"`
			Types        []struct {
				Name   string `json:"name"`
				Kind   string `json:"kind"`
				Fields []struct {
					Name        string `json:"name"`
					Description string `json:"description"`
				} `json:"fields"`
			} `json:"types"`
		} `json:"__schema"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Loader introspects a GraphQL endpoint at load time and builds the
// executor + pseudo-tool set. There is no pack-attested GraphQL client
// library in this lineage; the loader speaks GraphQL-over-HTTP directly
// with encoding/json, the same way the teacher's MCP manager speaks its
// wire protocol over a plain net/http transport where streamable-HTTP
// applies.
type Loader struct {
	HTTPClient *http.Client
}

func NewLoader() *Loader {
	return &Loader{HTTPClient: http.DefaultClient}
}

func (l *Loader) Load(ctx context.Context, sourceKey string, config map[string]any) (toolsource.LoadResult, error) {
	endpoint, _ := config["endpoint"].(string)
	if endpoint == "" {
		return toolsource.LoadResult{}, fmt.Errorf("graphql: config must set endpoint")
	}
	staticHeaders, _ := config["authHeaders"].(map[string]any)

	resp, err := l.post(ctx, endpoint, staticHeaders, introspectionQuery, nil)
	if err != nil {
		return toolsource.LoadResult{Warnings: []string{"graphql: introspection failed: " + err.Error()}}, nil
	}

	var ir introspectionResponse
	if err := json.Unmarshal(resp, &ir); err != nil {
		return toolsource.LoadResult{Warnings: []string{"graphql: decode introspection response: " + err.Error()}}, nil
	}
	if len(ir.Errors) > 0 {
		return toolsource.LoadResult{Warnings: []string{"graphql: introspection errors: " + ir.Errors[0].Message}}, nil
	}

	name := sanitize(sourceKey)
	var tools []toolsource.SerializedTool

	execPath := name + ".graphql"
	tools = append(tools, toolsource.SerializedTool{
		Path:            execPath,
		PreferredPath:   execPath,
		Namespace:       name,
		Description:     "Execute a raw GraphQL query/mutation against " + sourceKey,
		DefaultApproval: "required",
		SourceKey:       sourceKey,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query":     map[string]any{"type": "string"},
				"variables": map[string]any{"type": "object"},
			},
			"required": []string{"query"},
		},
		RequiredInputs: []string{"query"},
		Invoke: func(ctx context.Context, rc toolsource.RunContext, input map[string]any) (any, error) {
			query, _ := input["query"].(string)
			if query == "" {
				return nil, fmt.Errorf("graphql: missing required input %q", "query")
			}
			variables, _ := input["variables"].(map[string]any)
			merged := mergeHeaders(staticHeaders, rc.Headers)
			raw, err := l.post(ctx, endpoint, merged, query, variables)
			if err != nil {
				return nil, err
			}
			var decoded any
			if jerr := json.Unmarshal(raw, &decoded); jerr != nil {
				return string(raw), nil
			}
			return decoded, nil
		},
	})

	findTypeFields := func(typeName string) []string {
		for _, t := range ir.Data.Schema.Types {
			if t.Name == typeName {
				names := make([]string, len(t.Fields))
				for i, f := range t.Fields {
					names[i] = f.Name
				}
				return names
			}
		}
		return nil
	}

	if ir.Data.Schema.QueryType != nil {
		for _, field := range findTypeFields(ir.Data.Schema.QueryType.Name) {
			tools = append(tools, pseudoTool(name, "query", field, sourceKey))
		}
	}
	if ir.Data.Schema.MutationType != nil {
		for _, field := range findTypeFields(ir.Data.Schema.MutationType.Name) {
			tools = append(tools, pseudoTool(name, "mutation", field, sourceKey))
		}
	}

	sort.Slice(tools, func(i, j int) bool { return tools[i].Path < tools[j].Path })
	return toolsource.LoadResult{Tools: tools}, nil
}

// pseudoTool builds an inert policy/discovery-only stand-in for a root
// field. Its Invoke is deliberately nil: the invocation pipeline must
// rewrite a call to one of these into a call against the real `.graphql`
// executor tool with a synthesized query, never execute it directly.
func pseudoTool(sourceName, opKind, field, sourceKey string) toolsource.SerializedTool {
	approval := "auto"
	if opKind == "mutation" {
		approval = "required"
	}
	return toolsource.SerializedTool{
		Path:            sourceName + "." + opKind + "." + sanitize(field),
		PreferredPath:   sourceName + "." + opKind + "." + sanitize(field),
		Namespace:       sourceName,
		Description:     fmt.Sprintf("GraphQL %s field %q (policy/discovery only; invoke %s.graphql)", opKind, field, sourceName),
		DefaultApproval: approval,
		SourceKey:       sourceKey,
		Invoke:          nil,
	}
}

func (l *Loader) post(ctx context.Context, endpoint string, headers map[string]any, query string, variables map[string]any) ([]byte, error) {
	payload, err := json.Marshal(map[string]any{"query": query, "variables": variables})
	if err != nil {
		return nil, fmt.Errorf("graphql: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, fmt.Sprint(v))
	}

	client := l.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graphql: request failed: %w", err)
	}
	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("graphql: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("graphql: endpoint returned %d: %s", resp.StatusCode, buf.String())
	}
	return buf.Bytes(), nil
}

func mergeHeaders(static map[string]any, explicit map[string]string) map[string]any {
	merged := map[string]any{}
	for k, v := range static {
		merged[k] = v
	}
	for k, v := range explicit {
		merged[k] = v
	}
	return merged
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "unnamed"
	}
	return out
}
