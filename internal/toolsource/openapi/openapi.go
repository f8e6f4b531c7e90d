// Package openapi adapts an OpenAPI 3 document into the uniform
// toolsource.SerializedTool shape: one tool per (path, method) operation.
package openapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/sandboxrun/executor/internal/toolsource"
)

var nonIdentRe = regexp.MustCompile(`[^A-Za-z0-9]+`)

// Sanitize turns an arbitrary string into a tool-path-safe token: letters,
// digits, and underscores only, collapsing runs of other characters.
func Sanitize(s string) string {
	s = nonIdentRe.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return "unnamed"
	}
	return s
}

var writeMethods = map[string]bool{"post": true, "put": true, "patch": true, "delete": true}

// Loader loads tool sets from inline OpenAPI documents (JSON or YAML
// bytes under config["spec"]) or a remote URL (config["specUrl"]). Auth
// headers configured on the source (config["authHeaders"]) are attached
// to every outbound call ahead of any resolved-credential/explicit-input
// headers, per the invocation pipeline's header precedence.
type Loader struct {
	HTTPClient *http.Client
}

// NewLoader constructs a Loader with a default HTTP client.
func NewLoader() *Loader {
	return &Loader{HTTPClient: http.DefaultClient}
}

func (l *Loader) Load(ctx context.Context, sourceKey string, config map[string]any) (toolsource.LoadResult, error) {
	doc, baseURL, warnings, err := l.loadDocument(ctx, config)
	if err != nil {
		return toolsource.LoadResult{}, err
	}

	name := Sanitize(sourceKey)
	staticHeaders, _ := config["authHeaders"].(map[string]any)

	var tools []toolsource.SerializedTool
	if doc.Paths == nil {
		return toolsource.LoadResult{Warnings: warnings}, nil
	}

	for path, item := range doc.Paths.Map() {
		for method, op := range item.Operations() {
			lowerMethod := strings.ToLower(method)
			tag := "default"
			if len(op.Tags) > 0 {
				tag = op.Tags[0]
			}
			opName := op.OperationID
			if opName == "" {
				opName = lowerMethod + "_" + path
			}
			toolPath := name + "." + Sanitize(tag) + "." + Sanitize(opName)

			inputSchema, required, params := mergeInputSchema(op)

			approval := "auto"
			if writeMethods[lowerMethod] {
				approval = "required"
			}
			if override, ok := operationApprovalOverride(op); ok {
				approval = override
			}

			description := op.Summary
			if description == "" {
				description = op.Description
			}

			t := toolsource.SerializedTool{
				Path:            toolPath,
				PreferredPath:   toolPath,
				Namespace:       name,
				Description:     description,
				DefaultApproval: approval,
				SourceKey:       sourceKey,
				InputSchema:     inputSchema,
				RequiredInputs:  required,
				InputHint:       &toolsource.DisplayHint{Kind: "json_schema", Text: hintText(inputSchema)},
			}
			t.Invoke = l.invoker(baseURL, path, lowerMethod, params, staticHeaders)
			tools = append(tools, t)
		}
	}

	sort.Slice(tools, func(i, j int) bool { return tools[i].Path < tools[j].Path })
	return toolsource.LoadResult{Tools: tools, Warnings: warnings}, nil
}

func (l *Loader) loadDocument(ctx context.Context, config map[string]any) (*openapi3.T, string, []string, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = true

	var warnings []string
	var doc *openapi3.T
	var err error

	if specURL, ok := config["specUrl"].(string); ok && specURL != "" {
		u, perr := url.Parse(specURL)
		if perr != nil {
			return nil, "", nil, fmt.Errorf("openapi: invalid specUrl: %w", perr)
		}
		doc, err = loader.LoadFromURI(u)
	} else if spec, ok := config["spec"].(string); ok && spec != "" {
		doc, err = loader.LoadFromData([]byte(spec))
	} else {
		return nil, "", nil, fmt.Errorf("openapi: config must set spec or specUrl")
	}
	if err != nil {
		return nil, "", nil, fmt.Errorf("openapi: parse spec: %w", err)
	}

	if verr := doc.Validate(ctx); verr != nil {
		warnings = append(warnings, "openapi: spec failed strict validation: "+verr.Error())
	}

	baseURL, _ := config["baseUrl"].(string)
	if baseURL == "" && len(doc.Servers) > 0 {
		baseURL = doc.Servers[0].URL
	}
	return doc, strings.TrimRight(baseURL, "/"), warnings, nil
}

func operationApprovalOverride(op *openapi3.Operation) (string, bool) {
	if op.Extensions == nil {
		return "", false
	}
	raw, ok := op.Extensions["x-approval"]
	if !ok {
		return "", false
	}
	if s, ok := raw.(string); ok {
		return s, true
	}
	return "", false
}

type paramBinding struct {
	name     string
	in       string // path | query | header | cookie
	style    string
	explode  bool
	required bool
}

func mergeInputSchema(op *openapi3.Operation) (map[string]any, []string, []paramBinding) {
	properties := map[string]any{}
	var required []string
	var bindings []paramBinding

	for _, pref := range op.Parameters {
		if pref == nil || pref.Value == nil {
			continue
		}
		p := pref.Value
		style := p.Style
		explode := p.Explode != nil && *p.Explode
		if style == "" {
			switch p.In {
			case "query", "cookie":
				style = "form"
				if p.Explode == nil {
					explode = true
				}
			case "path", "header":
				style = "simple"
			}
		}
		bindings = append(bindings, paramBinding{name: p.Name, in: p.In, style: style, explode: explode, required: p.Required})
		if p.Schema != nil && p.Schema.Value != nil {
			properties[p.Name] = schemaToMap(p.Schema.Value)
		} else {
			properties[p.Name] = map[string]any{"type": "string"}
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}

	if op.RequestBody != nil && op.RequestBody.Value != nil {
		if media := op.RequestBody.Value.Content.Get("application/json"); media != nil && media.Schema != nil && media.Schema.Value != nil {
			bodySchema := media.Schema.Value
			for name, propRef := range bodySchema.Properties {
				if propRef.Value != nil {
					properties[name] = schemaToMap(propRef.Value)
				}
			}
			required = append(required, bodySchema.Required...)
		}
	}

	return map[string]any{"type": "object", "properties": properties}, dedupe(required), bindings
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func schemaToMap(s *openapi3.Schema) map[string]any {
	m := map[string]any{}
	if s.Type != nil && len(*s.Type) > 0 {
		m["type"] = (*s.Type)[0]
	}
	if s.Description != "" {
		m["description"] = s.Description
	}
	return m
}

func hintText(schema map[string]any) string {
	b, err := json.Marshal(schema)
	if err != nil {
		return ""
	}
	return string(b)
}

// invoker builds the SerializedTool.Invoke closure for one operation: it
// substitutes path parameters, serializes query/header parameters per
// OpenAPI style/explode rules, merges header precedence, and sends the
// remaining input as a JSON body for write methods.
func (l *Loader) invoker(baseURL, rawPath, method string, bindings []paramBinding, staticHeaders map[string]any) func(context.Context, toolsource.RunContext, map[string]any) (any, error) {
	return func(ctx context.Context, rc toolsource.RunContext, input map[string]any) (any, error) {
		path := rawPath
		query := url.Values{}
		headers := http.Header{}
		consumed := map[string]bool{}

		for _, b := range bindings {
			v, ok := input[b.name]
			if !ok {
				if b.required {
					return nil, fmt.Errorf("openapi: missing required parameter %q", b.name)
				}
				continue
			}
			consumed[b.name] = true
			switch b.in {
			case "path":
				path = strings.ReplaceAll(path, "{"+b.name+"}", url.PathEscape(fmt.Sprint(v)))
			case "query":
				serializeQuery(query, b, v)
			case "header":
				headers.Set(b.name, fmt.Sprint(v))
			}
		}

		if strings.Contains(path, "{") {
			return nil, fmt.Errorf("openapi: unresolved path parameter in %q", path)
		}

		fullURL := baseURL + path
		if q := query.Encode(); q != "" {
			fullURL += "?" + q
		}

		var body io.Reader
		if writeMethods[method] {
			remaining := map[string]any{}
			for k, v := range input {
				if !consumed[k] {
					remaining[k] = v
				}
			}
			if len(remaining) > 0 {
				b, err := json.Marshal(remaining)
				if err != nil {
					return nil, fmt.Errorf("openapi: encode body: %w", err)
				}
				body = bytes.NewReader(b)
				headers.Set("Content-Type", "application/json")
			}
		}

		req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), fullURL, body)
		if err != nil {
			return nil, err
		}
		// Precedence (later wins): static source auth, resolved credential
		// headers, explicit per-call headers.
		for k, v := range staticHeaders {
			req.Header.Set(k, fmt.Sprint(v))
		}
		for k, v := range rc.Headers {
			req.Header.Set(k, v)
		}
		for k := range headers {
			req.Header.Set(k, headers.Get(k))
		}

		client := l.HTTPClient
		if client == nil {
			client = http.DefaultClient
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("openapi: request failed: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("openapi: read response: %w", err)
		}
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("openapi: %s %s returned %d: %s", method, fullURL, resp.StatusCode, string(respBody))
		}

		var decoded any
		if len(respBody) > 0 {
			if jerr := json.Unmarshal(respBody, &decoded); jerr == nil {
				return decoded, nil
			}
		}
		return string(respBody), nil
	}
}

// serializeQuery applies the OpenAPI style/explode rules this loader
// supports: form (default, explode=true -> repeated keys, explode=false
// -> comma-joined), spaceDelimited, and pipeDelimited for arrays; scalars
// are serialized directly regardless of style.
func serializeQuery(q url.Values, b paramBinding, v any) {
	arr, isArray := v.([]any)
	if !isArray {
		q.Set(b.name, fmt.Sprint(v))
		return
	}
	strs := make([]string, len(arr))
	for i, item := range arr {
		strs[i] = fmt.Sprint(item)
	}
	if b.explode {
		for _, s := range strs {
			q.Add(b.name, s)
		}
		return
	}
	sep := ","
	switch b.style {
	case "spaceDelimited":
		sep = " "
	case "pipeDelimited":
		sep = "|"
	}
	q.Set(b.name, strings.Join(strs, sep))
}
