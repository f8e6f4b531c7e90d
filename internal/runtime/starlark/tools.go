package starlark

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	starlarklib "go.starlark.net/starlark"

	"github.com/sandboxrun/executor/internal/execadapter"
)

// toolsModule is the predeclared `tools` value: a Starlark HasAttrs whose
// only attribute is `call`, a builtin closed over the Execution Adapter
// for this run.
type toolsModule struct {
	call *starlarklib.Builtin
}

func newToolsModule(ctx context.Context, adapter execadapter.Adapter) *toolsModule {
	m := &toolsModule{}
	m.call = starlarklib.NewBuiltin("tools.call", func(
		thread *starlarklib.Thread, fn *starlarklib.Builtin, args starlarklib.Tuple, kwargs []starlarklib.Tuple,
	) (starlarklib.Value, error) {
		var path starlarklib.String
		var input starlarklib.Value = starlarklib.None
		if err := starlarklib.UnpackArgs(fn.Name(), args, kwargs, "path", &path, "input?", &input); err != nil {
			return nil, err
		}

		inputValue, err := fromStarlark(input)
		if err != nil {
			return nil, fmt.Errorf("tools.call: %w", err)
		}
		inputMap, _ := inputValue.(map[string]any)

		result, err := adapter.InvokeTool(ctx, execadapter.ToolCallRequest{
			CallID:   uuid.New().String(),
			ToolPath: string(path),
			Input:    inputMap,
		})
		if err != nil {
			return nil, err
		}
		if !result.Ok {
			switch result.Kind {
			case execadapter.KindDenied:
				return nil, &toolDeniedError{reason: result.Error}
			default:
				return nil, fmt.Errorf("tool call %s failed: %s", path, result.Error)
			}
		}
		return toStarlark(result.Value)
	})
	return m
}

func (m *toolsModule) String() string        { return "tools" }
func (m *toolsModule) Type() string          { return "tools" }
func (m *toolsModule) Freeze()               {}
func (m *toolsModule) Truth() starlarklib.Bool { return starlarklib.True }
func (m *toolsModule) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: tools") }

func (m *toolsModule) Attr(name string) (starlarklib.Value, error) {
	if name == "call" {
		return m.call, nil
	}
	return nil, nil
}

func (m *toolsModule) AttrNames() []string { return []string{"call"} }

// fromStarlark converts a Starlark value into a plain Go value using the
// same shapes encoding/json would produce: map[string]any, []any, string,
// bool, float64/int64, or nil.
func fromStarlark(v starlarklib.Value) (any, error) {
	switch val := v.(type) {
	case starlarklib.NoneType, nil:
		return nil, nil
	case starlarklib.Bool:
		return bool(val), nil
	case starlarklib.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer out of range: %s", val.String())
		}
		return i, nil
	case starlarklib.Float:
		return float64(val), nil
	case starlarklib.String:
		return string(val), nil
	case *starlarklib.List:
		out := make([]any, 0, val.Len())
		iter := val.Iterate()
		defer iter.Done()
		var item starlarklib.Value
		for iter.Next(&item) {
			converted, err := fromStarlark(item)
			if err != nil {
				return nil, err
			}
			out = append(out, converted)
		}
		return out, nil
	case starlarklib.Tuple:
		out := make([]any, 0, val.Len())
		for _, item := range val {
			converted, err := fromStarlark(item)
			if err != nil {
				return nil, err
			}
			out = append(out, converted)
		}
		return out, nil
	case *starlarklib.Dict:
		out := make(map[string]any, val.Len())
		for _, item := range val.Items() {
			k, ok := item[0].(starlarklib.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be a string, got %s", item[0].Type())
			}
			converted, err := fromStarlark(item[1])
			if err != nil {
				return nil, err
			}
			out[string(k)] = converted
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported starlark value type %s", v.Type())
	}
}

// toStarlark converts a plain Go value (as produced by a tool's JSON
// output) into a Starlark value.
func toStarlark(v any) (starlarklib.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlarklib.None, nil
	case bool:
		return starlarklib.Bool(val), nil
	case string:
		return starlarklib.String(val), nil
	case int:
		return starlarklib.MakeInt(val), nil
	case int64:
		return starlarklib.MakeInt64(val), nil
	case float64:
		return starlarklib.Float(val), nil
	case []any:
		elems := make([]starlarklib.Value, 0, len(val))
		for _, item := range val {
			converted, err := toStarlark(item)
			if err != nil {
				return nil, err
			}
			elems = append(elems, converted)
		}
		return starlarklib.NewList(elems), nil
	case map[string]any:
		dict := starlarklib.NewDict(len(val))
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			converted, err := toStarlark(val[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlarklib.String(k), converted); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}
