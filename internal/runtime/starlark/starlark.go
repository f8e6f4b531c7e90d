// Package starlark is the in-process Runtime: it evaluates submitted code
// as a Starlark program in the Go process itself, exposing a predeclared
// `tools` value whose `call(path, input)` builtin is the only way the
// code can reach a tool. This is the "non-Proxy alternative" the bridge
// protocol allows — there is no reflective "any property access becomes a
// tool path" surface here, only the explicit call builtin, which is a
// better fit for a language that has no dynamic property interception.
//
// Submitted code is wrapped in an implicit function so a bare top-level
// `return <expr>` (the calling convention every task's `code` field uses)
// produces the task's result value, the same way the sandbox/subprocess
// runtime's JS `return` statement does.
package starlark

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.starlark.net/starlark"

	"github.com/sandboxrun/executor/internal/execadapter"
	"github.com/sandboxrun/executor/internal/runtime"
)

const wrapperFuncName = "__task__"

// Runtime is the in-process Starlark execution runtime.
type Runtime struct {
	id    string
	label string
}

// New constructs the in-process Starlark runtime, identified as id in
// runtime-targets listings and task.runtimeId values.
func New(id, label string) *Runtime {
	return &Runtime{id: id, label: label}
}

func (r *Runtime) Descriptor() runtime.Descriptor {
	return runtime.Descriptor{ID: r.id, Label: r.label}
}

func (r *Runtime) Run(ctx context.Context, req runtime.Request, adapter execadapter.Adapter) (runtime.Result, error) {
	if req.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	thread := &starlark.Thread{Name: req.TaskID}

	predeclared := starlark.StringDict{
		"tools": newToolsModule(ctx, adapter),
	}

	source := wrap(req.Code)
	globals, err := starlark.ExecFile(thread, req.TaskID, source, predeclared)
	if err != nil {
		if ctx.Err() != nil {
			return runtime.Result{}, runtime.ErrTimeout
		}
		if denied, ok := asToolDenied(err); ok {
			return runtime.Result{Denied: true, Err: denied}, nil
		}
		return runtime.Result{Err: err.Error()}, nil
	}

	result, ok := globals["result"]
	if !ok {
		return runtime.Result{}, nil
	}
	value, err := fromStarlark(result)
	if err != nil {
		return runtime.Result{Err: err.Error()}, nil
	}
	return runtime.Result{Value: value}, nil
}

// wrap indents user code into a function body so a bare top-level return
// is legal Starlark, then calls it and captures its value as `result`.
func wrap(code string) string {
	var b strings.Builder
	b.WriteString("def ")
	b.WriteString(wrapperFuncName)
	b.WriteString("():\n")
	lines := strings.Split(code, "\n")
	for _, line := range lines {
		b.WriteString("    ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("result = ")
	b.WriteString(wrapperFuncName)
	b.WriteString("()\n")
	return b.String()
}

// toolDeniedError is a Starlark-visible error the call builtin raises
// when the Execution Adapter reports a denied tool call, so a user
// program's denial surfaces as a distinct task outcome rather than a
// generic failure.
type toolDeniedError struct{ reason string }

func (e *toolDeniedError) Error() string { return fmt.Sprintf("tool call denied: %s", e.reason) }

func asToolDenied(err error) (string, bool) {
	if evalErr, ok := err.(*starlark.EvalError); ok {
		err = evalErr.Unwrap()
	}
	if d, ok := err.(*toolDeniedError); ok {
		return d.reason, true
	}
	return "", false
}
