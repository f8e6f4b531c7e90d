// Package subprocess is the out-of-process Runtime: it spawns the
// sandboxed runner script under a pty (so its combined stdout stream,
// including the terminal __EXECUTOR_RESULT__ line, can be read
// incrementally rather than only after exit) and wraps the spawn with
// the teacher's OS-level sandbox transform. A running script's tool
// calls cross back into this process over a simple line protocol on its
// own stdin/stdout rather than over the network: a genuinely remote
// sandbox (a separate machine or container) instead reaches the control
// plane through the HTTP handlers in internal/sandboxbridge, which speak
// the same marker vocabulary over the wire.
package subprocess

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/creack/pty"

	execcap "github.com/sandboxrun/executor/internal/exec"
	"github.com/sandboxrun/executor/internal/execadapter"
	"github.com/sandboxrun/executor/internal/execenv"
	"github.com/sandboxrun/executor/internal/runtime"
	"github.com/sandboxrun/executor/internal/sandbox"
)

// resultMarker prefixes the runner's single terminal result line, JSON
// encoding a runtime.Result-shaped payload.
const resultMarker = "__EXECUTOR_RESULT__"

// toolCallMarker prefixes a runner's request to invoke a tool; the
// runtime replies on the child's stdin with one line of
// execadapter.ToolCallResult JSON.
const toolCallMarker = "__EXECUTOR_TOOL_CALL__"

// outputMarker prefixes a runner's explicit captured console line, kept
// distinct from raw process stdout so interleaved protocol lines never
// get mistaken for user output.
const outputMarker = "__EXECUTOR_OUTPUT__"

// Runtime runs one task's code through runnerPath, a script that
// implements the runner contract described above.
type Runtime struct {
	id         string
	label      string
	runnerPath string
	interp     string
	env        *execenv.ShellEnvironmentPolicy
	manager    sandbox.SandboxManager
}

// New constructs the subprocess runtime. interp is the program used to
// execute runnerPath (e.g. "node", "bun", "python3"); runnerPath is the
// sandboxed runner script invoked for every task.
func New(id, label, interp, runnerPath string, env *execenv.ShellEnvironmentPolicy, manager sandbox.SandboxManager) *Runtime {
	if manager == nil {
		manager = sandbox.NewNoopSandboxManager()
	}
	return &Runtime{id: id, label: label, interp: interp, runnerPath: runnerPath, env: env, manager: manager}
}

func (r *Runtime) Descriptor() runtime.Descriptor {
	return runtime.Descriptor{ID: r.id, Label: r.label}
}

type resultPayload struct {
	ExitCode *int   `json:"exitCode,omitempty"`
	Value    any    `json:"value,omitempty"`
	Error    string `json:"error,omitempty"`
	Denied   bool   `json:"denied,omitempty"`
}

type toolCallPayload struct {
	CallID   string         `json:"callId"`
	ToolPath string         `json:"toolPath"`
	Input    map[string]any `json:"input"`
}

func (r *Runtime) Run(ctx context.Context, req runtime.Request, adapter execadapter.Adapter) (runtime.Result, error) {
	deadline := time.Duration(req.TimeoutMs)*time.Millisecond + 30*time.Second
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	spec := sandbox.CommandSpec{Program: r.interp, Args: []string{r.runnerPath}, Cwd: ""}
	policy := &sandbox.SandboxPolicy{Mode: sandbox.ModeWorkspaceWrite, NetworkAccess: false}
	execEnv, err := r.manager.Transform(spec, policy)
	if err != nil {
		return runtime.Result{}, fmt.Errorf("subprocess: sandbox transform: %w", err)
	}

	cmd := exec.CommandContext(runCtx, execEnv.Command[0], execEnv.Command[1:]...)
	for k, v := range execenv.CreateEnv(r.env) {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	for k, v := range execEnv.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Env = append(cmd.Env, "EXECUTOR_TASK_CODE="+req.Code, fmt.Sprintf("EXECUTOR_TIMEOUT_MS=%d", req.TimeoutMs))

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return runtime.Result{}, fmt.Errorf("subprocess: start runner: %w", err)
	}
	defer ptmx.Close()

	scanner := bufio.NewScanner(ptmx)
	scanner.Buffer(make([]byte, 0, 64*1024), execcap.ExecOutputMaxBytes)

	var final *resultPayload
	var captured bytes.Buffer
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, resultMarker):
			var payload resultPayload
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, resultMarker)), &payload); err == nil {
				final = &payload
			}
		case strings.HasPrefix(line, toolCallMarker):
			r.handleToolCall(runCtx, adapter, ptmx, strings.TrimPrefix(line, toolCallMarker))
		case strings.HasPrefix(line, outputMarker):
			text := strings.TrimPrefix(line, outputMarker)
			captured.WriteString(text)
			captured.WriteByte('\n')
			_ = adapter.EmitOutput(runCtx, execadapter.OutputEvent{Stream: "stdout", Line: text, Timestamp: time.Now().UnixMilli()})
		default:
			captured.WriteString(line)
			captured.WriteByte('\n')
			_ = adapter.EmitOutput(runCtx, execadapter.OutputEvent{Stream: "stdout", Line: line, Timestamp: time.Now().UnixMilli()})
		}
	}

	waitErr := cmd.Wait()
	if runCtx.Err() != nil {
		return runtime.Result{}, runtime.ErrTimeout
	}
	if final == nil {
		msg := "runner exited without a result"
		if waitErr != nil {
			msg = fmt.Sprintf("runner exited without a result: %v", waitErr)
		}
		if trailing := execcap.AggregateOutput(captured.Bytes(), nil); len(trailing) > 0 {
			msg = fmt.Sprintf("%s; trailing output: %s", msg, trailing)
		}
		return runtime.Result{Err: msg}, nil
	}
	return runtime.Result{ExitCode: final.ExitCode, Value: final.Value, Err: final.Error, Denied: final.Denied}, nil
}

// handleToolCall services one tool-call marker line by invoking the
// adapter and writing the JSON result back to the runner's stdin so its
// blocking read unblocks with an answer.
func (r *Runtime) handleToolCall(ctx context.Context, adapter execadapter.Adapter, w io.Writer, raw string) {
	var call toolCallPayload
	if err := json.Unmarshal([]byte(raw), &call); err != nil {
		writeToolResult(w, execadapter.ToolCallResult{Ok: false, Kind: execadapter.KindFailed, Error: "malformed tool call request"})
		return
	}
	result, err := adapter.InvokeTool(ctx, execadapter.ToolCallRequest{CallID: call.CallID, ToolPath: call.ToolPath, Input: call.Input})
	if err != nil {
		writeToolResult(w, execadapter.ToolCallResult{Ok: false, Kind: execadapter.KindFailed, Error: err.Error()})
		return
	}
	writeToolResult(w, result)
}

func writeToolResult(w io.Writer, result execadapter.ToolCallResult) {
	b, err := json.Marshal(result)
	if err != nil {
		return
	}
	_, _ = w.Write(append(b, '\n'))
}
