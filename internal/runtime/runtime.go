// Package runtime defines the contract the Task Scheduler drives to
// execute one task's code, plus the two concrete implementations:
// starlark (in-process) and subprocess (out-of-process, speaking the
// sandbox bridge protocol).
package runtime

import (
	"context"
	"errors"

	"github.com/sandboxrun/executor/internal/execadapter"
)

// ErrTimeout is returned by Run when the runtime could not complete
// before its deadline; the scheduler maps this to task status timed_out.
var ErrTimeout = errors.New("runtime: TASK_TIMEOUT")

// Request is what the scheduler hands a runtime for one task.
type Request struct {
	TaskID    string
	Code      string
	TimeoutMs int64
}

// Result is a runtime's terminal outcome for one task.
type Result struct {
	ExitCode *int
	Value    any
	Err      string
	Denied   bool // set when the task's own code triggered an unapproved tool call
}

// Descriptor is the runtime-targets listing shape (§6 GET /api/runtime-targets).
type Descriptor struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Runtime executes one task's code against an Adapter that mediates every
// tool call back through policy/approval/the registry.
type Runtime interface {
	Descriptor() Descriptor
	Run(ctx context.Context, req Request, adapter execadapter.Adapter) (Result, error)
}

// Registry is a simple lookup of runtimes by id, used by the scheduler to
// resolve a task's runtimeId and by the httpapi's runtime-targets listing.
type Registry struct {
	runtimes map[string]Runtime
	order    []string
}

func NewRegistry(runtimes ...Runtime) *Registry {
	r := &Registry{runtimes: make(map[string]Runtime, len(runtimes))}
	for _, rt := range runtimes {
		d := rt.Descriptor()
		r.runtimes[d.ID] = rt
		r.order = append(r.order, d.ID)
	}
	return r
}

func (r *Registry) Get(id string) (Runtime, bool) {
	rt, ok := r.runtimes[id]
	return rt, ok
}

func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.runtimes[id].Descriptor())
	}
	return out
}
