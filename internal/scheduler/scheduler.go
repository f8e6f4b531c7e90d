// Package scheduler implements the Task Scheduler: a worker that drains
// the queue of queued tasks, claims them with a conditional CAS write,
// dispatches each to its runtime, and translates the runtime's outcome
// into a terminal task state plus lifecycle events.
package scheduler

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sandboxrun/executor/internal/approval"
	"github.com/sandboxrun/executor/internal/execadapter"
	"github.com/sandboxrun/executor/internal/invocation"
	"github.com/sandboxrun/executor/internal/model"
	"github.com/sandboxrun/executor/internal/runtime"
	"github.com/sandboxrun/executor/internal/store"
)

// defaultBatchSize caps how many queued ids one drain pass claims.
const defaultBatchSize = 16

// defaultPollInterval covers missed queue-change notifications.
const defaultPollInterval = 2 * time.Second

// isTerminal is a package-local wrapper over model.TaskStatus.IsTerminal,
// the same check the MCP run_code wait in internal/httpapi calls directly.
func isTerminal(status model.TaskStatus) bool { return status.IsTerminal() }

// Scheduler is one worker draining the task queue. Multiple Schedulers
// (in one process or many) are safe to run concurrently: MarkTaskRunning
// is a conditional write, so each queued task is claimed by at most one.
type Scheduler struct {
	store     store.Store
	pipeline  *invocation.Pipeline
	approvals *approval.Coordinator
	runtimes  *runtime.Registry
	log       *slog.Logger

	batchSize    int
	pollInterval time.Duration

	draining atomic.Bool
}

// New constructs a Scheduler. batchSize and pollInterval fall back to
// their defaults when zero or negative; internal/config itself rejects
// non-positive EXECUTOR_WORKER_BATCH_SIZE and EXECUTOR_WORKER_POLL_MS.
func New(s store.Store, pipeline *invocation.Pipeline, approvals *approval.Coordinator, runtimes *runtime.Registry, batchSize int, pollInterval time.Duration, log *slog.Logger) *Scheduler {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{store: s, pipeline: pipeline, approvals: approvals, runtimes: runtimes, batchSize: batchSize, pollInterval: pollInterval, log: log}
}

// Run blocks, draining the queue on every queue-change notification and
// on a fixed poll interval, until ctx is cancelled.
func (sch *Scheduler) Run(ctx context.Context) {
	updates, cancel := sch.store.SubscribeQueuedTaskIDs(ctx, sch.batchSize)
	defer cancel()

	ticker := time.NewTicker(sch.pollInterval)
	defer ticker.Stop()

	sch.drainQueue(ctx, "onStart")
	for {
		select {
		case <-ctx.Done():
			return
		case ids, ok := <-updates:
			if !ok {
				continue
			}
			if len(ids) > 0 {
				sch.drainQueue(ctx, "onUpdate")
			}
		case <-ticker.C:
			sch.drainQueue(ctx, "onPoll")
		}
	}
}

// drainQueue is single-flight guarded: at most one drain pass runs per
// Scheduler at a time, so an onUpdate notification arriving mid-poll
// never starts a second concurrent pass.
func (sch *Scheduler) drainQueue(ctx context.Context, trigger string) {
	if !sch.draining.CompareAndSwap(false, true) {
		return
	}
	defer sch.draining.Store(false)

	ids, err := sch.store.ListQueuedTaskIDs(ctx, sch.batchSize)
	if err != nil {
		sch.log.Error("list queued task ids failed", "trigger", trigger, "error", err)
		return
	}
	for _, id := range ids {
		sch.dispatch(ctx, id)
	}
}

func (sch *Scheduler) dispatch(ctx context.Context, taskID string) {
	task, err := sch.store.GetTask(ctx, taskID)
	if err != nil {
		sch.log.Error("get task failed", "taskId", taskID, "error", err)
		return
	}
	if task.Status != model.TaskQueued {
		return
	}

	rt, ok := sch.runtimes.Get(task.RuntimeID)
	if !ok {
		sch.complete(ctx, task, model.TaskFailed, nil, nil, "Runtime not found")
		return
	}

	claimed, err := sch.store.MarkTaskRunning(ctx, taskID)
	if err != nil {
		sch.log.Error("mark task running failed", "taskId", taskID, "error", err)
		return
	}
	if !claimed {
		return
	}

	sch.publish(ctx, taskID, model.EventTaskRunning, nil)
	started := time.Now()

	adapter := execadapter.NewInProcess(sch.pipeline, sch.approvals, task.WorkspaceID, task.AccountID, "", taskID, func(ctx context.Context, ev execadapter.OutputEvent) error {
		_, err := sch.store.AppendTaskEvent(ctx, &model.TaskEvent{
			TaskID: taskID,
			Family: model.EventFamilyTask,
			Type:   model.EventTaskOutput,
			Payload: map[string]any{
				"stream":    ev.Stream,
				"line":      ev.Line,
				"timestamp": ev.Timestamp,
			},
			CreatedAt: time.Now(),
		})
		return err
	})

	result, runErr := rt.Run(ctx, runtime.Request{TaskID: taskID, Code: task.Code, TimeoutMs: task.TimeoutMs}, adapter)
	durationMs := time.Since(started).Milliseconds()

	if runErr != nil {
		if runErr == runtime.ErrTimeout {
			sch.complete(ctx, task, model.TaskTimedOut, nil, nil, "task timed out", durationMs)
			return
		}
		if denied, ok := invocation.AsApprovalDenied(runErr); ok {
			sch.complete(ctx, task, model.TaskDenied, nil, nil, denied.Reason, durationMs)
			return
		}
		sch.complete(ctx, task, model.TaskFailed, nil, nil, runErr.Error(), durationMs)
		return
	}

	if result.Denied {
		sch.complete(ctx, task, model.TaskDenied, nil, nil, result.Err, durationMs)
		return
	}
	if result.Err != "" {
		errMsg := result.Err
		if isLikelySandboxDenial(errMsg) {
			errMsg = errMsg + " (likely sandbox denial)"
		}
		sch.complete(ctx, task, model.TaskFailed, result.ExitCode, nil, errMsg, durationMs)
		return
	}
	sch.complete(ctx, task, model.TaskCompleted, result.ExitCode, result.Value, "", durationMs)
}

func (sch *Scheduler) complete(ctx context.Context, task *model.Task, status model.TaskStatus, exitCode *int, result any, taskErr string, durationMs ...int64) {
	if err := sch.store.CompleteTask(ctx, task.ID, status, exitCode, result, taskErr); err != nil {
		sch.log.Error("complete task failed", "taskId", task.ID, "status", status, "error", err)
		return
	}

	payload := map[string]any{"status": string(status)}
	if exitCode != nil {
		payload["exitCode"] = *exitCode
	}
	if taskErr != "" {
		payload["error"] = taskErr
	}
	if len(durationMs) > 0 {
		payload["durationMs"] = durationMs[0]
	}
	sch.publish(ctx, task.ID, eventTypeFor(status), payload)
}

func (sch *Scheduler) publish(ctx context.Context, taskID, eventType string, payload map[string]any) {
	if _, err := sch.store.AppendTaskEvent(ctx, &model.TaskEvent{
		TaskID:    taskID,
		Family:    model.EventFamilyTask,
		Type:      eventType,
		Payload:   payload,
		CreatedAt: time.Now(),
	}); err != nil {
		sch.log.Error("append task event failed", "taskId", taskID, "eventType", eventType, "error", err)
	}
}

func eventTypeFor(status model.TaskStatus) string {
	switch status {
	case model.TaskCompleted:
		return model.EventTaskCompleted
	case model.TaskFailed:
		return model.EventTaskFailed
	case model.TaskTimedOut:
		return model.EventTaskTimedOut
	case model.TaskDenied:
		return model.EventTaskDenied
	default:
		return model.EventTaskRunning
	}
}

// sandboxDenialKeywords mirrors the teacher's escalation heuristic: output
// strings that indicate a sandbox/permission denial rather than an
// ordinary command failure. Diagnostic only — it annotates the error
// message, it never changes the terminal status itself.
var sandboxDenialKeywords = []string{
	"operation not permitted",
	"permission denied",
	"read-only file system",
	"seccomp",
	"sandbox",
	"landlock",
	"failed to write file",
}

func isLikelySandboxDenial(output string) bool {
	lower := strings.ToLower(output)
	for _, kw := range sandboxDenialKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
