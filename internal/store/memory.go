package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sandboxrun/executor/internal/eventhub"
	"github.com/sandboxrun/executor/internal/model"
)

// MemoryStore is the in-memory reference implementation of Store. It is
// concurrency-safe and suitable for a single control-plane process; a
// production deployment backs Store with a real document database instead.
// Live fan-out (queued-task watchers, per-task event listeners) is
// delegated to eventhub.Hub rather than hand-rolled here; MemoryStore only
// owns durability.
type MemoryStore struct {
	mu sync.Mutex

	tasks  map[string]*model.Task
	events map[string][]*model.TaskEvent // taskID -> ordered events

	queuedHub *eventhub.Hub[[]string]

	taskEventHub *eventhub.Hub[*model.TaskEvent]

	approvals map[string]*model.Approval // id -> approval

	toolCalls map[string]*model.ToolCall // taskID+"/"+callID -> call

	toolSources map[string]*model.ToolSource // id -> source

	policies map[string][]*model.AccessPolicy // workspaceID -> policies

	credentials map[string][]*model.CredentialRecord // workspaceID -> credentials

	registryState map[string]*model.ToolRegistryState // workspaceID -> state

	registryEntries map[string]map[string]*model.ToolRegistryEntry // workspaceID/buildID -> path -> entry

	namespaceSummaries map[string]map[string]*model.NamespaceSummary // workspaceID/buildID -> namespace -> summary
}

const queuedHubKey = "queued"

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:              make(map[string]*model.Task),
		events:             make(map[string][]*model.TaskEvent),
		queuedHub:          eventhub.New[[]string](),
		taskEventHub:       eventhub.New[*model.TaskEvent](),
		approvals:          make(map[string]*model.Approval),
		toolCalls:          make(map[string]*model.ToolCall),
		toolSources:        make(map[string]*model.ToolSource),
		policies:           make(map[string][]*model.AccessPolicy),
		credentials:        make(map[string][]*model.CredentialRecord),
		registryState:      make(map[string]*model.ToolRegistryState),
		registryEntries:    make(map[string]map[string]*model.ToolRegistryEntry),
		namespaceSummaries: make(map[string]map[string]*model.NamespaceSummary),
	}
}

// Close is a no-op for MemoryStore; present to satisfy Store.
func (s *MemoryStore) Close() {}

func toolCallKey(taskID, callID string) string { return taskID + "/" + callID }

// --- Tasks ---

func (s *MemoryStore) CreateTask(ctx context.Context, t *model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	cp := *t
	s.tasks[t.ID] = &cp
	if t.Status == model.TaskQueued {
		s.notifyQueuedLocked()
	}
	return nil
}

func (s *MemoryStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ListTasks(ctx context.Context, workspaceID string, limit int) ([]*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if workspaceID != "" && t.WorkspaceID != workspaceID {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) listQueuedLocked(limit int) []string {
	type idAt struct {
		id string
		at time.Time
	}
	var queued []idAt
	for _, t := range s.tasks {
		if t.Status == model.TaskQueued {
			queued = append(queued, idAt{t.ID, t.CreatedAt})
		}
	}
	sort.Slice(queued, func(i, j int) bool { return queued[i].at.Before(queued[j].at) })
	if limit > 0 && len(queued) > limit {
		queued = queued[:limit]
	}
	ids := make([]string, len(queued))
	for i, q := range queued {
		ids[i] = q.id
	}
	return ids
}

func (s *MemoryStore) ListQueuedTaskIDs(ctx context.Context, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listQueuedLocked(limit), nil
}

// notifyQueuedLocked must be called with mu held after any change that
// could affect the queued set. It publishes the unbounded queued-id list;
// each subscriber truncates to its own requested limit on receipt.
func (s *MemoryStore) notifyQueuedLocked() {
	s.queuedHub.Publish(queuedHubKey, s.listQueuedLocked(0))
}

func (s *MemoryStore) SubscribeQueuedTaskIDs(ctx context.Context, limit int) (<-chan []string, func()) {
	raw, hubCancel := s.queuedHub.Subscribe(queuedHubKey, 1)
	out := make(chan []string, 1)

	truncate := func(ids []string) []string {
		if limit > 0 && len(ids) > limit {
			return ids[:limit]
		}
		return ids
	}

	s.mu.Lock()
	initial := truncate(s.listQueuedLocked(0))
	s.mu.Unlock()
	out <- initial

	done := make(chan struct{})
	go func() {
		for {
			select {
			case ids, ok := <-raw:
				if !ok {
					return
				}
				select {
				case out <- truncate(ids):
				default:
				}
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			hubCancel()
		})
	}
	return out, cancel
}

func (s *MemoryStore) MarkTaskRunning(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return false, ErrNotFound
	}
	if t.Status != model.TaskQueued {
		return false, nil
	}
	now := time.Now()
	t.Status = model.TaskRunning
	t.StartedAt = &now
	s.notifyQueuedLocked()
	return true, nil
}

func (s *MemoryStore) CompleteTask(ctx context.Context, id string, status model.TaskStatus, exitCode *int, result any, taskErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if t.Status.IsTerminal() {
		return nil
	}
	now := time.Now()
	t.Status = status
	t.CompletedAt = &now
	t.ExitCode = exitCode
	t.Result = result
	t.Error = taskErr
	return nil
}

// --- Task events ---

func (s *MemoryStore) AppendTaskEvent(ctx context.Context, ev *model.TaskEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.events[ev.TaskID]
	ev.Seq = int64(len(existing)) + 1
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	cp := *ev
	s.events[ev.TaskID] = append(existing, &cp)

	// Every repository write that creates a TaskEvent also publishes via
	// the hub, under the same lock so publication order matches append
	// order; the hub itself persists nothing. Publish never blocks (it
	// drops for slow subscribers), so this holds the lock only briefly.
	s.taskEventHub.Publish(ev.TaskID, &cp)
	return ev.Seq, nil
}

func (s *MemoryStore) ListTaskEvents(ctx context.Context, taskID string, afterSeq int64) ([]*model.TaskEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.events[taskID]
	out := make([]*model.TaskEvent, 0, len(all))
	for _, ev := range all {
		if ev.Seq > afterSeq {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) SubscribeTaskEvents(ctx context.Context, taskID string, afterSeq int64) (<-chan *model.TaskEvent, func()) {
	// Hold the store lock across the replay snapshot and hub registration
	// so no concurrent AppendTaskEvent can publish a new event in between,
	// which would otherwise violate per-task publication order.
	s.mu.Lock()
	defer s.mu.Unlock()

	var replay []*model.TaskEvent
	for _, ev := range s.events[taskID] {
		if ev.Seq > afterSeq {
			cp := *ev
			replay = append(replay, &cp)
		}
	}
	return s.taskEventHub.SubscribeWithReplay(taskID, 32, replay)
}
