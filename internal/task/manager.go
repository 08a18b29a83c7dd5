package task

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Status represents the status of an asynchronous task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ErrNotFound is returned for unknown or already pruned task IDs.
var ErrNotFound = errors.New("task not found")

// Task is a snapshot of an asynchronous admin operation such as a reload.
type Task struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	Status     Status     `json:"status"`
	Result     any        `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Func is the work executed by a task.
type Func func(ctx context.Context) (any, error)

type entry struct {
	task Task
	done chan struct{}
}

// Manager runs tasks in the background and keeps a bounded in-memory history.
type Manager struct {
	mu       sync.RWMutex
	tasks    map[string]*entry
	maxTasks int
	timeout  time.Duration
	logger   *zap.Logger
}

// NewManager creates a task manager that retains at most maxTasks finished tasks.
func NewManager(maxTasks int, timeout time.Duration, logger *zap.Logger) *Manager {
	if maxTasks <= 0 {
		maxTasks = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		tasks:    make(map[string]*entry),
		maxTasks: maxTasks,
		timeout:  timeout,
		logger:   logger,
	}
}

// Submit registers a task and starts it in its own goroutine.
// The task outlives the caller's request; ctx only contributes its values.
func (m *Manager) Submit(ctx context.Context, kind string, fn Func) Task {
	e := &entry{
		task: Task{
			ID:        uuid.New().String(),
			Kind:      kind,
			Status:    StatusPending,
			CreatedAt: time.Now(),
		},
		done: make(chan struct{}),
	}

	submitted := e.task

	m.mu.Lock()
	m.tasks[e.task.ID] = e
	m.pruneLocked()
	m.mu.Unlock()

	go m.run(context.WithoutCancel(ctx), e, fn)
	return submitted
}

func (m *Manager) run(ctx context.Context, e *entry, fn Func) {
	defer close(e.done)
	id, kind := e.task.ID, e.task.Kind

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	m.update(e, func(t *Task) { t.Status = StatusProcessing })
	result, err := fn(ctx)

	now := time.Now()
	m.update(e, func(t *Task) {
		t.FinishedAt = &now
		if err != nil {
			t.Status = StatusFailed
			t.Error = err.Error()
			return
		}
		t.Status = StatusCompleted
		t.Result = result
	})

	if err != nil {
		m.logger.Warn("task failed", zap.String("id", id), zap.String("kind", kind), zap.Error(err))
	} else {
		m.logger.Info("task completed", zap.String("id", id), zap.String("kind", kind))
	}
}

func (m *Manager) update(e *entry, fn func(*Task)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&e.task)
}

// GetTask returns a copy of the task state.
func (m *Manager) GetTask(id string) (Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	return e.task, nil
}

// Wait blocks until the task finishes or ctx is done.
func (m *Manager) Wait(ctx context.Context, id string) (Task, error) {
	m.mu.RLock()
	e, ok := m.tasks[id]
	m.mu.RUnlock()
	if !ok {
		return Task{}, ErrNotFound
	}

	select {
	case <-e.done:
		return m.GetTask(id)
	case <-ctx.Done():
		return Task{}, ctx.Err()
	}
}

// pruneLocked drops the oldest finished tasks once the history exceeds maxTasks.
func (m *Manager) pruneLocked() {
	if len(m.tasks) <= m.maxTasks {
		return
	}
	var finished []*entry
	for _, e := range m.tasks {
		if e.task.FinishedAt != nil {
			finished = append(finished, e)
		}
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].task.CreatedAt.Before(finished[j].task.CreatedAt)
	})
	for _, e := range finished {
		if len(m.tasks) <= m.maxTasks {
			return
		}
		delete(m.tasks, e.task.ID)
	}
}
