// Package service implements the application services that tie the catalog,
// engine and persistence layers together behind the HTTP surface.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/castarr/castarr/internal/models"
)

// TaskStatus is the lifecycle state of a background task.
type TaskStatus string

const (
	// TaskStatusRunning indicates the task is executing.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusCompleted indicates the task finished successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task finished with an error.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled indicates the task was cancelled by a caller.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// TaskView is the queryable snapshot of a background task, returned to
// clients polling for progress.
type TaskView struct {
	ID           uuid.UUID      `json:"id"`
	Type         models.JobType `json:"type"`
	ChannelID    models.ULID    `json:"channel_id"`
	Status       TaskStatus     `json:"status"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
	ItemsAdded   int            `json:"items_added"`
	ItemsRemoved int            `json:"items_removed"`
	Error        string         `json:"error,omitempty"`
}

// task is the internal mutable state behind a TaskView.
type task struct {
	mu     sync.Mutex
	view   TaskView
	cancel context.CancelFunc
}

func (t *task) snapshot() TaskView {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.view
}

func (t *task) complete(added, removed int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	t.view.Status = TaskStatusCompleted
	t.view.FinishedAt = &now
	t.view.ItemsAdded = added
	t.view.ItemsRemoved = removed
}

func (t *task) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	t.view.Status = TaskStatusFailed
	t.view.FinishedAt = &now
	if err != nil {
		t.view.Error = err.Error()
	}
}

func (t *task) cancelled() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	t.view.Status = TaskStatusCancelled
	t.view.FinishedAt = &now
}

// maxFinishedTasks bounds how many finished tasks stay queryable.
const maxFinishedTasks = 200

// TaskRegistry tracks cancellable background tasks by ID. Finished tasks
// remain queryable until evicted by newer ones.
type TaskRegistry struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*task
	order []uuid.UUID
}

// NewTaskRegistry creates an empty registry.
func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{tasks: make(map[uuid.UUID]*task)}
}

// begin registers a new running task.
func (r *TaskRegistry) begin(taskType models.JobType, channelID models.ULID, cancel context.CancelFunc) *task {
	t := &task{
		view: TaskView{
			ID:        uuid.New(),
			Type:      taskType,
			ChannelID: channelID,
			Status:    TaskStatusRunning,
			StartedAt: time.Now(),
		},
		cancel: cancel,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[t.view.ID] = t
	r.order = append(r.order, t.view.ID)
	r.evictLocked()
	return t
}

// Get returns a snapshot of the task with the given ID.
func (r *TaskRegistry) Get(id uuid.UUID) (TaskView, bool) {
	r.mu.Lock()
	t, ok := r.tasks[id]
	r.mu.Unlock()
	if !ok {
		return TaskView{}, false
	}
	return t.snapshot(), true
}

// Cancel requests cancellation of a running task. Returns false when the
// task is unknown or already finished.
func (r *TaskRegistry) Cancel(id uuid.UUID) bool {
	r.mu.Lock()
	t, ok := r.tasks[id]
	r.mu.Unlock()
	if !ok {
		return false
	}

	t.mu.Lock()
	running := t.view.Status == TaskStatusRunning
	cancel := t.cancel
	t.mu.Unlock()

	if !running || cancel == nil {
		return false
	}
	cancel()
	return true
}

// evictLocked drops the oldest finished tasks beyond the retention bound.
func (r *TaskRegistry) evictLocked() {
	for len(r.order) > maxFinishedTasks {
		oldest := r.order[0]
		if t, ok := r.tasks[oldest]; ok {
			t.mu.Lock()
			running := t.view.Status == TaskStatusRunning
			t.mu.Unlock()
			if running {
				break
			}
			delete(r.tasks, oldest)
		}
		r.order = r.order[1:]
	}
}
