package server

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
)

// TaskStatus is the lifecycle state of an upload
type TaskStatus string

const (
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Task records the outcome of one upload
type Task struct {
	ID             string     `json:"task_id"`
	Status         TaskStatus `json:"status"`
	Filename       string     `json:"filename"`
	ThumbnailPaths []string   `json:"thumbnail_paths"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TaskRegistry keeps the most recent tasks in memory. The oldest entries are
// evicted once size is reached.
type TaskRegistry struct {
	mu    sync.Mutex
	cache *lru.Cache
	now   func() time.Time
}

func NewTaskRegistry(size int) (*TaskRegistry, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &TaskRegistry{cache: cache, now: time.Now}, nil
}

// Create registers a new processing task and returns a copy of it
func (r *TaskRegistry) Create(filename string) Task {
	id := uuid.New()
	now := r.now()
	t := &Task{
		ID:        hex.EncodeToString(id[:]),
		Status:    TaskProcessing,
		Filename:  filename,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	r.cache.Add(t.ID, t)
	r.mu.Unlock()
	return *t
}

// Get returns a copy of the task
func (r *TaskRegistry) Get(id string) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.cache.Get(id)
	if !ok {
		return Task{}, false
	}
	return *v.(*Task), true
}

// Complete marks a task completed with its thumbnails
func (r *TaskRegistry) Complete(id string, paths []string) {
	r.update(id, func(t *Task) {
		t.Status = TaskCompleted
		t.ThumbnailPaths = append([]string(nil), paths...)
	})
}

// Fail marks a task failed. partial lists thumbnails written before the
// failure, if any.
func (r *TaskRegistry) Fail(id string, msg string, partial []string) {
	r.update(id, func(t *Task) {
		t.Status = TaskFailed
		t.Error = msg
		t.ThumbnailPaths = append([]string(nil), partial...)
	})
}

// Len is the number of tasks held
func (r *TaskRegistry) Len() int {
	return r.cache.Len()
}

func (r *TaskRegistry) update(id string, fn func(*Task)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.cache.Peek(id)
	if !ok {
		return
	}
	t := v.(*Task)
	fn(t)
	t.UpdatedAt = r.now()
}
