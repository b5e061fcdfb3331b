// Package memstore provides an in-process task store. It backs tests and
// ephemeral deployments where the on-disk SQLite store is not wanted; the
// lifecycle and identifier guarantees are identical.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/phrazzld/forge-api/internal/domain"
	"github.com/phrazzld/forge-api/internal/store"
)

// TaskStore is a mutex-guarded map of tasks keyed by id. The id counter only
// ever grows, so deleted ids are never handed out again.
type TaskStore struct {
	mu     sync.RWMutex
	tasks  map[int64]*domain.Task
	nextID int64
}

// Ensure TaskStore implements store.TaskStore
var _ store.TaskStore = (*TaskStore)(nil)

// NewTaskStore creates an empty in-memory task store.
func NewTaskStore() *TaskStore {
	return &TaskStore{
		tasks: make(map[int64]*domain.Task),
	}
}

// Create persists the task under the next monotonic id and returns a copy.
func (s *TaskStore) Create(_ context.Context, task *domain.Task) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	stored := cloneTask(task)
	stored.ID = s.nextID
	s.tasks[stored.ID] = stored

	return cloneTask(stored), nil
}

// Get returns a copy of the task with the given id.
func (s *TaskStore) Get(_ context.Context, id int64) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}

	return cloneTask(task), nil
}

// List returns the filtered tasks ordered by id ascending and the total
// count of the filtered set before pagination.
func (s *TaskStore) List(_ context.Context, filter store.TaskFilter) ([]*domain.Task, int64, error) {
	filter.Normalize()

	s.mu.RLock()
	matched := make([]*domain.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		if filter.Status != nil && task.Status != *filter.Status {
			continue
		}
		matched = append(matched, task)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	total := int64(len(matched))

	if filter.Offset >= len(matched) {
		return []*domain.Task{}, total, nil
	}

	end := filter.Offset + filter.Limit
	if end > len(matched) {
		end = len(matched)
	}

	page := make([]*domain.Task, 0, end-filter.Offset)
	for _, task := range matched[filter.Offset:end] {
		page = append(page, cloneTask(task))
	}

	return page, total, nil
}

// Update applies the mutator to the stored task under the store lock, making
// the read-mutate-write cycle atomic per id. A mutator error leaves the
// stored record untouched.
func (s *TaskStore) Update(_ context.Context, id int64, mutate store.TaskMutator) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}

	updated := cloneTask(current)
	if err := mutate(updated); err != nil {
		return nil, err
	}

	// The id is immutable regardless of what the mutator did.
	updated.ID = id
	updated.UpdatedAt = time.Now().UTC()
	s.tasks[id] = updated

	return cloneTask(updated), nil
}

// Delete removes the task record. The id counter is untouched, so the id is
// gone for good.
func (s *TaskStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return store.ErrTaskNotFound
	}

	delete(s.tasks, id)
	return nil
}

// CountActive returns how many PENDING or RUNNING tasks target the given
// project name and organization.
func (s *TaskStore) CountActive(_ context.Context, name, organization string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, task := range s.tasks {
		if task.Status != domain.TaskStatusPending && task.Status != domain.TaskStatusRunning {
			continue
		}
		if task.Request.Name == name && task.Request.Organization == organization {
			count++
		}
	}

	return count, nil
}

// cloneTask copies a task so callers never share memory with the store.
func cloneTask(t *domain.Task) *domain.Task {
	c := *t
	return &c
}
