package memstore

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/forge-api/internal/domain"
	"github.com/phrazzld/forge-api/internal/store"
)

func newTask(t *testing.T, name string) *domain.Task {
	t.Helper()
	task, err := domain.NewTask(domain.GenerateRequest{
		Task: "Build a todo list application with local persistence",
		Name: name,
	})
	require.NoError(t, err)
	return task
}

func TestCreateAssignsMonotonicIDs(t *testing.T) {
	t.Parallel()

	s := NewTaskStore()
	ctx := context.Background()

	first, err := s.Create(ctx, newTask(t, "app_one"))
	require.NoError(t, err)
	second, err := s.Create(ctx, newTask(t, "app_two"))
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)
}

func TestIDsNeverReused(t *testing.T) {
	t.Parallel()

	s := NewTaskStore()
	ctx := context.Background()

	created, err := s.Create(ctx, newTask(t, "app_one"))
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, created.ID))

	next, err := s.Create(ctx, newTask(t, "app_two"))
	require.NoError(t, err)
	assert.Greater(t, next.ID, created.ID, "deleted ids must not come back")
}

func TestGet(t *testing.T) {
	t.Parallel()

	s := NewTaskStore()
	ctx := context.Background()

	created, err := s.Create(ctx, newTask(t, "app_one"))
	require.NoError(t, err)

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, domain.TaskStatusPending, got.Status)

	_, err = s.Get(ctx, 999)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestGetReturnsCopy(t *testing.T) {
	t.Parallel()

	s := NewTaskStore()
	ctx := context.Background()

	created, err := s.Create(ctx, newTask(t, "app_one"))
	require.NoError(t, err)

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	got.Status = domain.TaskStatusFailed
	got.ErrorMessage = "mutated by caller"

	fresh, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, fresh.Status, "caller mutations must not leak into the store")
	assert.Empty(t, fresh.ErrorMessage)
}

func TestListPagination(t *testing.T) {
	t.Parallel()

	s := NewTaskStore()
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		_, err := s.Create(ctx, newTask(t, fmt.Sprintf("app_%02d", i)))
		require.NoError(t, err)
	}

	page, total, err := s.List(ctx, store.TaskFilter{Limit: 10, Offset: 0})
	require.NoError(t, err)
	assert.Equal(t, int64(15), total)
	require.Len(t, page, 10)
	assert.Equal(t, int64(1), page[0].ID)
	assert.Equal(t, int64(10), page[9].ID)

	rest, total, err := s.List(ctx, store.TaskFilter{Limit: 10, Offset: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(15), total)
	require.Len(t, rest, 5)
	assert.Equal(t, int64(11), rest[0].ID)

	beyond, total, err := s.List(ctx, store.TaskFilter{Limit: 10, Offset: 40})
	require.NoError(t, err)
	assert.Equal(t, int64(15), total)
	assert.Empty(t, beyond)
}

func TestListStatusFilter(t *testing.T) {
	t.Parallel()

	s := NewTaskStore()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		created, err := s.Create(ctx, newTask(t, fmt.Sprintf("app_%d", i)))
		require.NoError(t, err)
		if i%2 == 0 {
			_, err = s.Update(ctx, created.ID, func(task *domain.Task) error {
				return task.Cancel("task cancelled by user request")
			})
			require.NoError(t, err)
		}
	}

	cancelled := domain.TaskStatusCancelled
	page, total, err := s.List(ctx, store.TaskFilter{Status: &cancelled})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	for _, task := range page {
		assert.Equal(t, domain.TaskStatusCancelled, task.Status)
	}
}

func TestUpdateAtomicity(t *testing.T) {
	t.Parallel()

	s := NewTaskStore()
	ctx := context.Background()

	created, err := s.Create(ctx, newTask(t, "app_one"))
	require.NoError(t, err)

	// A failing mutator leaves the record untouched.
	_, err = s.Update(ctx, created.ID, func(task *domain.Task) error {
		task.Status = domain.TaskStatusFailed
		return domain.ErrInvalidTransition
	})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	current, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, current.Status)

	// A successful mutator persists and refreshes updated_at.
	before := current.UpdatedAt
	updated, err := s.Update(ctx, created.ID, func(task *domain.Task) error {
		return task.Start()
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusRunning, updated.Status)
	assert.False(t, updated.UpdatedAt.Before(before))

	_, err = s.Update(ctx, 999, func(task *domain.Task) error { return nil })
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestConcurrentUpdatesSerialize(t *testing.T) {
	t.Parallel()

	s := NewTaskStore()
	ctx := context.Background()

	created, err := s.Create(ctx, newTask(t, "app_one"))
	require.NoError(t, err)

	// Exactly one of N concurrent PENDING->RUNNING transitions may win.
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, created.ID, func(task *domain.Task) error {
				return task.Start()
			})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestDelete(t *testing.T) {
	t.Parallel()

	s := NewTaskStore()
	ctx := context.Background()

	created, err := s.Create(ctx, newTask(t, "app_one"))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, created.ID))

	_, err = s.Get(ctx, created.ID)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)

	// Second delete of the same id fails not-found.
	assert.ErrorIs(t, s.Delete(ctx, created.ID), store.ErrTaskNotFound)
}

func TestCountActive(t *testing.T) {
	t.Parallel()

	s := NewTaskStore()
	ctx := context.Background()

	first, err := s.Create(ctx, newTask(t, "app_one"))
	require.NoError(t, err)
	_, err = s.Create(ctx, newTask(t, "app_one"))
	require.NoError(t, err)
	_, err = s.Create(ctx, newTask(t, "app_other"))
	require.NoError(t, err)

	count, err := s.CountActive(ctx, "app_one", domain.DefaultOrganization)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// Terminal tasks stop counting.
	_, err = s.Update(ctx, first.ID, func(task *domain.Task) error {
		return task.Cancel("task cancelled by user request")
	})
	require.NoError(t, err)

	count, err = s.CountActive(ctx, "app_one", domain.DefaultOrganization)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = s.CountActive(ctx, "app_one", "SomeoneElse")
	require.NoError(t, err)
	assert.Zero(t, count)
}
