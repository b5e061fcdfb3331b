package store

import (
	"context"

	"github.com/phrazzld/forge-api/internal/domain"
)

// Pagination bounds for task listing. Requests above MaxListLimit are
// rejected at the boundary; a zero filter gets DefaultListLimit.
const (
	DefaultListLimit = 10
	MaxListLimit     = 100
)

// TaskFilter narrows and paginates a task listing.
type TaskFilter struct {
	// Status restricts the listing to one lifecycle state when non-nil.
	Status *domain.TaskStatus

	// Limit caps the page size. Zero means DefaultListLimit.
	Limit int

	// Offset skips that many tasks of the filtered set.
	Offset int
}

// Normalize clamps the filter to the supported pagination bounds.
func (f *TaskFilter) Normalize() {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// TaskMutator applies an in-place change to a task inside the store's atomic
// update. Returning an error aborts the update and leaves the stored record
// untouched.
type TaskMutator func(task *domain.Task) error

// TaskStore defines the interface for task persistence. It is the single
// source of truth for lifecycle state; implementations must be safe for
// concurrent use and must never perform network I/O.
type TaskStore interface {
	// Create persists a new task, assigning the next identifier. The
	// returned copy carries the assigned ID. Identifiers are monotonic and
	// never reused, even after Delete.
	Create(ctx context.Context, task *domain.Task) (*domain.Task, error)

	// Get retrieves a task by id.
	// Returns ErrTaskNotFound if the task does not exist.
	Get(ctx context.Context, id int64) (*domain.Task, error)

	// List returns the filtered tasks ordered by id ascending, plus the
	// total count of the filtered set before pagination.
	List(ctx context.Context, filter TaskFilter) ([]*domain.Task, int64, error)

	// Update applies the mutator to the task atomically with respect to
	// other updates on the same id and refreshes updated_at on success.
	// Returns ErrTaskNotFound if the task does not exist, or the mutator's
	// error if it aborts.
	Update(ctx context.Context, id int64, mutate TaskMutator) (*domain.Task, error)

	// Delete removes the task record only. Files produced by the engine are
	// never touched, and running work is not stopped.
	// Returns ErrTaskNotFound if the task does not exist.
	Delete(ctx context.Context, id int64) error

	// CountActive returns the number of PENDING or RUNNING tasks for the
	// given project name and organization. Used to reject path collisions
	// before a second task can target the same working directory.
	CountActive(ctx context.Context, name, organization string) (int64, error)
}
