package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/forge-api/internal/domain"
	"github.com/phrazzld/forge-api/internal/platform/logger"
	"github.com/phrazzld/forge-api/internal/store"
)

// taskColumns is the column list shared by every task SELECT.
const taskColumns = `id, status, task, name, config, organization, model, path,
	build_apk, result_path, artifact_path, error_message, cancel_requested,
	created_at, updated_at`

// TaskStore implements store.TaskStore on SQLite. Updates run inside a
// transaction, which together with SQLite's single-writer model makes the
// read-mutate-write cycle atomic per id.
type TaskStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// Ensure TaskStore implements store.TaskStore
var _ store.TaskStore = (*TaskStore)(nil)

// NewTaskStore creates a new SQLite implementation of the task store. The
// database handle must be open and migrated.
func NewTaskStore(db *sql.DB, logger *slog.Logger) *TaskStore {
	// ALLOW-PANIC: Constructor enforcing required dependency
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &TaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

// Create persists a new task and returns a copy carrying the assigned id.
// AUTOINCREMENT keeps ids monotonic and never reuses one, even after rows
// are deleted.
func (s *TaskStore) Create(ctx context.Context, task *domain.Task) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		INSERT INTO tasks (status, task, name, config, organization, model, path,
			build_apk, result_path, artifact_path, error_message, cancel_requested,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		task.Status,
		task.Request.Task,
		task.Request.Name,
		task.Request.Config,
		task.Request.Organization,
		task.Request.Model,
		task.Request.Path,
		task.Request.BuildAPK,
		task.ResultPath,
		task.ArtifactPath,
		task.ErrorMessage,
		task.CancelRequested,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to insert task", "error", err)
		return nil, store.NewStoreError("task", "create", "insert failed", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, store.NewStoreError("task", "create", "failed to read assigned id", err)
	}

	created := *task
	created.ID = id
	return &created, nil
}

// Get retrieves a task by id.
func (s *TaskStore) Get(ctx context.Context, id int64) (*domain.Task, error) {
	return getTask(ctx, s.db, id)
}

// List returns the filtered page ordered by id ascending plus the total
// count of the filtered set.
func (s *TaskStore) List(ctx context.Context, filter store.TaskFilter) ([]*domain.Task, int64, error) {
	filter.Normalize()

	where := ""
	args := []any{}
	if filter.Status != nil {
		where = " WHERE status = ?"
		args = append(args, *filter.Status)
	}

	var total int64
	countQuery := "SELECT COUNT(*) FROM tasks" + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, store.NewStoreError("task", "list", "count failed", err)
	}

	pageQuery := "SELECT " + taskColumns + " FROM tasks" + where +
		" ORDER BY id ASC LIMIT ? OFFSET ?"
	pageArgs := append(args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, pageQuery, pageArgs...)
	if err != nil {
		return nil, 0, store.NewStoreError("task", "list", "query failed", err)
	}
	defer func() { _ = rows.Close() }()

	tasks := make([]*domain.Task, 0, filter.Limit)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, 0, store.NewStoreError("task", "list", "scan failed", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, store.NewStoreError("task", "list", "row iteration failed", err)
	}

	return tasks, total, nil
}

// Update applies the mutator inside a transaction. The mutator's error
// aborts the transaction, leaving the stored record untouched.
func (s *TaskStore) Update(ctx context.Context, id int64, mutate store.TaskMutator) (*domain.Task, error) {
	var updated *domain.Task

	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		task, err := getTask(ctx, tx, id)
		if err != nil {
			return err
		}

		if err := mutate(task); err != nil {
			return err
		}

		task.ID = id
		task.UpdatedAt = time.Now().UTC()

		if err := writeTask(ctx, tx, task); err != nil {
			return err
		}

		updated = task
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// Delete removes the task row. The AUTOINCREMENT sequence is untouched, so
// the id is never handed out again.
func (s *TaskStore) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return store.NewStoreError("task", "delete", "delete failed", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return store.NewStoreError("task", "delete", "failed to read rows affected", err)
	}

	if affected == 0 {
		return store.ErrTaskNotFound
	}

	return nil
}

// CountActive returns the number of PENDING or RUNNING tasks for the given
// project name and organization.
func (s *TaskStore) CountActive(ctx context.Context, name, organization string) (int64, error) {
	query := `
		SELECT COUNT(*) FROM tasks
		WHERE name = ? AND organization = ? AND status IN (?, ?)
	`

	var count int64
	err := s.db.QueryRowContext(ctx, query,
		name, organization, domain.TaskStatusPending, domain.TaskStatusRunning,
	).Scan(&count)
	if err != nil {
		return 0, store.NewStoreError("task", "count_active", "count failed", err)
	}

	return count, nil
}

// getTask loads one task through db, which may be the pool or an open
// transaction.
func getTask(ctx context.Context, db store.DBTX, id int64) (*domain.Task, error) {
	row := db.QueryRowContext(ctx,
		"SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		return nil, store.NewStoreError("task", "get", "scan failed", err)
	}

	return task, nil
}

// writeTask persists every mutable field of the task.
func writeTask(ctx context.Context, db store.DBTX, task *domain.Task) error {
	query := `
		UPDATE tasks
		SET status = ?, result_path = ?, artifact_path = ?, error_message = ?,
			cancel_requested = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := db.ExecContext(ctx, query,
		task.Status,
		task.ResultPath,
		task.ArtifactPath,
		task.ErrorMessage,
		task.CancelRequested,
		task.UpdatedAt,
		task.ID,
	)
	if err != nil {
		return store.NewStoreError("task", "update", "update failed", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return store.NewStoreError("task", "update", "failed to read rows affected", err)
	}

	if affected == 0 {
		return store.ErrTaskNotFound
	}

	return nil
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanTask reads one tasks row into a domain Task.
func scanTask(row scanner) (*domain.Task, error) {
	var task domain.Task
	var status string

	err := row.Scan(
		&task.ID,
		&status,
		&task.Request.Task,
		&task.Request.Name,
		&task.Request.Config,
		&task.Request.Organization,
		&task.Request.Model,
		&task.Request.Path,
		&task.Request.BuildAPK,
		&task.ResultPath,
		&task.ArtifactPath,
		&task.ErrorMessage,
		&task.CancelRequested,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsed, err := domain.ParseTaskStatus(status)
	if err != nil {
		return nil, fmt.Errorf("stored status %q: %w", status, err)
	}
	task.Status = parsed

	return &task, nil
}
