package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/phrazzld/forge-api/internal/domain"
	"github.com/phrazzld/forge-api/internal/platform/act"
	"github.com/phrazzld/forge-api/internal/redact"
	"github.com/phrazzld/forge-api/internal/store"
)

// Executor dispatch errors.
var (
	// ErrAlreadyDispatched is returned when a task id is queued or running.
	ErrAlreadyDispatched = errors.New("task already dispatched")

	// ErrQueueFull is returned when the job queue cannot take another task.
	ErrQueueFull = errors.New("executor queue is full")

	// ErrStopped is returned when work is offered to a stopped executor.
	ErrStopped = errors.New("executor stopped")
)

// Default pool bounds, matching the configuration defaults.
const (
	DefaultWorkers   = 4
	DefaultQueueSize = 100
)

// Config configures the executor pool.
type Config struct {
	// Workers is the number of concurrent job workers.
	Workers int

	// QueueSize is the capacity of the job queue.
	QueueSize int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Workers:   DefaultWorkers,
		QueueSize: DefaultQueueSize,
	}
}

// Executor runs generation tasks and packaging jobs on a bounded worker
// pool. Every external call the service makes (engine subprocess, workflow
// runner) happens on one of its workers, never on a request goroutine.
type Executor struct {
	store   store.TaskStore
	engine  GenerationEngine
	builder ArtifactBuilder
	cfg     Config
	logger  *slog.Logger

	jobs chan func()

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup

	mu sync.Mutex
	// active tracks per-task cancellation from dispatch until the worker
	// releases the id. Presence doubles as the duplicate-dispatch check.
	active map[int64]context.CancelFunc
	// claims maps a project key to the task currently generating into that
	// warehouse directory.
	claims map[string]int64
}

// NewExecutor creates an executor over the given store and collaborators.
func NewExecutor(cfg Config, taskStore store.TaskStore, engine GenerationEngine, builder ArtifactBuilder, logger *slog.Logger) *Executor {
	if taskStore == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("task store cannot be nil")
	}
	if engine == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("generation engine cannot be nil")
	}
	if builder == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("artifact builder cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Executor{
		store:      taskStore,
		engine:     engine,
		builder:    builder,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "executor")),
		jobs:       make(chan func(), cfg.QueueSize),
		ctx:        ctx,
		cancelFunc: cancel,
		active:     make(map[int64]context.CancelFunc),
		claims:     make(map[string]int64),
	}
}

// Start launches the worker pool.
func (e *Executor) Start() {
	e.logger.Info("starting executor",
		"worker_count", e.cfg.Workers,
		"queue_size", e.cfg.QueueSize)

	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker(i)
	}
}

// Stop cancels every running job and waits for the workers to drain.
// Queued tasks that never reached a worker stay PENDING.
func (e *Executor) Stop() {
	e.logger.Info("stopping executor")
	e.cancelFunc()
	e.wg.Wait()
	e.logger.Info("executor stopped")
}

// Dispatch queues a pending task for execution. It never blocks: a full
// queue returns ErrQueueFull, and an id that is already queued or running
// returns ErrAlreadyDispatched. The API key stays in memory until the
// worker hands it to the engine subprocess.
func (e *Executor) Dispatch(taskID int64, apiKey string) error {
	if e.ctx.Err() != nil {
		return ErrStopped
	}

	e.mu.Lock()
	if _, exists := e.active[taskID]; exists {
		e.mu.Unlock()
		return fmt.Errorf("%w: task %d", ErrAlreadyDispatched, taskID)
	}
	taskCtx, cancel := context.WithCancel(e.ctx)
	e.active[taskID] = cancel
	e.mu.Unlock()

	select {
	case e.jobs <- func() { e.runTask(taskCtx, taskID, apiKey) }:
		e.logger.Debug("task queued", "task_id", taskID, "queue_depth", len(e.jobs))
		return nil
	default:
		e.deregister(taskID)
		return fmt.Errorf("%w: task %d", ErrQueueFull, taskID)
	}
}

// Cancel fires the cancellation context of a dispatched task, killing its
// subprocess if one is running. Reports whether the executor was tracking
// the id; the stored cancel_requested flag covers the gaps it cannot see.
func (e *Executor) Cancel(taskID int64) bool {
	e.mu.Lock()
	cancel, ok := e.active[taskID]
	e.mu.Unlock()

	if ok {
		cancel()
	}
	return ok
}

// RunBuild executes one packaging pass on a worker slot so subprocess work
// stays off the request goroutine. It blocks until a slot frees and the
// build finishes, or until ctx ends.
func (e *Executor) RunBuild(ctx context.Context, projectDir string) (*act.BuildResult, error) {
	type outcome struct {
		result *act.BuildResult
		err    error
	}
	// Buffered so the worker never blocks on a caller that gave up.
	done := make(chan outcome, 1)

	job := func() {
		result, err := e.builder.Build(ctx, projectDir)
		done <- outcome{result: result, err: err}
	}

	select {
	case e.jobs <- job:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.ctx.Done():
		return nil, ErrStopped
	}

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Executor) worker(id int) {
	defer e.wg.Done()

	log := e.logger.With("worker_id", id)
	log.Debug("worker started")

	for {
		select {
		case <-e.ctx.Done():
			log.Debug("worker stopping")
			return
		case job := <-e.jobs:
			job()
		}
	}
}

// runTask drives one task from PENDING to a terminal state. It is the only
// writer for the task while it runs; the cancel endpoint limits itself to
// the cancel_requested flag and the per-task context.
func (e *Executor) runTask(ctx context.Context, taskID int64, apiKey string) {
	log := e.logger.With("task_id", taskID)

	defer e.deregister(taskID)
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("recovered from panic in task execution", "panic", rec)
			e.finalize(taskID, log, func(t *domain.Task) error {
				return t.Fail(fmt.Sprintf("internal error: %v", rec))
			})
		}
	}()

	background := context.Background()

	current, err := e.store.Get(background, taskID)
	if err != nil {
		log.Warn("task unavailable at pickup", "error", err)
		return
	}
	if current.Status != domain.TaskStatusPending {
		log.Debug("task no longer pending at pickup", "status", string(current.Status))
		return
	}

	// Store updates run on a background context so a cancelled task can
	// still record its outcome.
	if _, err := e.store.Update(background, taskID, func(t *domain.Task) error {
		return t.Start()
	}); err != nil {
		log.Debug("task not startable", "error", err)
		return
	}

	projectKey := current.Request.ProjectKey()
	if !e.claim(projectKey, taskID) {
		e.finalize(taskID, log, func(t *domain.Task) error {
			return t.Fail("project path busy: " + projectKey)
		})
		return
	}
	defer e.unclaim(projectKey, taskID)

	log.Info("task started", "project_key", projectKey, "build_apk", current.Request.BuildAPK)

	if e.cancelled(ctx, taskID) {
		e.finalize(taskID, log, func(t *domain.Task) error {
			return t.Cancel("task cancelled before the engine started")
		})
		return
	}

	resultPath, err := e.engine.Generate(ctx, current.Request, apiKey)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			e.finalize(taskID, log, func(t *domain.Task) error {
				return t.Cancel("task cancelled during generation")
			})
			return
		}
		message := redact.Error(err)
		e.finalize(taskID, log, func(t *domain.Task) error {
			return t.Fail(message)
		})
		return
	}

	if e.cancelled(ctx, taskID) {
		e.finalize(taskID, log, func(t *domain.Task) error {
			return t.Cancel("task cancelled after generation")
		})
		return
	}

	artifactPath := ""
	if current.Request.BuildAPK {
		result, err := e.builder.Build(ctx, resultPath)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				e.finalize(taskID, log, func(t *domain.Task) error {
					return t.Cancel("task cancelled during packaging")
				})
				return
			}
			message := "apk build failed: " + redact.Error(err)
			e.finalize(taskID, log, func(t *domain.Task) error {
				return t.Fail(message)
			})
			return
		}
		artifactPath = result.APKPath
	}

	e.finalize(taskID, log, func(t *domain.Task) error {
		if err := t.Complete(resultPath); err != nil {
			return err
		}
		if artifactPath != "" {
			t.SetArtifactPath(artifactPath)
		}
		return nil
	})
}

// finalize records a terminal outcome. A failed update means the record was
// deleted mid-run or already terminal; the worker exits quietly either way.
func (e *Executor) finalize(taskID int64, log *slog.Logger, mutate store.TaskMutator) {
	updated, err := e.store.Update(context.Background(), taskID, mutate)
	if err != nil {
		log.Warn("failed to record task outcome", "error", err)
		return
	}
	log.Info("task finished",
		"status", string(updated.Status),
		"result_path", updated.ResultPath,
		"artifact_path", updated.ArtifactPath)
}

// cancelled reports whether the run should stop before its next external
// call, via the per-task context or the stored cancel_requested flag.
func (e *Executor) cancelled(ctx context.Context, taskID int64) bool {
	if ctx.Err() != nil {
		return true
	}
	t, err := e.store.Get(context.Background(), taskID)
	return err == nil && t.CancelRequested
}

// claim takes the project key for taskID. It fails when another task is
// already generating into the same warehouse directory.
func (e *Executor) claim(key string, taskID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if holder, held := e.claims[key]; held && holder != taskID {
		return false
	}
	e.claims[key] = taskID
	return true
}

func (e *Executor) unclaim(key string, taskID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.claims[key] == taskID {
		delete(e.claims, key)
	}
}

// deregister drops the per-task cancel registration and releases its
// context resources.
func (e *Executor) deregister(taskID int64) {
	e.mu.Lock()
	cancel, ok := e.active[taskID]
	delete(e.active, taskID)
	e.mu.Unlock()

	if ok {
		cancel()
	}
}
