package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"portfolio-analytics/pkg/logger"
)

// ErrRunnerStopped is returned by Submit once the runner no longer accepts work
var ErrRunnerStopped = errors.New("task runner stopped")

// Task is a best-effort side update that runs off the request path
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// taskRunner executes background tasks on a single worker.
// Task errors go to an error channel that is only logged.
type taskRunner struct {
	logger    *logger.Logger
	timeout   time.Duration
	tasks     chan Task
	errs      chan error
	stop      chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	isRunning bool
}

// NewTaskRunner creates a runner with a bounded queue; each task gets timeout to finish
func NewTaskRunner(log *logger.Logger, queueSize int, timeout time.Duration) TaskRunner {
	if queueSize <= 0 {
		queueSize = 16
	}
	return &taskRunner{
		logger:  log,
		timeout: timeout,
		tasks:   make(chan Task, queueSize),
		errs:    make(chan error, queueSize),
		stop:    make(chan struct{}),
	}
}

// Start launches the worker and the error drain
func (r *taskRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isRunning {
		return nil
	}

	r.wg.Add(2)
	go r.work(context.WithoutCancel(ctx))
	go r.drainErrors()

	r.isRunning = true
	r.logger.Info("Background task runner started")
	return nil
}

// Stop stops accepting tasks and waits for queued ones until ctx expires
func (r *taskRunner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return nil
	}
	r.isRunning = false
	close(r.stop)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("Background task runner stopped")
		return nil
	case <-ctx.Done():
		r.logger.Warn("Background task runner stop timed out")
		return ctx.Err()
	}
}

// Submit queues a task without blocking; a full queue drops it
func (r *taskRunner) Submit(task Task) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.isRunning {
		return ErrRunnerStopped
	}

	select {
	case r.tasks <- task:
		return nil
	default:
		r.logger.WithField("task", task.Name).Warn("Background task queue full, dropping task")
		return nil
	}
}

func (r *taskRunner) work(ctx context.Context) {
	defer r.wg.Done()
	defer close(r.errs)

	for {
		select {
		case task := <-r.tasks:
			r.run(ctx, task)
		case <-r.stop:
			// Finish what was queued before Stop.
			for {
				select {
				case task := <-r.tasks:
					r.run(ctx, task)
				default:
					return
				}
			}
		}
	}
}

func (r *taskRunner) run(ctx context.Context, task Task) {
	taskCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := task.Run(taskCtx); err != nil {
		r.errs <- &taskError{name: task.Name, err: err}
	}
}

func (r *taskRunner) drainErrors() {
	defer r.wg.Done()
	for err := range r.errs {
		var te *taskError
		if errors.As(err, &te) {
			r.logger.WithField("task", te.name).WithError(te.err).Warn("Background task failed")
			continue
		}
		r.logger.WithError(err).Warn("Background task failed")
	}
}

type taskError struct {
	name string
	err  error
}

func (e *taskError) Error() string {
	return e.name + ": " + e.err.Error()
}

func (e *taskError) Unwrap() error {
	return e.err
}
