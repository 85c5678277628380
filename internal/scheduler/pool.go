package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"chaptervault/pkg/logger"
)

// ErrPoolStopped is returned by Submit after Stop
var ErrPoolStopped = errors.New("worker pool is shutting down")

// Task is one unit of work executed by the pool
type Task struct {
	JobID string
	Run   func(ctx context.Context)
}

// WorkerPool runs job executions on a fixed number of workers
type WorkerPool struct {
	numWorkers int
	taskQueue  chan Task
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	active     atomic.Int32
	stopOnce   sync.Once
	stopped    atomic.Bool
	mu         sync.RWMutex
	logger     logger.Logger
}

// NewWorkerPool creates a pool with numWorkers workers and a queue of
// queueSize pending tasks. A non-positive queueSize uses 2x workers.
func NewWorkerPool(numWorkers, queueSize int, log logger.Logger) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if queueSize <= 0 {
		queueSize = numWorkers * 2
	}
	if log == nil {
		log = logger.GetLogger()
	}

	return &WorkerPool{
		numWorkers: numWorkers,
		taskQueue:  make(chan Task, queueSize),
		logger:     log,
	}
}

// Start launches the workers. Tasks receive a context derived from ctx.
func (wp *WorkerPool) Start(ctx context.Context) {
	wp.ctx, wp.cancel = context.WithCancel(ctx)

	wp.logger.InfoWithFields("Starting worker pool", map[string]interface{}{
		"num_workers": wp.numWorkers,
		"queue_size":  cap(wp.taskQueue),
	})

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop closes the queue, waits for running and queued tasks to finish
// and then cancels the task context
func (wp *WorkerPool) Stop() {
	wp.stopOnce.Do(func() {
		wp.logger.Info("Stopping worker pool...")

		wp.mu.Lock()
		wp.stopped.Store(true)
		close(wp.taskQueue)
		wp.mu.Unlock()

		wp.wg.Wait()
		if wp.cancel != nil {
			wp.cancel()
		}

		wp.logger.Info("Worker pool stopped")
	})
}

// TrySubmit queues a task without blocking. It returns false when the
// queue is full; the caller keeps the job due and retries on a later tick.
func (wp *WorkerPool) TrySubmit(task Task) (bool, error) {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if wp.stopped.Load() {
		return false, ErrPoolStopped
	}

	select {
	case wp.taskQueue <- task:
		wp.logger.DebugWithFields("Task submitted to queue", map[string]interface{}{
			"job_id": task.JobID,
		})
		return true, nil
	default:
		return false, nil
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	wp.logger.DebugWithFields("Worker started", map[string]interface{}{
		"worker_id": id,
	})

	for task := range wp.taskQueue {
		wp.process(task, id)
	}

	wp.logger.DebugWithFields("Worker stopping - task queue closed", map[string]interface{}{
		"worker_id": id,
	})
}

func (wp *WorkerPool) process(task Task, workerID int) {
	start := time.Now()
	wp.active.Add(1)
	defer wp.active.Add(-1)

	wp.logger.DebugWithFields("Worker processing task", map[string]interface{}{
		"worker_id": workerID,
		"job_id":    task.JobID,
	})

	defer func() {
		if r := recover(); r != nil {
			wp.logger.ErrorWithFields("Task panicked", map[string]interface{}{
				"worker_id": workerID,
				"job_id":    task.JobID,
				"panic":     r,
			})
		}
	}()

	task.Run(wp.ctx)

	wp.logger.DebugWithFields("Worker completed task", map[string]interface{}{
		"worker_id": workerID,
		"job_id":    task.JobID,
		"duration":  time.Since(start),
	})
}

// QueueSize returns the number of tasks waiting for a worker
func (wp *WorkerPool) QueueSize() int {
	return len(wp.taskQueue)
}

// ActiveWorkers returns the number of workers currently running a task
func (wp *WorkerPool) ActiveWorkers() int {
	return int(wp.active.Load())
}

// Workers returns the configured worker count
func (wp *WorkerPool) Workers() int {
	return wp.numWorkers
}
