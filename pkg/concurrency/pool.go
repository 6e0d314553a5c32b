// Package concurrency wraps the pond worker pool behind the small surface
// the data layer needs: bounded parallelism for cache warming and history
// loads, with recovered panics and a stats snapshot for diagnostics.
package concurrency

import (
	"fmt"
	"time"

	"github.com/alitto/pond"

	"quant_trader/internal/core"
)

// PoolConfig sizes one named pool.
type PoolConfig struct {
	Name        string
	MaxWorkers  int
	MaxCapacity int
	IdleTimeout time.Duration
	// NonBlocking makes Submit fail fast on a full queue instead of
	// blocking the producer.
	NonBlocking bool
}

// WorkerPool executes submitted tasks on a bounded set of goroutines. A
// panicking task is logged and recovered; it never takes the pool down.
type WorkerPool struct {
	pool   *pond.WorkerPool
	cfg    PoolConfig
	logger core.ILogger
}

// NewWorkerPool builds a pool. Zero config fields fall back to 10 workers,
// a queue of 100 and a one-minute idle timeout.
func NewWorkerPool(cfg PoolConfig, logger core.ILogger) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 10
	}
	if cfg.MaxCapacity <= 0 {
		cfg.MaxCapacity = 100
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = time.Minute
	}
	logger = logger.WithField("component", "worker_pool").WithField("pool", cfg.Name)

	return &WorkerPool{
		cfg:    cfg,
		logger: logger,
		pool: pond.New(cfg.MaxWorkers, cfg.MaxCapacity,
			pond.MinWorkers(1),
			pond.IdleTimeout(cfg.IdleTimeout),
			pond.Strategy(pond.Balanced()),
			pond.PanicHandler(func(p interface{}) {
				logger.Error("task panic recovered", "panic", p)
			}),
		),
	}
}

// Submit hands a task to the pool. Under NonBlocking a full queue returns
// an error; otherwise the caller blocks until a slot frees up.
func (wp *WorkerPool) Submit(task func()) error {
	if wp.cfg.NonBlocking {
		if !wp.pool.TrySubmit(task) {
			return fmt.Errorf("pool %q full at capacity %d", wp.cfg.Name, wp.cfg.MaxCapacity)
		}
		return nil
	}
	wp.pool.Submit(task)
	return nil
}

// SubmitAndWait runs the task on the pool and blocks until it finishes.
func (wp *WorkerPool) SubmitAndWait(task func()) {
	done := make(chan struct{})
	wp.pool.Submit(func() {
		defer close(done)
		task()
	})
	<-done
}

// Stop drains the queue and waits for in-flight tasks.
func (wp *WorkerPool) Stop() {
	wp.pool.StopAndWait()
}

// Stats snapshots the pool counters.
func (wp *WorkerPool) Stats() map[string]interface{} {
	return map[string]interface{}{
		"running_workers":  wp.pool.RunningWorkers(),
		"idle_workers":     wp.pool.IdleWorkers(),
		"submitted_tasks":  wp.pool.SubmittedTasks(),
		"waiting_tasks":    wp.pool.WaitingTasks(),
		"successful_tasks": wp.pool.SuccessfulTasks(),
		"failed_tasks":     wp.pool.FailedTasks(),
	}
}
