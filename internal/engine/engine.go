// File: internal/engine/engine.go

// Package engine distributes capsule validation across a bounded pool of
// workers. Tasks queue on a buffered channel and Submit applies
// backpressure once the buffer fills. Sandbox concurrency is bounded
// separately by the runner's slot semaphore, so the pool size governs how
// many capsules are in flight, not how many containers run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/crucible/api/schemas"
	"github.com/xkilldash9x/crucible/internal/config"
)

const (
	defaultQueueSize   = 100
	defaultConcurrency = 4
	defaultTaskTimeout = 30 * time.Minute
)

// ValidationTask is one unit of work for the pool.
type ValidationTask struct {
	ID        string
	Capsule   *schemas.Capsule
	Submitted time.Time
}

// Processor handles one capsule end to end: validation, optional
// refinement and persistence.
type Processor interface {
	ProcessCapsule(ctx context.Context, c *schemas.Capsule) (*schemas.ValidationReport, error)
}

// Engine owns the task queue and the worker pool consuming it.
type Engine struct {
	cfg       config.EngineConfig
	logger    *zap.Logger
	processor Processor

	tasks chan ValidationTask
	wg    sync.WaitGroup

	// mu guards running and orders Submit against the queue close in Stop.
	mu      sync.RWMutex
	running bool
}

// New validates dependencies and builds an idle engine. Start launches
// the workers.
func New(cfg config.EngineConfig, processor Processor, logger *zap.Logger) (*Engine, error) {
	if processor == nil {
		return nil, errors.New("processor cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = defaultConcurrency
	}
	if cfg.DefaultTaskTimeout <= 0 {
		cfg.DefaultTaskTimeout = defaultTaskTimeout
	}

	return &Engine{
		cfg:       cfg,
		logger:    logger.Named("Engine"),
		processor: processor,
		tasks:     make(chan ValidationTask, cfg.QueueSize),
	}, nil
}

// Start launches the worker pool. Calling Start on a running engine is a
// no-op.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		e.logger.Warn("Start called on a running engine.")
		return
	}
	e.running = true
	e.mu.Unlock()

	e.logger.Info("Starting validation worker pool.",
		zap.Int("concurrency", e.cfg.WorkerConcurrency),
		zap.Int("queue_size", e.cfg.QueueSize))

	for i := 0; i < e.cfg.WorkerConcurrency; i++ {
		e.wg.Add(1)
		go e.runWorker(ctx, i+1)
	}
}

// Submit queues a capsule for validation. When the queue is full it
// blocks until space frees up or the context ends.
func (e *Engine) Submit(ctx context.Context, task ValidationTask) error {
	if task.Capsule == nil {
		return errors.New("task capsule cannot be nil")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.running {
		return errors.New("engine is not running")
	}

	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Submitted.IsZero() {
		task.Submitted = time.Now()
	}

	select {
	case e.tasks <- task:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queueing task %s: %w", task.ID, ctx.Err())
	}
}

// QueueDepth reports how many tasks are waiting for a worker.
func (e *Engine) QueueDepth() int {
	return len(e.tasks)
}

// Stop closes the queue and waits for the workers to drain it. Safe to
// call more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.tasks)
	e.mu.Unlock()

	e.logger.Info("Stopping engine. Waiting for workers to drain the queue.")
	e.wg.Wait()
	e.logger.Info("Engine stopped.")
}

// runWorker consumes tasks until the queue is closed and drained, or the
// context is cancelled. Cancellation abandons queued tasks immediately.
func (e *Engine) runWorker(ctx context.Context, id int) {
	defer e.wg.Done()
	logger := e.logger.With(zap.Int("worker_id", id))
	logger.Debug("Worker started.")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Context cancelled. Worker shutting down.")
			return
		case task, ok := <-e.tasks:
			if !ok {
				logger.Debug("Queue closed and drained. Worker shutting down.")
				return
			}
			e.process(ctx, task, logger)
		}
	}
}

func (e *Engine) process(ctx context.Context, task ValidationTask, logger *zap.Logger) {
	log := logger.With(zap.String("task_id", task.ID), zap.String("capsule_id", task.Capsule.ID))

	if ctx.Err() != nil {
		log.Warn("Context cancelled before processing started.", zap.Error(ctx.Err()))
		return
	}

	queueWait := time.Since(task.Submitted)
	taskCtx, cancel := context.WithTimeout(ctx, e.cfg.DefaultTaskTimeout)
	defer cancel()

	start := time.Now()
	report, err := e.processor.ProcessCapsule(taskCtx, task.Capsule)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			log.Warn("Task timed out.", zap.Duration("timeout", e.cfg.DefaultTaskTimeout), zap.Error(err))
		case errors.Is(err, context.Canceled):
			log.Warn("Task cancelled mid-flight.", zap.Error(err))
		default:
			log.Error("Task failed.", zap.Error(err))
		}
		return
	}
	if report == nil {
		log.Warn("Processor returned no report.")
		return
	}

	log.Info("Task complete.",
		zap.String("status", string(report.OverallStatus)),
		zap.Float64("confidence", report.ConfidenceScore),
		zap.Bool("human_review", report.RequiresHumanReview),
		zap.Duration("queue_wait", queueWait),
		zap.Duration("duration", time.Since(start)))
}
