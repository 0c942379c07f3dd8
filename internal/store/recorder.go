// File: internal/store/recorder.go

package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/crucible/api/schemas"
)

const (
	recorderQueueSize = 256
	persistTimeout    = 30 * time.Second
)

type persistJob struct {
	kind      string
	capsuleID string
	run       func(ctx context.Context) error
}

// Recorder wraps a Store with an asynchronous write queue so validation
// never waits on the database. Writes run on a background consumer with
// their own timeout; failures are logged, not returned. Reads pass
// through synchronously.
type Recorder struct {
	store schemas.Store
	log   *zap.Logger

	queue chan persistJob
	wg    sync.WaitGroup

	// mu orders enqueues against the queue close in Close.
	mu      sync.RWMutex
	running bool
}

var _ schemas.Store = (*Recorder)(nil)

// NewRecorder starts the consumer goroutine immediately. Call Close to
// drain outstanding writes on shutdown.
func NewRecorder(store schemas.Store, logger *zap.Logger) (*Recorder, error) {
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	r := &Recorder{
		store:   store,
		log:     logger.Named("Recorder"),
		queue:   make(chan persistJob, recorderQueueSize),
		running: true,
	}
	r.wg.Add(1)
	go r.consume()
	return r, nil
}

func (r *Recorder) consume() {
	defer r.wg.Done()
	for job := range r.queue {
		// Background context: a write already in the queue survives caller
		// cancellation and shutdown.
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		err := job.run(ctx)
		cancel()
		if err != nil {
			r.log.Error("Persistence write failed.",
				zap.String("kind", job.kind),
				zap.String("capsule_id", job.capsuleID),
				zap.Error(err))
			continue
		}
		r.log.Debug("Persisted.",
			zap.String("kind", job.kind),
			zap.String("capsule_id", job.capsuleID))
	}
}

func (r *Recorder) enqueue(ctx context.Context, job persistJob) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.running {
		return errors.New("recorder is closed")
	}
	select {
	case r.queue <- job:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queueing %s write: %w", job.kind, ctx.Err())
	}
}

// SaveReport enqueues the report for persistence. The report is copied
// so the caller may keep mutating its own value.
func (r *Recorder) SaveReport(ctx context.Context, report *schemas.ValidationReport) error {
	if report == nil {
		return errors.New("report cannot be nil")
	}
	clone := *report
	clone.Checks = append([]schemas.ValidationCheck(nil), report.Checks...)
	return r.enqueue(ctx, persistJob{
		kind:      "report",
		capsuleID: report.CapsuleID,
		run: func(ctx context.Context) error {
			return r.store.SaveReport(ctx, &clone)
		},
	})
}

// SaveExecution enqueues the runtime result for persistence.
func (r *Recorder) SaveExecution(ctx context.Context, capsuleID string, result *schemas.RuntimeValidationResult) error {
	if result == nil {
		return errors.New("result cannot be nil")
	}
	clone := *result
	clone.Phases = append([]schemas.PhaseResult(nil), result.Phases...)
	return r.enqueue(ctx, persistJob{
		kind:      "execution",
		capsuleID: capsuleID,
		run: func(ctx context.Context) error {
			return r.store.SaveExecution(ctx, capsuleID, &clone)
		},
	})
}

// GetReportsByCapsule reads through to the underlying store. Reports
// still sitting in the write queue are not visible yet.
func (r *Recorder) GetReportsByCapsule(ctx context.Context, capsuleID string) ([]schemas.ValidationReport, error) {
	return r.store.GetReportsByCapsule(ctx, capsuleID)
}

// Close stops accepting writes and blocks until the queue drains.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	close(r.queue)
	r.mu.Unlock()

	r.wg.Wait()
	r.log.Info("Recorder drained and stopped.")
	return nil
}

// Noop satisfies schemas.Store when persistence is disabled (no
// database.url configured). Writes are dropped, reads come back empty.
type Noop struct {
	log *zap.Logger
}

var _ schemas.Store = (*Noop)(nil)

func NewNoop(logger *zap.Logger) *Noop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Noop{log: logger.Named("NoopStore")}
}

func (n *Noop) SaveReport(_ context.Context, report *schemas.ValidationReport) error {
	if report != nil {
		n.log.Debug("Persistence disabled. Dropping report.", zap.String("report_id", report.ID))
	}
	return nil
}

func (n *Noop) SaveExecution(_ context.Context, capsuleID string, _ *schemas.RuntimeValidationResult) error {
	n.log.Debug("Persistence disabled. Dropping execution.", zap.String("capsule_id", capsuleID))
	return nil
}

func (n *Noop) GetReportsByCapsule(context.Context, string) ([]schemas.ValidationReport, error) {
	return nil, nil
}
