// File: internal/engine/engine_test.go
package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/crucible/api/schemas"
	"github.com/xkilldash9x/crucible/internal/config"
)

// fakeProcessor records the capsules it sees. An optional gate holds
// processing open so tests can observe in-flight state.
type fakeProcessor struct {
	mu        sync.Mutex
	processed []string

	started chan struct{}
	gate    chan struct{}
	err     error
}

func (f *fakeProcessor) ProcessCapsule(ctx context.Context, c *schemas.Capsule) (*schemas.ValidationReport, error) {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	f.processed = append(f.processed, c.ID)
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	return &schemas.ValidationReport{
		ID:              uuid.NewString(),
		CapsuleID:       c.ID,
		OverallStatus:   schemas.StatusPassed,
		ConfidenceScore: 0.9,
	}, nil
}

func (f *fakeProcessor) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.processed...)
}

func testCapsule(id string) *schemas.Capsule {
	return &schemas.Capsule{ID: id, SourceFiles: map[string]string{"main.py": "print('ok')"}}
}

func newTestEngine(t *testing.T, cfg config.EngineConfig, processor Processor) *Engine {
	t.Helper()
	e, err := New(cfg, processor, zaptest.NewLogger(t))
	require.NoError(t, err)
	return e
}

func TestNewValidation(t *testing.T) {
	logger := zaptest.NewLogger(t)

	_, err := New(config.EngineConfig{}, nil, logger)
	assert.ErrorContains(t, err, "processor")

	_, err = New(config.EngineConfig{}, &fakeProcessor{}, nil)
	assert.ErrorContains(t, err, "logger")

	e, err := New(config.EngineConfig{}, &fakeProcessor{}, logger)
	require.NoError(t, err)
	assert.Equal(t, defaultQueueSize, e.cfg.QueueSize)
	assert.Equal(t, defaultConcurrency, e.cfg.WorkerConcurrency)
	assert.Equal(t, defaultTaskTimeout, e.cfg.DefaultTaskTimeout)
}

func TestEngineProcessesSubmittedTasks(t *testing.T) {
	defer goleak.VerifyNone(t)

	processor := &fakeProcessor{}
	e := newTestEngine(t, config.EngineConfig{WorkerConcurrency: 2, QueueSize: 10}, processor)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)

	want := []string{"cap-1", "cap-2", "cap-3", "cap-4", "cap-5"}
	for _, id := range want {
		require.NoError(t, e.Submit(ctx, ValidationTask{Capsule: testCapsule(id)}))
	}

	require.Eventually(t, func() bool { return len(processor.seen()) == len(want) },
		2*time.Second, 10*time.Millisecond)
	e.Stop()

	assert.ElementsMatch(t, want, processor.seen())
}

func TestEngineStopDrainsQueue(t *testing.T) {
	defer goleak.VerifyNone(t)

	processor := &fakeProcessor{}
	e := newTestEngine(t, config.EngineConfig{WorkerConcurrency: 1, QueueSize: 10}, processor)

	ctx := context.Background()
	e.Start(ctx)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, e.Submit(ctx, ValidationTask{Capsule: testCapsule(id)}))
	}

	// Stop must not return until every queued task has been processed.
	e.Stop()
	assert.ElementsMatch(t, []string{"a", "b", "c"}, processor.seen())

	// A second Stop is a no-op.
	e.Stop()
}

func TestEngineSubmitValidation(t *testing.T) {
	defer goleak.VerifyNone(t)

	e := newTestEngine(t, config.EngineConfig{WorkerConcurrency: 1}, &fakeProcessor{})
	ctx := context.Background()

	err := e.Submit(ctx, ValidationTask{Capsule: nil})
	assert.ErrorContains(t, err, "capsule cannot be nil")

	err = e.Submit(ctx, ValidationTask{Capsule: testCapsule("early")})
	assert.ErrorContains(t, err, "not running")

	e.Start(ctx)
	e.Stop()

	err = e.Submit(ctx, ValidationTask{Capsule: testCapsule("late")})
	assert.ErrorContains(t, err, "not running")
}

func TestEngineSubmitBackpressure(t *testing.T) {
	defer goleak.VerifyNone(t)

	processor := &fakeProcessor{
		started: make(chan struct{}, 4),
		gate:    make(chan struct{}),
	}
	e := newTestEngine(t, config.EngineConfig{WorkerConcurrency: 1, QueueSize: 1}, processor)

	ctx := context.Background()
	e.Start(ctx)

	// The worker takes the first task and parks on the gate.
	require.NoError(t, e.Submit(ctx, ValidationTask{Capsule: testCapsule("in-flight")}))
	<-processor.started

	// The second task fills the buffer.
	require.NoError(t, e.Submit(ctx, ValidationTask{Capsule: testCapsule("queued")}))

	// The third has nowhere to go and must block until its context expires.
	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := e.Submit(shortCtx, ValidationTask{Capsule: testCapsule("rejected")})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(processor.gate)
	e.Stop()
	assert.ElementsMatch(t, []string{"in-flight", "queued"}, processor.seen())
}

func TestEngineCancelAbandonsQueuedTasks(t *testing.T) {
	defer goleak.VerifyNone(t)

	processor := &fakeProcessor{
		started: make(chan struct{}, 4),
		gate:    make(chan struct{}),
	}
	e := newTestEngine(t, config.EngineConfig{WorkerConcurrency: 1, QueueSize: 10}, processor)

	ctx, cancel := context.WithCancel(context.Background())
	e.Start(ctx)

	require.NoError(t, e.Submit(ctx, ValidationTask{Capsule: testCapsule("running")}))
	<-processor.started
	require.NoError(t, e.Submit(ctx, ValidationTask{Capsule: testCapsule("abandoned")}))

	cancel()
	e.Stop()

	// The in-flight task observed the cancellation; the queued one was
	// never picked up.
	assert.NotContains(t, processor.seen(), "abandoned")
}

func TestEngineContinuesAfterProcessorError(t *testing.T) {
	defer goleak.VerifyNone(t)

	processor := &fakeProcessor{err: errors.New("validator exploded")}
	core, logs := observer.New(zap.DebugLevel)
	e, err := New(config.EngineConfig{WorkerConcurrency: 1}, processor, zap.New(core))
	require.NoError(t, err)

	ctx := context.Background()
	e.Start(ctx)
	require.NoError(t, e.Submit(ctx, ValidationTask{Capsule: testCapsule("bad")}))
	require.NoError(t, e.Submit(ctx, ValidationTask{Capsule: testCapsule("also-bad")}))
	e.Stop()

	assert.Len(t, processor.seen(), 2, "a failing task must not kill the worker")
	assert.Equal(t, 2, logs.FilterMessage("Task failed.").Len())
}

func TestEngineTaskTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	processor := &fakeProcessor{gate: make(chan struct{})}
	core, logs := observer.New(zap.DebugLevel)
	e, err := New(config.EngineConfig{WorkerConcurrency: 1, DefaultTaskTimeout: 50 * time.Millisecond},
		processor, zap.New(core))
	require.NoError(t, err)

	ctx := context.Background()
	e.Start(ctx)
	require.NoError(t, e.Submit(ctx, ValidationTask{Capsule: testCapsule("slow")}))
	e.Stop()

	assert.Equal(t, 1, logs.FilterMessage("Task timed out.").Len())
	close(processor.gate)
}

func TestEngineStartTwice(t *testing.T) {
	defer goleak.VerifyNone(t)

	core, logs := observer.New(zap.DebugLevel)
	e, err := New(config.EngineConfig{WorkerConcurrency: 1}, &fakeProcessor{}, zap.New(core))
	require.NoError(t, err)

	ctx := context.Background()
	e.Start(ctx)
	e.Start(ctx)
	e.Stop()

	assert.Equal(t, 1, logs.FilterMessage("Start called on a running engine.").Len())
}
