// File: internal/service/service_test.go
package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/crucible/api/schemas"
	"github.com/xkilldash9x/crucible/internal/config"
)

// fakeValidator scripts the validator surface.
type fakeValidator struct {
	results       map[schemas.ValidationLevel]*schemas.ValidationResult
	validateErr   error
	runtimeResult *schemas.RuntimeValidationResult
	runtimeErr    error
	report        *schemas.ValidationReport

	validateCalls int
	runtimeCalls  int
}

func (f *fakeValidator) Validate(context.Context, *schemas.Capsule) (map[schemas.ValidationLevel]*schemas.ValidationResult, error) {
	f.validateCalls++
	return f.results, f.validateErr
}

func (f *fakeValidator) ValidateRuntime(context.Context, *schemas.Capsule) (*schemas.RuntimeValidationResult, error) {
	f.runtimeCalls++
	return f.runtimeResult, f.runtimeErr
}

func (f *fakeValidator) BuildReport(capsuleID string, _ map[schemas.ValidationLevel]*schemas.ValidationResult) *schemas.ValidationReport {
	if f.report != nil {
		return f.report
	}
	return &schemas.ValidationReport{ID: "rep-" + capsuleID, CapsuleID: capsuleID}
}

// fakeDriver scripts the refinement loop.
type fakeDriver struct {
	capsule *schemas.Capsule
	report  *schemas.ValidationReport
	err     error

	calls      int
	gotTargets schemas.RefinementTargets
	gotMax     int
}

func (f *fakeDriver) Refine(_ context.Context, c *schemas.Capsule, targets schemas.RefinementTargets, maxIterations int) (*schemas.Capsule, *schemas.ValidationReport, error) {
	f.calls++
	f.gotTargets = targets
	f.gotMax = maxIterations
	if f.err != nil {
		return nil, nil, f.err
	}
	if f.capsule == nil {
		f.capsule = c
	}
	return f.capsule, f.report, nil
}

// recordingStore captures persistence calls.
type recordingStore struct {
	mu        sync.Mutex
	reports   []*schemas.ValidationReport
	execs     map[string]*schemas.RuntimeValidationResult
	saveErr   error
	reportErr error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{execs: make(map[string]*schemas.RuntimeValidationResult)}
}

func (r *recordingStore) SaveReport(_ context.Context, report *schemas.ValidationReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reportErr != nil {
		return r.reportErr
	}
	r.reports = append(r.reports, report)
	return nil
}

func (r *recordingStore) SaveExecution(_ context.Context, capsuleID string, result *schemas.RuntimeValidationResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.execs[capsuleID] = result
	return nil
}

func (r *recordingStore) GetReportsByCapsule(context.Context, string) ([]schemas.ValidationReport, error) {
	return nil, nil
}

func testCapsule() *schemas.Capsule {
	return &schemas.Capsule{
		ID:          "cap-1",
		SourceFiles: map[string]string{"main.py": "print('hi')"},
	}
}

func passingResults() map[schemas.ValidationLevel]*schemas.ValidationResult {
	return map[schemas.ValidationLevel]*schemas.ValidationResult{
		schemas.LevelOverall: {Level: schemas.LevelOverall, Passed: true, Score: 0.9},
	}
}

func newTestService(t *testing.T, validator CapsuleValidator, driver RefineDriver, st schemas.Store, cfg *config.Config) *Service {
	t.Helper()
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	if st == nil {
		st = newRecordingStore()
	}
	svc, err := NewService(cfg, validator, driver, st, zaptest.NewLogger(t))
	require.NoError(t, err)
	return svc
}

func observedServiceLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func TestNewServiceValidation(t *testing.T) {
	cfg := config.NewDefaultConfig()
	validator := &fakeValidator{}
	st := newRecordingStore()
	logger := zaptest.NewLogger(t)

	_, err := NewService(nil, validator, nil, st, logger)
	require.Error(t, err)

	_, err = NewService(cfg, nil, nil, st, logger)
	require.Error(t, err)

	_, err = NewService(cfg, validator, nil, nil, logger)
	require.Error(t, err)

	_, err = NewService(cfg, validator, nil, st, nil)
	require.Error(t, err)

	// A nil refiner is allowed.
	svc, err := NewService(cfg, validator, nil, st, logger)
	require.NoError(t, err)
	assert.NotNil(t, svc)
}

func TestValidateCapsulePersistsReport(t *testing.T) {
	validator := &fakeValidator{results: passingResults()}
	st := newRecordingStore()
	svc := newTestService(t, validator, nil, st, nil)

	report, err := svc.ValidateCapsule(context.Background(), testCapsule())
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, "cap-1", report.CapsuleID)

	require.Len(t, st.reports, 1)
	assert.Same(t, report, st.reports[0])
}

func TestValidateCapsulePersistFailureIsNonFatal(t *testing.T) {
	validator := &fakeValidator{results: passingResults()}
	st := newRecordingStore()
	st.reportErr = errors.New("database gone")

	logger, logs := observedServiceLogger()
	cfg := config.NewDefaultConfig()
	svc, err := NewService(cfg, validator, nil, st, logger)
	require.NoError(t, err)

	report, err := svc.ValidateCapsule(context.Background(), testCapsule())
	require.NoError(t, err, "an unsaved report must not fail validation")
	assert.NotNil(t, report)
	assert.Equal(t, 1, logs.FilterMessage("Failed to persist report.").Len())
}

func TestValidateCapsuleErrors(t *testing.T) {
	svc := newTestService(t, &fakeValidator{validateErr: errors.New("cancelled")}, nil, nil, nil)

	_, err := svc.ValidateCapsule(context.Background(), testCapsule())
	require.Error(t, err)

	_, err = svc.ValidateCapsule(context.Background(), nil)
	require.Error(t, err)
}

func TestValidateCapsuleRuntimePersistsExecution(t *testing.T) {
	result := &schemas.RuntimeValidationResult{
		Language:   schemas.LangPython,
		Success:    true,
		Confidence: 0.9,
	}
	validator := &fakeValidator{runtimeResult: result}
	st := newRecordingStore()
	svc := newTestService(t, validator, nil, st, nil)

	got, err := svc.ValidateCapsuleRuntime(context.Background(), testCapsule())
	require.NoError(t, err)
	assert.Same(t, result, got)
	assert.Same(t, result, st.execs["cap-1"])
}

func TestValidateCapsuleRuntimeWarnsOnEscalation(t *testing.T) {
	result := &schemas.RuntimeValidationResult{Success: false, Confidence: 0.1}
	validator := &fakeValidator{runtimeResult: result}

	logger, logs := observedServiceLogger()
	svc, err := NewService(config.NewDefaultConfig(), validator, nil, newRecordingStore(), logger)
	require.NoError(t, err)

	_, err = svc.ValidateCapsuleRuntime(context.Background(), testCapsule())
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("Runtime result flagged for human review.").Len())
}

func TestShouldEscalateToHuman(t *testing.T) {
	healthy := func() *schemas.RuntimeValidationResult {
		return &schemas.RuntimeValidationResult{
			Success:    true,
			Confidence: 0.95,
			Issues:     []string{"one", "two"},
			Phases: []schemas.PhaseResult{
				{Phase: schemas.PhaseRun, Executed: true, Duration: 2 * time.Second},
			},
		}
	}

	tests := []struct {
		name   string
		mutate func(*schemas.RuntimeValidationResult) *schemas.RuntimeValidationResult
		want   bool
	}{
		{"healthy result stays automated", func(r *schemas.RuntimeValidationResult) *schemas.RuntimeValidationResult {
			return r
		}, false},
		{"nil result", func(*schemas.RuntimeValidationResult) *schemas.RuntimeValidationResult {
			return nil
		}, true},
		{"failed run", func(r *schemas.RuntimeValidationResult) *schemas.RuntimeValidationResult {
			r.Success = false
			return r
		}, true},
		{"low confidence", func(r *schemas.RuntimeValidationResult) *schemas.RuntimeValidationResult {
			r.Confidence = 0.65
			return r
		}, true},
		{"too many issues", func(r *schemas.RuntimeValidationResult) *schemas.RuntimeValidationResult {
			r.Issues = []string{"a", "b", "c", "d"}
			return r
		}, true},
		{"slow phase", func(r *schemas.RuntimeValidationResult) *schemas.RuntimeValidationResult {
			r.Phases = append(r.Phases, schemas.PhaseResult{
				Phase: schemas.PhaseTest, Executed: true, Duration: 181 * time.Second,
			})
			return r
		}, true},
		{"slow phase that never executed is ignored", func(r *schemas.RuntimeValidationResult) *schemas.RuntimeValidationResult {
			r.Phases = append(r.Phases, schemas.PhaseResult{
				Phase: schemas.PhaseTest, Executed: false, Duration: time.Hour,
			})
			return r
		}, false},
	}

	svc := newTestService(t, &fakeValidator{}, nil, nil, nil)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, svc.ShouldEscalateToHuman(tc.mutate(healthy())))
		})
	}
}

func TestShouldEscalateToHumanHonorsConfiguredThresholds(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Validation.Escalation.MinConfidence = 0.5
	cfg.Validation.Escalation.MaxIssues = 10
	cfg.Validation.Escalation.MaxPhaseDuration = 10 * time.Minute

	svc := newTestService(t, &fakeValidator{}, nil, nil, cfg)

	result := &schemas.RuntimeValidationResult{
		Success:    true,
		Confidence: 0.6,
		Issues:     []string{"a", "b", "c", "d", "e"},
		Phases: []schemas.PhaseResult{
			{Phase: schemas.PhaseRun, Executed: true, Duration: 5 * time.Minute},
		},
	}
	assert.False(t, svc.ShouldEscalateToHuman(result),
		"relaxed thresholds keep the borderline result automated")

	result.Confidence = 0.4
	assert.True(t, svc.ShouldEscalateToHuman(result))
}

func TestRefineCapsule(t *testing.T) {
	t.Run("requires a configured refiner", func(t *testing.T) {
		svc := newTestService(t, &fakeValidator{}, nil, nil, nil)

		_, _, err := svc.RefineCapsule(context.Background(), testCapsule(), 0)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "refinement is not configured")
	})

	t.Run("runs the loop and persists the final report", func(t *testing.T) {
		report := &schemas.ValidationReport{ID: "rep-final", CapsuleID: "cap-1"}
		driver := &fakeDriver{report: report}
		st := newRecordingStore()

		cfg := config.NewDefaultConfig()
		cfg.Refine.TargetOverallScore = 0.9
		svc := newTestService(t, &fakeValidator{}, driver, st, cfg)

		refined, got, err := svc.RefineCapsule(context.Background(), testCapsule(), 3)
		require.NoError(t, err)
		assert.NotNil(t, refined)
		assert.Same(t, report, got)
		assert.Equal(t, 3, driver.gotMax)
		assert.InDelta(t, 0.9, driver.gotTargets.OverallScore, 1e-9)
		require.Len(t, st.reports, 1)
	})

	t.Run("propagates loop errors", func(t *testing.T) {
		driver := &fakeDriver{err: errors.New("first validation failed")}
		svc := newTestService(t, &fakeValidator{}, driver, nil, nil)

		_, _, err := svc.RefineCapsule(context.Background(), testCapsule(), 0)
		require.Error(t, err)
	})
}

func TestProcessCapsuleRoutesByRefineConfig(t *testing.T) {
	t.Run("refine enabled and available", func(t *testing.T) {
		report := &schemas.ValidationReport{ID: "rep-refined", CapsuleID: "cap-1"}
		driver := &fakeDriver{report: report}
		validator := &fakeValidator{results: passingResults()}
		st := newRecordingStore()

		cfg := config.NewDefaultConfig()
		cfg.Refine.Enabled = true
		svc := newTestService(t, validator, driver, st, cfg)

		got, err := svc.ProcessCapsule(context.Background(), testCapsule())
		require.NoError(t, err)
		assert.Same(t, report, got)
		assert.Equal(t, 1, driver.calls)
		assert.Zero(t, validator.validateCalls, "refinement owns validation when enabled")
		require.Len(t, st.reports, 1)
	})

	t.Run("refine enabled but no refiner configured", func(t *testing.T) {
		validator := &fakeValidator{results: passingResults()}
		st := newRecordingStore()

		cfg := config.NewDefaultConfig()
		cfg.Refine.Enabled = true
		svc := newTestService(t, validator, nil, st, cfg)

		report, err := svc.ProcessCapsule(context.Background(), testCapsule())
		require.NoError(t, err)
		assert.NotNil(t, report)
		assert.Equal(t, 1, validator.validateCalls, "falls back to plain validation")
	})

	t.Run("refine disabled", func(t *testing.T) {
		driver := &fakeDriver{}
		validator := &fakeValidator{results: passingResults()}
		svc := newTestService(t, validator, driver, nil, nil)

		_, err := svc.ProcessCapsule(context.Background(), testCapsule())
		require.NoError(t, err)
		assert.Zero(t, driver.calls)
		assert.Equal(t, 1, validator.validateCalls)
	})
}
