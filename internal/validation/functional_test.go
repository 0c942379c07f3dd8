// File: internal/validation/functional_test.go
package validation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/crucible/api/schemas"
)

func runFunctional(t *testing.T, runner RuntimeRunner, c *schemas.Capsule) (*schemas.ValidationResult, error) {
	t.Helper()
	v := newTestValidator(t, runner)
	return v.validateFunctional(context.Background(), c, schemas.LangPython, v.registry.Get(schemas.LangPython))
}

func TestFunctionalPhaseMetrics(t *testing.T) {
	run := cleanRun()
	run.Phases[1].PeakMemoryBytes = 64 << 20
	run.Phases[2].TimedOut = true
	run.Phases[2].Success = false

	res, err := runFunctional(t, &stubRunner{result: run}, deployableCapsule())
	require.NoError(t, err)

	assert.True(t, res.Passed, "test phase trouble does not gate the level")
	assert.EqualValues(t, 2000, res.Metrics["install_duration_ms"])
	assert.EqualValues(t, 1000, res.Metrics["run_duration_ms"])
	assert.EqualValues(t, 64<<20, res.Metrics["run_peak_memory_bytes"])
	assert.Equal(t, true, res.Metrics["test_timed_out"])
	assert.Equal(t, 4, res.Metrics["tests_total"])
}

func TestFunctionalDemotesFindingsOnPass(t *testing.T) {
	run := cleanRun()
	run.Issues = []string{"2 of 9 tests failed"}
	run.Recommendations = []string{"stderr output during run"}

	res, err := runFunctional(t, &stubRunner{result: run}, deployableCapsule())
	require.NoError(t, err)

	assert.True(t, res.Passed)
	assert.Empty(t, res.Issues, "a passing level carries no issues")
	assert.Contains(t, res.Recommendations, "2 of 9 tests failed")
	assert.Contains(t, res.Recommendations, "stderr output during run")
}

func TestFunctionalInstallFailure(t *testing.T) {
	run := &schemas.RuntimeValidationResult{
		Language: schemas.LangPython,
		Phases: []schemas.PhaseResult{
			{Phase: schemas.PhaseInstall, Executed: true, Success: false, ExitCode: 1},
		},
	}

	res, err := runFunctional(t, &stubRunner{result: run}, deployableCapsule())
	require.NoError(t, err)

	require.False(t, res.Passed)
	assert.Contains(t, res.Issues, "dependency installation failed in the sandbox")
}

func TestFunctionalRunNeverExecuted(t *testing.T) {
	run := &schemas.RuntimeValidationResult{
		Language:       schemas.LangPython,
		InstallSuccess: true,
		Phases: []schemas.PhaseResult{
			{Phase: schemas.PhaseInstall, Executed: true, Success: true},
		},
	}

	res, err := runFunctional(t, &stubRunner{result: run}, deployableCapsule())
	require.NoError(t, err)

	require.False(t, res.Passed)
	assert.Contains(t, res.Issues, "run phase never executed")
}

func TestFunctionalNonZeroExit(t *testing.T) {
	run := &schemas.RuntimeValidationResult{
		Language:       schemas.LangPython,
		InstallSuccess: true,
		Phases: []schemas.PhaseResult{
			{Phase: schemas.PhaseInstall, Executed: true, Success: true},
			{Phase: schemas.PhaseRun, Executed: true, Success: false, ExitCode: 42, Duration: time.Second},
		},
	}

	res, err := runFunctional(t, &stubRunner{result: run}, deployableCapsule())
	require.NoError(t, err)

	require.False(t, res.Passed)
	assert.Contains(t, res.Issues, "run phase exited with code 42")
}

func TestFunctionalRunnerErrorPropagates(t *testing.T) {
	res, err := runFunctional(t, &stubRunner{err: errors.New("image pull failed")}, deployableCapsule())
	require.Error(t, err)
	assert.Nil(t, res)
}
