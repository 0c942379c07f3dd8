// File: internal/validation/functional.go
package validation

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/crucible/api/schemas"
)

// validateFunctional executes the capsule in the sandbox. Passing requires
// the run phase to have executed and exited cleanly; test failures lower
// the score through the sandbox confidence but do not gate the level. The
// error return carries caller cancellation only.
func (v *Validator) validateFunctional(ctx context.Context, c *schemas.Capsule, lang schemas.SupportedLanguage, env schemas.RuntimeEnvironment) (*schemas.ValidationResult, error) {
	result := &schemas.ValidationResult{
		Level:   schemas.LevelFunctional,
		Metrics: map[string]interface{}{},
	}

	if v.runner == nil {
		result.Issues = append(result.Issues, "no sandbox runner configured")
		return result, nil
	}

	run, err := v.runner.Run(ctx, c, env)
	if err != nil {
		return nil, err
	}

	runPhase := run.Phase(schemas.PhaseRun)
	result.Passed = runPhase != nil && runPhase.Executed && runPhase.Success
	result.Score = run.Confidence

	testPassRate := 0.0
	if run.HasTests {
		testPassRate = run.Tests.PassRate()
	}

	result.Metrics["confidence"] = run.Confidence
	result.Metrics["install_success"] = run.InstallSuccess
	result.Metrics["run_success"] = run.RunSuccess
	result.Metrics["tests_success"] = run.TestsSuccess
	result.Metrics["has_tests"] = run.HasTests
	result.Metrics["all_tests_pass"] = run.HasTests && run.TestsSuccess
	result.Metrics["test_pass_rate"] = testPassRate
	if run.HasTests {
		result.Metrics["tests_total"] = run.Tests.Total
		result.Metrics["tests_passed"] = run.Tests.Passed
		result.Metrics["tests_failed"] = run.Tests.Failed
		result.Metrics["tests_skipped"] = run.Tests.Skipped
	}
	for _, phase := range run.Phases {
		if !phase.Executed {
			continue
		}
		result.Metrics[string(phase.Phase)+"_duration_ms"] = phase.Duration.Milliseconds()
		result.Metrics[string(phase.Phase)+"_peak_memory_bytes"] = phase.PeakMemoryBytes
		if phase.TimedOut {
			result.Metrics[string(phase.Phase)+"_timed_out"] = true
		}
	}

	if result.Passed {
		// Residual sandbox findings (failing tests, stderr noise) are
		// advisory once the run phase itself is clean.
		result.Recommendations = append(result.Recommendations, run.Issues...)
		result.Recommendations = append(result.Recommendations, run.Recommendations...)
		return result, nil
	}

	result.Issues = append(result.Issues, run.Issues...)
	result.Recommendations = append(result.Recommendations, run.Recommendations...)
	if len(result.Issues) == 0 {
		switch {
		case !run.InstallSuccess:
			result.Issues = append(result.Issues, "dependency installation failed in the sandbox")
		case runPhase == nil || !runPhase.Executed:
			result.Issues = append(result.Issues, "run phase never executed")
		default:
			result.Issues = append(result.Issues,
				fmt.Sprintf("run phase exited with code %d", runPhase.ExitCode))
		}
	}
	return result, nil
}
