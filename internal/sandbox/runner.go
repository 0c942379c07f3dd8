// File: internal/sandbox/runner.go
package sandbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/crucible/api/schemas"
	"github.com/xkilldash9x/crucible/internal/config"
	"github.com/xkilldash9x/crucible/internal/validation/testreport"
)

const workspaceMountPath = "/workspace"

// Confidence weights for the three phases. A capsule without tests earns a
// flat half-credit for the test slot instead of the full weight.
const (
	installWeight  = 0.30
	runWeight      = 0.40
	testWeight     = 0.30
	noTestsCredit  = 0.15
	stderrPenalty  = 0.10
	cleanPassBonus = 0.05
)

// Runner executes capsules in disposable containers. A weighted semaphore
// bounds how many sandboxes run at once across all callers.
type Runner struct {
	cfg         config.SandboxConfig
	runtime     schemas.ContainerRuntime
	logger      *zap.Logger
	slots       *semaphore.Weighted
	memoryLimit int64
}

// NewRunner validates dependencies and builds a sandbox runner.
func NewRunner(cfg config.SandboxConfig, runtime schemas.ContainerRuntime, logger *zap.Logger) (*Runner, error) {
	if runtime == nil {
		return nil, fmt.Errorf("container runtime cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	memoryLimit, err := cfg.MemoryLimitBytes()
	if err != nil {
		return nil, err
	}
	return &Runner{
		cfg:         cfg,
		runtime:     runtime,
		logger:      logger.Named("SandboxRunner"),
		slots:       semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		memoryLimit: memoryLimit,
	}, nil
}

// Run materializes the capsule into a workspace and executes the install,
// run and test phases in the environment's container image. Infrastructure
// failures (daemon unreachable, image pull failure, workspace errors) are
// reported inside the result with Confidence=0, never as a returned error;
// the error return is reserved for caller cancellation.
func (r *Runner) Run(ctx context.Context, c *schemas.Capsule, env schemas.RuntimeEnvironment) (*schemas.RuntimeValidationResult, error) {
	if err := r.slots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquiring sandbox slot: %w", err)
	}
	defer r.slots.Release(1)

	logger := r.logger.With(zap.String("capsule_id", c.ID), zap.String("language", string(env.Language)))
	logger.Info("Starting sandbox run.",
		zap.String("image", env.Image),
		zap.String("runtime", r.runtime.Name()))

	result := &schemas.RuntimeValidationResult{
		Language: env.Language,
		HasTests: len(c.TestFiles) > 0,
	}

	workspace, cleanup, err := materializeWorkspace(r.cfg.WorkspaceRoot, c, logger)
	if err != nil {
		logger.Error("Workspace materialization failed.", zap.Error(err))
		return r.infrastructureFailure(result, err), nil
	}
	succeeded := false
	defer func() {
		if !succeeded && r.cfg.KeepWorkspaceOnFailure {
			logger.Warn("Run failed. Keeping workspace for debugging.", zap.String("workspace", workspace))
		} else {
			cleanup()
		}
	}()

	if err := r.runtime.EnsureImage(ctx, env.Image); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Error("Image unavailable.", zap.String("image", env.Image), zap.Error(err))
		return r.infrastructureFailure(result, fmt.Errorf("ensuring image %s: %w", env.Image, err)), nil
	}

	// Install phase. Failure here makes the later phases meaningless.
	install, err := r.runPhase(ctx, schemas.PhaseInstall, env.InstallCommand, env, workspace)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return r.infrastructureFailure(result, err), nil
	}
	result.Phases = append(result.Phases, install)
	result.InstallSuccess = install.Success
	if !install.Success {
		r.recordPhaseFailure(result, install)
		result.Recommendations = append(result.Recommendations,
			"verify declared dependencies are correct and resolvable")
		result.Confidence = confidenceFor(result)
		logger.Warn("Install phase failed; skipping run and test phases.",
			zap.Int("exit_code", install.ExitCode))
		return result, nil
	}

	// Run phase.
	run, err := r.runPhase(ctx, schemas.PhaseRun, env.RunCommand, env, workspace)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return r.infrastructureFailure(result, err), nil
	}
	result.Phases = append(result.Phases, run)
	result.RunSuccess = run.Success
	if !run.Success {
		r.recordPhaseFailure(result, run)
	}

	// Test phase runs even when the run phase failed; its evidence still
	// feeds refinement.
	if env.TestCommand != "" {
		test, err := r.runPhase(ctx, schemas.PhaseTest, env.TestCommand, env, workspace)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return r.infrastructureFailure(result, err), nil
		}
		result.Phases = append(result.Phases, test)
		result.TestsSuccess = test.Success

		summary := testreport.Collect(workspace, env.Language, test.Stdout+"\n"+test.Stderr)
		result.Tests = summary
		if summary.Found && summary.Total > 0 {
			result.HasTests = true
		}
		if !test.Success {
			if summary.Found && summary.Failed > 0 {
				result.Issues = append(result.Issues,
					fmt.Sprintf("%d of %d tests failed", summary.Failed, summary.Total))
			} else {
				r.recordPhaseFailure(result, test)
			}
		}
	}

	result.Success = result.InstallSuccess && result.RunSuccess
	succeeded = result.Success

	r.addStderrAdvice(result)
	result.Confidence = confidenceFor(result)

	logger.Info("Sandbox run finished.",
		zap.Bool("success", result.Success),
		zap.Float64("confidence", result.Confidence),
		zap.Int("phases", len(result.Phases)))
	return result, nil
}

// runPhase executes one containerized command. An empty command is recorded
// as a skipped-but-successful phase. The returned error is reserved for
// infrastructure failures.
func (r *Runner) runPhase(ctx context.Context, phase schemas.SandboxPhase, command string, env schemas.RuntimeEnvironment, workspace string) (schemas.PhaseResult, error) {
	if strings.TrimSpace(command) == "" {
		return schemas.PhaseResult{Phase: phase, Executed: false, Success: true}, nil
	}

	timeout := env.PhaseTimeout
	if timeout <= 0 {
		timeout = r.cfg.PhaseTimeout
	}

	spec := schemas.ContainerSpec{
		Image:            env.Image,
		Command:          command,
		WorkspaceDir:     workspace,
		MountPath:        workspaceMountPath,
		MemoryLimitBytes: r.memoryLimit,
		NanoCPUs:         int64(r.cfg.CPULimit * 1e9),
		Timeout:          timeout,
	}

	started := time.Now()
	exec, err := r.runtime.RunContainer(ctx, spec)
	if err != nil {
		return schemas.PhaseResult{Phase: phase, Executed: true}, fmt.Errorf("%s phase: %w", phase, err)
	}

	duration := exec.Duration
	if duration <= 0 {
		duration = time.Since(started)
	}

	result := schemas.PhaseResult{
		Phase:           phase,
		Executed:        true,
		Success:         exec.ExitCode == 0 && !exec.TimedOut,
		ExitCode:        exec.ExitCode,
		Stdout:          exec.Stdout,
		Stderr:          exec.Stderr,
		Duration:        duration,
		PeakMemoryBytes: exec.PeakMemoryBytes,
		TimedOut:        exec.TimedOut,
	}

	r.logger.Debug("Phase finished.",
		zap.String("phase", string(phase)),
		zap.Int("exit_code", result.ExitCode),
		zap.Bool("timed_out", result.TimedOut),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// infrastructureFailure converts an adapter or workspace error into a failed
// result. Nothing from the sandbox boundary escapes as an exception.
func (r *Runner) infrastructureFailure(result *schemas.RuntimeValidationResult, err error) *schemas.RuntimeValidationResult {
	result.Success = false
	result.Confidence = 0
	result.Issues = append(result.Issues,
		fmt.Sprintf("sandbox infrastructure error: %v", err))
	result.Recommendations = append(result.Recommendations,
		"retry once the container runtime is reachable")
	return result
}

// recordPhaseFailure appends a descriptive issue for a failed phase.
func (r *Runner) recordPhaseFailure(result *schemas.RuntimeValidationResult, phase schemas.PhaseResult) {
	if phase.TimedOut {
		result.Issues = append(result.Issues,
			fmt.Sprintf("%s phase exceeded its %s limit and was terminated", phase.Phase, phase.Duration.Round(time.Second)))
		return
	}
	detail := tail(phase.Stderr, 400)
	if detail == "" {
		detail = tail(phase.Stdout, 400)
	}
	issue := fmt.Sprintf("%s phase failed with exit code %d", phase.Phase, phase.ExitCode)
	if detail != "" {
		issue = fmt.Sprintf("%s: %s", issue, detail)
	}
	result.Issues = append(result.Issues, issue)
}

// addStderrAdvice turns noisy-but-successful phases into recommendations.
func (r *Runner) addStderrAdvice(result *schemas.RuntimeValidationResult) {
	for _, phase := range result.Phases {
		if phase.Success && strings.TrimSpace(phase.Stderr) != "" {
			result.Recommendations = append(result.Recommendations,
				fmt.Sprintf("address stderr output produced during the %s phase", phase.Phase))
		}
	}
}

// confidenceFor derives the execution confidence score from phase outcomes:
// weighted credit per phase, a penalty for stderr noise during install or
// run, and a small bonus for a completely clean pass.
func confidenceFor(result *schemas.RuntimeValidationResult) float64 {
	score := 0.0
	if result.InstallSuccess {
		score += installWeight
	}
	if result.RunSuccess {
		score += runWeight
	}
	if result.HasTests {
		if result.TestsSuccess {
			score += testWeight
		}
	} else {
		score += noTestsCredit
	}

	noisy := false
	for _, phase := range result.Phases {
		if phase.Phase == schemas.PhaseTest {
			continue
		}
		if strings.TrimSpace(phase.Stderr) != "" {
			noisy = true
			break
		}
	}
	if noisy {
		score -= stderrPenalty
	} else if result.InstallSuccess && result.RunSuccess {
		score += cleanPassBonus
	}

	return schemas.ClampScore(score)
}

// tail returns the last n bytes of s with newlines flattened, for issue text.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		s = "..." + s[len(s)-n:]
	}
	return strings.Join(strings.Fields(s), " ")
}
