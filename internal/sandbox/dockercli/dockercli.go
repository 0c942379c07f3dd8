// File: internal/sandbox/dockercli/dockercli.go

// Package dockercli runs sandbox containers by shelling out to a docker or
// podman binary. It is the fallback adapter for hosts where the Engine API
// socket is not reachable but a compatible CLI is on PATH. Both binaries
// accept the same run/pull/rm surface this adapter uses.
package dockercli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/crucible/api/schemas"
	"github.com/xkilldash9x/crucible/internal/config"
)

const (
	defaultBinary  = "docker"
	cleanupTimeout = 10 * time.Second
)

// Adapter implements schemas.ContainerRuntime on top of a container CLI.
// A non-zero exit from the containerized command is a normal execution;
// the error return is reserved for a missing binary, pull failures and
// caller cancellation.
type Adapter struct {
	binary string
	name   string
	pulls  *rate.Limiter
	logger *zap.Logger
}

// New resolves the configured binary (docker by default) and builds the
// adapter. The pull limiter is shared across all EnsureImage calls so a
// burst of capsules cannot hammer the registry.
func New(cfg config.SandboxConfig, logger *zap.Logger) (*Adapter, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	binary := cfg.CLIBinary
	if binary == "" {
		binary = defaultBinary
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("locating container binary %q: %w", binary, err)
	}
	return &Adapter{
		binary: path,
		name:   strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + "-cli",
		pulls:  pullLimiter(cfg.ImagePullsPerMinute),
		logger: logger.Named("DockerCLI"),
	}, nil
}

// Name reports the adapter identity, e.g. "docker-cli" or "podman-cli".
func (a *Adapter) Name() string { return a.name }

// EnsureImage checks for a local copy via `image inspect` and pulls the
// image when it is missing.
func (a *Adapter) EnsureImage(ctx context.Context, image string) error {
	if image == "" {
		return fmt.Errorf("image cannot be empty")
	}

	inspect := exec.CommandContext(ctx, a.binary, "image", "inspect", image)
	inspect.Stdout = io.Discard
	inspect.Stderr = io.Discard
	if err := inspect.Run(); err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if err := a.pulls.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for pull slot: %w", err)
	}
	a.logger.Info("Pulling image.", zap.String("image", image))

	var stderr bytes.Buffer
	pull := exec.CommandContext(ctx, a.binary, "pull", "--quiet", image)
	pull.Stdout = io.Discard
	pull.Stderr = &stderr
	if err := pull.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("pulling image %s: %s", image, msg)
		}
		return fmt.Errorf("pulling image %s: %w", image, err)
	}
	return nil
}

// RunContainer executes the spec through `<binary> run` and blocks until
// the container exits or the spec timeout fires. On timeout the CLI process
// is killed and the named container is force-removed so nothing keeps
// holding the workspace bind mount.
func (a *Adapter) RunContainer(ctx context.Context, spec schemas.ContainerSpec) (*schemas.ContainerExecution, error) {
	if err := validateSpec(spec); err != nil {
		return nil, err
	}

	runCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	name := containerName()
	args := runArgs(name, spec)
	a.logger.Debug("Starting container.",
		zap.String("container", name),
		zap.String("image", spec.Image))

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, a.binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// After a kill, don't wait forever on descendants holding the pipes.
	cmd.WaitDelay = 2 * time.Second

	start := time.Now()
	runErr := cmd.Run()

	execution := &schemas.ContainerExecution{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if ctx.Err() != nil {
		a.removeContainer(ctx, name)
		return nil, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		a.removeContainer(ctx, name)
		execution.TimedOut = true
		execution.ExitCode = -1
		return execution, nil
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("running container through %s: %w", a.binary, runErr)
		}
		execution.ExitCode = exitErr.ExitCode()
	}
	return execution, nil
}

// Close is a no-op; the CLI adapter holds no persistent resources.
func (a *Adapter) Close() error { return nil }

// runArgs builds the `run` argument list. The workspace is bind-mounted
// read-write at the spec's mount path, which is also the working directory,
// and the command runs through the image's shell.
func runArgs(name string, spec schemas.ContainerSpec) []string {
	args := []string{"run", "--rm", "--name", name}
	args = append(args, "-v", spec.WorkspaceDir+":"+spec.MountPath)
	args = append(args, "-w", spec.MountPath)
	for _, env := range spec.Env {
		args = append(args, "-e", env)
	}
	if spec.MemoryLimitBytes > 0 {
		args = append(args, "--memory", strconv.FormatInt(spec.MemoryLimitBytes, 10))
	}
	if spec.NanoCPUs > 0 {
		args = append(args, "--cpus", cpusValue(spec.NanoCPUs))
	}
	args = append(args, spec.Image, "/bin/sh", "-c", spec.Command)
	return args
}

// cpusValue renders nano-CPUs as the fractional value --cpus expects,
// trimming trailing zeros (1500000000 -> "1.5").
func cpusValue(nanoCPUs int64) string {
	return strconv.FormatFloat(float64(nanoCPUs)/1e9, 'f', -1, 64)
}

// removeContainer force-removes a (possibly already gone) container after a
// kill, on a fresh context so cleanup survives the caller's deadline.
func (a *Adapter) removeContainer(ctx context.Context, name string) {
	rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	rm := exec.CommandContext(rmCtx, a.binary, "rm", "-f", name)
	rm.Stdout = io.Discard
	rm.Stderr = io.Discard
	if err := rm.Run(); err != nil {
		a.logger.Debug("Container removal failed.", zap.String("container", name), zap.Error(err))
	}
}

func validateSpec(spec schemas.ContainerSpec) error {
	switch {
	case spec.Image == "":
		return fmt.Errorf("container spec missing image")
	case spec.Command == "":
		return fmt.Errorf("container spec missing command")
	case spec.WorkspaceDir == "":
		return fmt.Errorf("container spec missing workspace directory")
	case spec.MountPath == "":
		return fmt.Errorf("container spec missing mount path")
	}
	return nil
}

func containerName() string {
	return "crucible-" + uuid.NewString()[:8]
}

func pullLimiter(perMinute float64) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(perMinute/60.0), 1)
}
