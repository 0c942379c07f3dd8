// File: internal/sandbox/dockerapi/dockerapi.go

// Package dockerapi runs sandbox containers against the Docker Engine API.
// It is the preferred adapter: unlike the CLI fallback it can enforce
// resource limits at create time, demultiplex the log stream and sample
// peak memory while the container runs.
package dockerapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/crucible/api/schemas"
	"github.com/xkilldash9x/crucible/internal/config"
)

const (
	memorySampleInterval = 500 * time.Millisecond
	cleanupTimeout       = 10 * time.Second
	logCollectTimeout    = 30 * time.Second
)

// Adapter implements schemas.ContainerRuntime over the Engine API socket.
type Adapter struct {
	cli    *client.Client
	pulls  *rate.Limiter
	logger *zap.Logger
}

// New builds the adapter from the environment (DOCKER_HOST et al.) with API
// version negotiation. The constructor does not dial the daemon; callers
// that need to know whether the socket is reachable use Ping.
func New(cfg config.SandboxConfig, logger *zap.Logger) (*Adapter, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &Adapter{
		cli:    cli,
		pulls:  pullLimiter(cfg.ImagePullsPerMinute),
		logger: logger.Named("DockerAPI"),
	}, nil
}

// Name identifies this adapter in logs and reports.
func (a *Adapter) Name() string { return "docker-api" }

// Ping probes the daemon. Used by the runtime selector in auto mode.
func (a *Adapter) Ping(ctx context.Context) error {
	if _, err := a.cli.Ping(ctx); err != nil {
		return fmt.Errorf("pinging docker daemon: %w", err)
	}
	return nil
}

// EnsureImage pulls the image unless a local copy already exists. Pulls go
// through the shared rate limiter so concurrent capsules cannot hammer the
// registry.
func (a *Adapter) EnsureImage(ctx context.Context, ref string) error {
	if ref == "" {
		return fmt.Errorf("image cannot be empty")
	}

	summaries, err := a.cli.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", ref)),
	})
	if err != nil {
		return fmt.Errorf("listing images: %w", err)
	}
	if len(summaries) > 0 {
		return nil
	}

	if err := a.pulls.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for pull slot: %w", err)
	}
	a.logger.Info("Pulling image.", zap.String("image", ref))

	rc, err := a.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pulling image %s: %w", ref, err)
	}
	defer rc.Close()
	// The pull only completes once the progress stream is drained.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("reading pull progress for %s: %w", ref, err)
	}
	return nil
}

// RunContainer creates, starts and waits on a container for the spec. The
// workspace directory is bind-mounted read-write at the mount path and the
// command runs through the image's shell. On timeout the container is
// killed and the execution returned with TimedOut set; the container is
// always force-removed before returning.
func (a *Adapter) RunContainer(ctx context.Context, spec schemas.ContainerSpec) (*schemas.ContainerExecution, error) {
	if err := validateSpec(spec); err != nil {
		return nil, err
	}

	created, err := a.cli.ContainerCreate(ctx,
		&container.Config{
			Image:      spec.Image,
			Cmd:        []string{"/bin/sh", "-c", spec.Command},
			WorkingDir: spec.MountPath,
			Env:        spec.Env,
		},
		&container.HostConfig{
			Binds: []string{spec.WorkspaceDir + ":" + spec.MountPath},
			Resources: container.Resources{
				Memory:   spec.MemoryLimitBytes,
				NanoCPUs: spec.NanoCPUs,
			},
		},
		nil, nil, containerName())
	if err != nil {
		return nil, fmt.Errorf("creating container: %w", err)
	}
	id := created.ID
	defer a.removeContainer(ctx, id)

	runCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	// Register the wait before starting so a fast exit cannot be missed.
	waitCh, waitErrCh := a.cli.ContainerWait(runCtx, id, container.WaitConditionNotRunning)

	start := time.Now()
	if err := a.cli.ContainerStart(runCtx, id, container.StartOptions{}); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("starting container: %w", err)
	}
	reportPeak := a.watchMemory(runCtx, id)
	defer reportPeak()

	execution := &schemas.ContainerExecution{}
	select {
	case resp := <-waitCh:
		if resp.Error != nil && resp.Error.Message != "" {
			return nil, fmt.Errorf("waiting for container: %s", resp.Error.Message)
		}
		execution.ExitCode = int(resp.StatusCode)
	case err := <-waitErrCh:
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			a.killContainer(ctx, id)
			execution.TimedOut = true
			execution.ExitCode = -1
		} else {
			return nil, fmt.Errorf("waiting for container: %w", err)
		}
	}
	execution.Duration = time.Since(start)
	execution.PeakMemoryBytes = reportPeak()

	stdout, stderr, err := a.collectLogs(ctx, id)
	if err != nil {
		a.logger.Warn("Log collection failed.", zap.String("container", id), zap.Error(err))
	}
	execution.Stdout, execution.Stderr = stdout, stderr
	return execution, nil
}

// Close releases the underlying HTTP client.
func (a *Adapter) Close() error { return a.cli.Close() }

// watchMemory samples container memory on a ticker until the returned
// function is called, which stops the sampler and reports the peak observed.
// Safe to call more than once. cgroup v1 exposes a max_usage counter
// directly; on v2 the peak is approximated from the sampled usage values.
func (a *Adapter) watchMemory(ctx context.Context, id string) func() int64 {
	statsCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	var peak atomic.Int64

	go func() {
		defer close(done)
		ticker := time.NewTicker(memorySampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-statsCtx.Done():
				return
			case <-ticker.C:
				if usage := a.sampleMemory(statsCtx, id); usage > peak.Load() {
					peak.Store(usage)
				}
			}
		}
	}()

	return func() int64 {
		cancel()
		<-done
		return peak.Load()
	}
}

func (a *Adapter) sampleMemory(ctx context.Context, id string) int64 {
	stats, err := a.cli.ContainerStatsOneShot(ctx, id)
	if err != nil {
		return 0
	}
	defer stats.Body.Close()

	var payload container.StatsResponse
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.NewDecoder(stats.Body).Decode(&payload); err != nil {
		return 0
	}
	usage := int64(payload.MemoryStats.Usage)
	if max := int64(payload.MemoryStats.MaxUsage); max > usage {
		usage = max
	}
	return usage
}

// collectLogs reads the full multiplexed log stream after exit. It runs on
// a fresh bounded context so a tripped phase deadline cannot also starve
// log retrieval.
func (a *Adapter) collectLogs(ctx context.Context, id string) (string, string, error) {
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logCollectTimeout)
	defer cancel()

	rc, err := a.cli.ContainerLogs(logCtx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", fmt.Errorf("reading container logs: %w", err)
	}
	defer rc.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, rc); err != nil {
		return stdout.String(), stderr.String(), fmt.Errorf("demultiplexing container logs: %w", err)
	}
	return stdout.String(), stderr.String(), nil
}

func (a *Adapter) killContainer(ctx context.Context, id string) {
	killCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := a.cli.ContainerKill(killCtx, id, "KILL"); err != nil {
		a.logger.Debug("Killing timed out container failed.", zap.String("container", id), zap.Error(err))
	}
}

func (a *Adapter) removeContainer(ctx context.Context, id string) {
	rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := a.cli.ContainerRemove(rmCtx, id, container.RemoveOptions{Force: true}); err != nil {
		a.logger.Debug("Container removal failed.", zap.String("container", id), zap.Error(err))
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
