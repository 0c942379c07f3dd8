// File: internal/sandbox/runtime.go
package sandbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/crucible/api/schemas"
	"github.com/xkilldash9x/crucible/internal/config"
	"github.com/xkilldash9x/crucible/internal/sandbox/dockerapi"
	"github.com/xkilldash9x/crucible/internal/sandbox/dockercli"
)

const runtimeProbeTimeout = 3 * time.Second

// NewRuntime builds the container adapter selected by cfg.Runtime: "api"
// for the Docker Engine API, "cli" for a docker/podman binary, or "auto"
// (the default) to probe the API socket and fall back to the CLI.
func NewRuntime(ctx context.Context, cfg config.SandboxConfig, logger *zap.Logger) (schemas.ContainerRuntime, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	switch strings.ToLower(cfg.Runtime) {
	case "api":
		return dockerapi.New(cfg, logger)
	case "cli":
		return dockercli.New(cfg, logger)
	case "", "auto":
		api, apiErr := dockerapi.New(cfg, logger)
		if apiErr == nil {
			probeCtx, cancel := context.WithTimeout(ctx, runtimeProbeTimeout)
			apiErr = api.Ping(probeCtx)
			cancel()
			if apiErr == nil {
				return api, nil
			}
			_ = api.Close()
		}
		logger.Info("Docker Engine API unavailable. Trying the CLI adapter.", zap.Error(apiErr))
		cli, cliErr := dockercli.New(cfg, logger)
		if cliErr != nil {
			return nil, fmt.Errorf("no container runtime available (api: %v; cli: %v)", apiErr, cliErr)
		}
		return cli, nil
	default:
		return nil, fmt.Errorf("unknown sandbox runtime %q (expected auto, api or cli)", cfg.Runtime)
	}
}
