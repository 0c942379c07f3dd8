// File: internal/sandbox/dockerapi/dockerapi_test.go
package dockerapi

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/crucible/api/schemas"
	"github.com/xkilldash9x/crucible/internal/config"
)

// New only constructs the HTTP client; it must succeed without a daemon.
func TestNew(t *testing.T) {
	a, err := New(config.SandboxConfig{ImagePullsPerMinute: 10}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "docker-api", a.Name())
	assert.NoError(t, a.Close())
}

func TestNewNilLogger(t *testing.T) {
	_, err := New(config.SandboxConfig{}, nil)
	require.Error(t, err)
}

func TestValidateSpec(t *testing.T) {
	valid := schemas.ContainerSpec{
		Image:        "python:3.12-slim",
		Command:      "python main.py",
		WorkspaceDir: "/tmp/ws",
		MountPath:    "/workspace",
	}
	assert.NoError(t, validateSpec(valid))

	for _, tc := range []struct {
		name   string
		mutate func(*schemas.ContainerSpec)
	}{
		{"image", func(s *schemas.ContainerSpec) { s.Image = "" }},
		{"command", func(s *schemas.ContainerSpec) { s.Command = "" }},
		{"workspace", func(s *schemas.ContainerSpec) { s.WorkspaceDir = "" }},
		{"mount path", func(s *schemas.ContainerSpec) { s.MountPath = "" }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			spec := valid
			tc.mutate(&spec)
			assert.Error(t, validateSpec(spec))
		})
	}
}

func TestContainerName(t *testing.T) {
	name := containerName()
	assert.True(t, strings.HasPrefix(name, "crucible-"))
	assert.Len(t, name, len("crucible-")+8)
}

func TestPullLimiter(t *testing.T) {
	// 30 pulls per minute is one every two seconds.
	assert.InDelta(t, 0.5, float64(pullLimiter(30).Limit()), 1e-9)
	assert.Equal(t, rate.Inf, pullLimiter(0).Limit())
	assert.Equal(t, rate.Inf, pullLimiter(-1).Limit())
}
