// File: internal/service/factory_test.go
package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/crucible/internal/config"
	"github.com/xkilldash9x/crucible/internal/store"
)

// offlineConfig disables every external dependency so Create exercises the
// degraded paths deterministically: no container engine, no database, no
// LLM credentials.
func offlineConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Database.URL = ""
	cfg.Sandbox.Runtime = "cli"
	cfg.Sandbox.CLIBinary = "/nonexistent/crucible-test-container-cli"
	cfg.LLM.Models = map[string]config.LLMModelConfig{}
	return cfg
}

func TestFactoryCreateOffline(t *testing.T) {
	defer goleak.VerifyNone(t)

	factory := NewComponentFactory()
	components, err := factory.Create(context.Background(), offlineConfig(), zaptest.NewLogger(t))
	require.NoError(t, err, "missing optional dependencies must degrade, not fail")
	defer components.Shutdown()

	assert.NotNil(t, components.Registry)
	assert.NotNil(t, components.Validator)
	assert.NotNil(t, components.Service)
	assert.NotNil(t, components.Engine)

	assert.Nil(t, components.Runtime, "no container engine should be found")
	assert.Nil(t, components.Runner)
	assert.Nil(t, components.LLM, "no API key means no LLM client")
	assert.Nil(t, components.DBPool)
	assert.IsType(t, &store.Noop{}, components.Store)
}

func TestFactoryCreateValidatesArguments(t *testing.T) {
	factory := NewComponentFactory()

	_, err := factory.Create(context.Background(), nil, zaptest.NewLogger(t))
	require.Error(t, err)

	_, err = factory.Create(context.Background(), offlineConfig(), nil)
	require.Error(t, err)
}

func TestOfflineServiceValidatesWithoutSandbox(t *testing.T) {
	defer goleak.VerifyNone(t)

	factory := NewComponentFactory()
	components, err := factory.Create(context.Background(), offlineConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer components.Shutdown()

	// Functional validation reports infrastructure failure, the other
	// levels still run, and the report lands with failed overall status.
	report, err := components.Service.ValidateCapsule(context.Background(), testCapsule())
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.NotEmpty(t, report.Checks)

	// Refinement is unavailable without an LLM client.
	_, _, err = components.Service.RefineCapsule(context.Background(), testCapsule(), 0)
	require.Error(t, err)
}

func TestComponentsShutdownOnEmptyStruct(t *testing.T) {
	assert.NotPanics(t, func() {
		(&Components{}).Shutdown()
	})
}
