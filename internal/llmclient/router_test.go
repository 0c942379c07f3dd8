// File: internal/llmclient/router_test.go
package llmclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/crucible/api/schemas"
)

func TestNewLLMRouterValidation(t *testing.T) {
	logger, _ := observedLogger(t)
	fast := &stubLLM{}
	powerful := &stubLLM{}

	_, err := NewLLMRouter(logger, nil, powerful)
	assert.ErrorContains(t, err, "must be provided")

	_, err = NewLLMRouter(logger, fast, nil)
	assert.ErrorContains(t, err, "must be provided")

	_, err = NewLLMRouter(nil, fast, powerful)
	assert.ErrorContains(t, err, "logger")

	router, err := NewLLMRouter(logger, fast, powerful)
	require.NoError(t, err)
	assert.NotNil(t, router)
}

func TestRouterRoutesByTier(t *testing.T) {
	fast := &stubLLM{reply: "fast-reply"}
	powerful := &stubLLM{reply: "powerful-reply"}
	logger, _ := observedLogger(t)
	router, err := NewLLMRouter(logger, fast, powerful)
	require.NoError(t, err)

	ctx := context.Background()

	text, err := router.Generate(ctx, schemas.GenerationRequest{Tier: schemas.TierFast})
	require.NoError(t, err)
	assert.Equal(t, "fast-reply", text)

	text, err = router.Generate(ctx, schemas.GenerationRequest{Tier: schemas.TierPowerful})
	require.NoError(t, err)
	assert.Equal(t, "powerful-reply", text)

	// An unspecified tier defaults to the powerful client.
	text, err = router.Generate(ctx, schemas.GenerationRequest{})
	require.NoError(t, err)
	assert.Equal(t, "powerful-reply", text)

	assert.Equal(t, 1, fast.calls)
	assert.Equal(t, 2, powerful.calls)

	_, err = router.Generate(ctx, schemas.GenerationRequest{Tier: "cheap"})
	assert.ErrorContains(t, err, "no LLM client configured")
}

func TestRouterCloseClosesDistinctClients(t *testing.T) {
	logger, _ := observedLogger(t)

	fast := &stubLLM{}
	powerful := &stubLLM{}
	router, err := NewLLMRouter(logger, fast, powerful)
	require.NoError(t, err)
	require.NoError(t, router.Close())
	assert.Equal(t, 1, fast.closed)
	assert.Equal(t, 1, powerful.closed)
}

func TestRouterCloseSharedClientOnce(t *testing.T) {
	logger, _ := observedLogger(t)

	shared := &stubLLM{}
	router, err := NewLLMRouter(logger, shared, shared)
	require.NoError(t, err)
	require.NoError(t, router.Close())
	assert.Equal(t, 1, shared.closed, "a client backing both tiers closes once")
}
