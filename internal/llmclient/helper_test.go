// File: internal/llmclient/helper_test.go
package llmclient

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/crucible/api/schemas"
	"github.com/xkilldash9x/crucible/internal/config"
)

// observedLogger returns a logger whose entries the test can inspect.
func observedLogger(t *testing.T) (*zap.Logger, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core), logs
}

func validModelConfig() config.LLMModelConfig {
	return config.LLMModelConfig{
		Provider:    config.ProviderGemini,
		Model:       "gemini-test",
		APIKey:      "test-api-key",
		APITimeout:  5 * time.Second,
		Temperature: 0.7,
		TopP:        0.9,
		TopK:        50,
		MaxTokens:   2048,
	}
}

// stubLLM is a canned schemas.LLMClient for router and factory tests.
type stubLLM struct {
	reply  string
	err    error
	calls  int
	closed int
}

func (s *stubLLM) Generate(_ context.Context, _ schemas.GenerationRequest) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func (s *stubLLM) Close() error {
	s.closed++
	return nil
}
