// File: internal/llmclient/factory.go

// Package llmclient provides tier-routed access to large language models.
// The factory resolves the configured fast and powerful model aliases,
// builds a provider client for each and wraps them in a router.
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/crucible/api/schemas"
	"github.com/xkilldash9x/crucible/internal/config"
)

// NewClient builds the routed LLM client described by the configuration.
func NewClient(ctx context.Context, cfg config.LLMRouterConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	fastCfg, err := resolveModel(cfg, cfg.DefaultFastModel)
	if err != nil {
		return nil, fmt.Errorf("resolving fast tier model: %w", err)
	}
	powerfulCfg, err := resolveModel(cfg, cfg.DefaultPowerfulModel)
	if err != nil {
		return nil, fmt.Errorf("resolving powerful tier model: %w", err)
	}

	fast, err := newProviderClient(ctx, fastCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("building fast tier client: %w", err)
	}

	// Both tiers may name the same model. Share the client so Close only
	// tears it down once.
	powerful := fast
	if cfg.DefaultPowerfulModel != cfg.DefaultFastModel {
		powerful, err = newProviderClient(ctx, powerfulCfg, logger)
		if err != nil {
			_ = fast.Close()
			return nil, fmt.Errorf("building powerful tier client: %w", err)
		}
	}

	return NewLLMRouter(logger, fast, powerful)
}

// resolveModel looks an alias up in the model map. An alias without an
// explicit model name uses the alias itself.
func resolveModel(cfg config.LLMRouterConfig, alias string) (config.LLMModelConfig, error) {
	if alias == "" {
		return config.LLMModelConfig{}, fmt.Errorf("no model alias configured for the tier")
	}
	modelCfg, ok := cfg.Models[alias]
	if !ok {
		return config.LLMModelConfig{}, fmt.Errorf("model %q is not defined under llm.models", alias)
	}
	if modelCfg.Model == "" {
		modelCfg.Model = alias
	}
	return modelCfg, nil
}

func newProviderClient(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderGemini, "":
		return NewGeminiClient(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q (supported: %s)", cfg.Provider, config.ProviderGemini)
	}
}
