// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/crucible/internal/config"
	"github.com/xkilldash9x/crucible/internal/engine"
	"github.com/xkilldash9x/crucible/internal/runtimeenv"
	"github.com/xkilldash9x/crucible/internal/sandbox"
	"github.com/xkilldash9x/crucible/internal/validation"
)

// ComponentFactory defines the interface for creating the component graph.
// This abstraction is what makes the command layer testable.
type ComponentFactory interface {
	Create(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error)
}

// concreteFactory is the production implementation of the ComponentFactory.
type concreteFactory struct{}

// NewComponentFactory creates a new production-ready component factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

// Create handles the full dependency injection and initialization of the
// validation components. Optional capabilities degrade instead of failing:
// no container runtime skips functional validation, no database disables
// persistence, no LLM key disables refinement.
func (f *concreteFactory) Create(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	components := &Components{Config: cfg}

	// Ensure cleanup happens if initialization fails midway.
	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	// 1. Runtime environment registry.
	components.Registry = runtimeenv.New(cfg.Sandbox)
	logger.Debug("Runtime environment registry initialized.")

	// 2. Container runtime and sandbox runner. A missing container engine
	// is survivable; the validator reports functional checks as failed
	// infrastructure instead.
	runtime, err := sandbox.NewRuntime(ctx, cfg.Sandbox, logger)
	if err != nil {
		logger.Warn("No container runtime available. Functional validation will report infrastructure failure.", zap.Error(err))
	} else {
		components.Runtime = runtime
		runner, err := sandbox.NewRunner(cfg.Sandbox, runtime, logger)
		if err != nil {
			initializationErr = fmt.Errorf("failed to initialize sandbox runner: %w", err)
			return nil, initializationErr
		}
		components.Runner = runner
		logger.Debug("Sandbox runner initialized.", zap.String("runtime", runtime.Name()))
	}

	// 3. Persistence.
	st, pool, recorder, err := InitializeStore(ctx, cfg.Database, logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	components.Store = st
	components.DBPool = pool
	components.recorder = recorder

	// 4. Validator.
	var runner validation.RuntimeRunner
	if components.Runner != nil {
		runner = components.Runner
	}
	validator, err := validation.NewValidator(cfg.Validation, components.Registry, runner, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize validator: %w", err)
		return nil, initializationErr
	}
	components.Validator = validator
	logger.Debug("Validator initialized.")

	// 5. LLM client and refinement controller, both optional.
	components.LLM = InitializeLLMClient(ctx, cfg.LLM, logger)
	refiner, err := InitializeRefiner(cfg.Refine, validator, components.LLM, logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}

	// 6. Service.
	svc, err := NewService(cfg, validator, refiner, components.Store, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize service: %w", err)
		return nil, initializationErr
	}
	components.Service = svc

	// 7. Validation engine. Created stopped; the watch command starts it.
	eng, err := engine.New(cfg.Engine, svc, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize engine: %w", err)
		return nil, initializationErr
	}
	components.Engine = eng
	logger.Debug("Validation engine initialized.")

	logger.Info("All components initialized successfully.")
	return components, nil
}
