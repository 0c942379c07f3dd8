// File: internal/service/initializers.go
package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/crucible/api/schemas"
	"github.com/xkilldash9x/crucible/internal/config"
	"github.com/xkilldash9x/crucible/internal/llmclient"
	"github.com/xkilldash9x/crucible/internal/refine"
	"github.com/xkilldash9x/crucible/internal/refine/llmrefiner"
	"github.com/xkilldash9x/crucible/internal/store"
)

// InitializeStore connects to PostgreSQL and wraps the store in the async
// recorder. An empty database URL disables persistence and yields the noop
// store; the returned pool and recorder are nil in that case.
func InitializeStore(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (schemas.Store, *pgxpool.Pool, *store.Recorder, error) {
	if cfg.URL == "" {
		logger.Info("No database configured. Validation results will not be persisted.")
		return store.NewNoop(logger), nil, nil, nil
	}

	pool, err := store.Connect(ctx, cfg.URL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create database connection pool: %w", err)
	}

	dbStore, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("failed to initialize database store: %w", err)
	}
	if err := dbStore.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("failed to ensure database schema: %w", err)
	}

	recorder, err := store.NewRecorder(dbStore, logger)
	if err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("failed to start persistence recorder: %w", err)
	}

	logger.Debug("Database store initialized.")
	return recorder, pool, recorder, nil
}

// InitializeLLMClient creates the tier-routed LLM client. A missing API
// key is not fatal: refinement is simply unavailable and the client comes
// back nil.
func InitializeLLMClient(ctx context.Context, cfg config.LLMRouterConfig, logger *zap.Logger) schemas.LLMClient {
	client, err := llmclient.NewClient(ctx, cfg, logger)
	if err != nil {
		logger.Warn("LLM client unavailable. Refinement features are disabled.", zap.Error(err))
		return nil
	}
	logger.Debug("LLM client initialized.")
	return client
}

// InitializeRefiner builds the refinement controller on top of the LLM
// client. Returns nil when the client is nil.
func InitializeRefiner(cfg config.RefineConfig, validator refine.CapsuleValidator, client schemas.LLMClient, logger *zap.Logger) (RefineDriver, error) {
	if client == nil {
		return nil, nil
	}

	refiner, err := llmrefiner.New(client, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM refiner: %w", err)
	}
	controller, err := refine.NewController(cfg, validator, refiner, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create refinement controller: %w", err)
	}
	logger.Debug("Refinement controller initialized.")
	return controller, nil
}
