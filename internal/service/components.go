// File: internal/service/components.go
package service

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/crucible/api/schemas"
	"github.com/xkilldash9x/crucible/internal/config"
	"github.com/xkilldash9x/crucible/internal/engine"
	"github.com/xkilldash9x/crucible/internal/observability"
	"github.com/xkilldash9x/crucible/internal/runtimeenv"
	"github.com/xkilldash9x/crucible/internal/sandbox"
	"github.com/xkilldash9x/crucible/internal/store"
	"github.com/xkilldash9x/crucible/internal/validation"
)

// Components holds all the initialized services required to validate
// capsules. The struct centralizes lifecycle management: Create builds it,
// Shutdown releases it in reverse dependency order.
type Components struct {
	Config    *config.Config
	Registry  *runtimeenv.Registry
	Runtime   schemas.ContainerRuntime // nil when no container engine was found
	Runner    *sandbox.Runner          // nil when Runtime is nil
	Store     schemas.Store
	Validator *validation.Validator
	LLM       schemas.LLMClient // nil when no API key is configured
	Service   *Service
	Engine    *engine.Engine
	DBPool    *pgxpool.Pool // nil when persistence is disabled

	// recorder is the async write queue wrapped around the database store.
	// Held separately so Shutdown can drain it.
	recorder *store.Recorder
}

// Shutdown gracefully closes all components, ensuring resources are
// released in the correct order. It is safe to call on a partially
// initialized struct.
func (c *Components) Shutdown() {
	logger := observability.GetLogger()
	logger.Debug("Beginning components shutdown sequence.")

	// 1. Stop the engine first so no new work reaches the other components.
	if c.Engine != nil {
		c.Engine.Stop()
		logger.Debug("Validation engine stopped.")
	}

	// 2. Drain pending persistence writes before the pool goes away.
	if c.recorder != nil {
		if err := c.recorder.Close(); err != nil {
			logger.Warn("Error draining persistence queue.", zap.Error(err))
		} else {
			logger.Debug("Persistence queue drained.")
		}
	}

	// 3. Release the LLM client.
	if c.LLM != nil {
		if err := c.LLM.Close(); err != nil {
			logger.Warn("Error closing LLM client.", zap.Error(err))
		} else {
			logger.Debug("LLM client closed.")
		}
	}

	// 4. Release the container runtime.
	if c.Runtime != nil {
		if err := c.Runtime.Close(); err != nil {
			logger.Warn("Error closing container runtime.", zap.Error(err))
		} else {
			logger.Debug("Container runtime closed.")
		}
	}

	// 5. Close the database connection pool last.
	if c.DBPool != nil {
		c.DBPool.Close()
		logger.Debug("Database connection pool closed.")
	}

	logger.Info("All components shut down.")
}
