// File: internal/service/service.go

// Package service wires the crucible components together and exposes the
// operations the CLI and the engine drive: full multi-level validation,
// raw runtime validation, and the refinement loop. The service owns
// persistence so every entry point records its outcome the same way.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/crucible/api/schemas"
	"github.com/xkilldash9x/crucible/internal/config"
	"github.com/xkilldash9x/crucible/internal/refine"
)

// Fallbacks when the escalation config is zero-valued.
const (
	defaultEscalationConfidence = 0.7
	defaultEscalationMaxIssues  = 3
	defaultEscalationMaxPhase   = 180 * time.Second
)

// CapsuleValidator is the validator surface the service drives.
// *validation.Validator satisfies it.
type CapsuleValidator interface {
	Validate(ctx context.Context, c *schemas.Capsule) (map[schemas.ValidationLevel]*schemas.ValidationResult, error)
	ValidateRuntime(ctx context.Context, c *schemas.Capsule) (*schemas.RuntimeValidationResult, error)
	BuildReport(capsuleID string, results map[schemas.ValidationLevel]*schemas.ValidationResult) *schemas.ValidationReport
}

// RefineDriver runs the bounded refinement loop. *refine.Controller
// satisfies it.
type RefineDriver interface {
	Refine(ctx context.Context, capsule *schemas.Capsule, targets schemas.RefinementTargets, maxIterations int) (*schemas.Capsule, *schemas.ValidationReport, error)
}

// Service exposes the validation operations. It is safe for concurrent use.
type Service struct {
	cfg       *config.Config
	validator CapsuleValidator
	refiner   RefineDriver // nil when no LLM is configured
	store     schemas.Store
	logger    *zap.Logger
}

// NewService wires the service. The refiner may be nil; RefineCapsule then
// reports refinement as unavailable while validation keeps working.
func NewService(cfg *config.Config, validator CapsuleValidator, refiner RefineDriver, st schemas.Store, logger *zap.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if validator == nil {
		return nil, errors.New("validator cannot be nil")
	}
	if st == nil {
		return nil, errors.New("store cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &Service{
		cfg:       cfg,
		validator: validator,
		refiner:   refiner,
		store:     st,
		logger:    logger.Named("Service"),
	}, nil
}

// ValidateCapsule runs the full multi-level validation and persists the
// resulting report. Persistence failures are logged, never surfaced: a
// validated capsule with an unsaved report is still a validated capsule.
func (s *Service) ValidateCapsule(ctx context.Context, c *schemas.Capsule) (*schemas.ValidationReport, error) {
	if c == nil {
		return nil, errors.New("capsule cannot be nil")
	}

	results, err := s.validator.Validate(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("validating capsule %s: %w", c.ID, err)
	}

	report := s.validator.BuildReport(c.ID, results)
	s.persistReport(ctx, report)
	return report, nil
}

// ValidateCapsuleRuntime executes the capsule in the sandbox without the
// level machinery and persists the per-phase execution records.
func (s *Service) ValidateCapsuleRuntime(ctx context.Context, c *schemas.Capsule) (*schemas.RuntimeValidationResult, error) {
	if c == nil {
		return nil, errors.New("capsule cannot be nil")
	}

	result, err := s.validator.ValidateRuntime(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("runtime validation for capsule %s: %w", c.ID, err)
	}

	if s.ShouldEscalateToHuman(result) {
		s.logger.Warn("Runtime result flagged for human review.",
			zap.String("capsule_id", c.ID),
			zap.Float64("confidence", result.Confidence),
			zap.Int("issues", len(result.Issues)))
	}

	if err := s.store.SaveExecution(ctx, c.ID, result); err != nil {
		s.logger.Warn("Failed to persist execution.",
			zap.String("capsule_id", c.ID), zap.Error(err))
	}
	return result, nil
}

// RefineCapsule runs the validate->refine loop and returns the refined
// capsule with its final report. maxIterations zero means the configured
// default.
func (s *Service) RefineCapsule(ctx context.Context, c *schemas.Capsule, maxIterations int) (*schemas.Capsule, *schemas.ValidationReport, error) {
	if c == nil {
		return nil, nil, errors.New("capsule cannot be nil")
	}
	if s.refiner == nil {
		return nil, nil, errors.New("refinement is not configured (an LLM API key is required)")
	}

	targets := refine.TargetsFromConfig(s.cfg.Refine)
	refined, report, err := s.refiner.Refine(ctx, c, targets, maxIterations)
	if err != nil {
		return nil, nil, fmt.Errorf("refining capsule %s: %w", c.ID, err)
	}

	s.persistReport(ctx, report)
	return refined, report, nil
}

// ShouldEscalateToHuman decides whether a runtime result needs a human
// reviewer: outright failure, low confidence, too many issues, or a phase
// that ran suspiciously long.
func (s *Service) ShouldEscalateToHuman(result *schemas.RuntimeValidationResult) bool {
	if result == nil {
		return true
	}

	esc := s.cfg.Validation.Escalation
	minConfidence := esc.MinConfidence
	if minConfidence <= 0 {
		minConfidence = defaultEscalationConfidence
	}
	maxIssues := esc.MaxIssues
	if maxIssues <= 0 {
		maxIssues = defaultEscalationMaxIssues
	}
	maxPhase := esc.MaxPhaseDuration
	if maxPhase <= 0 {
		maxPhase = defaultEscalationMaxPhase
	}

	if !result.Success {
		return true
	}
	if result.Confidence < minConfidence {
		return true
	}
	if len(result.Issues) > maxIssues {
		return true
	}
	for _, phase := range result.Phases {
		if phase.Executed && phase.Duration > maxPhase {
			return true
		}
	}
	return false
}

// ProcessCapsule handles one capsule from the engine queue: refinement
// when enabled and available, plain validation otherwise. The final
// report is persisted either way.
func (s *Service) ProcessCapsule(ctx context.Context, c *schemas.Capsule) (*schemas.ValidationReport, error) {
	if c == nil {
		return nil, errors.New("capsule cannot be nil")
	}

	if s.cfg.Refine.Enabled && s.refiner != nil {
		_, report, err := s.refiner.Refine(ctx, c, refine.TargetsFromConfig(s.cfg.Refine), 0)
		if err != nil {
			return nil, fmt.Errorf("refining capsule %s: %w", c.ID, err)
		}
		s.persistReport(ctx, report)
		return report, nil
	}

	return s.ValidateCapsule(ctx, c)
}

func (s *Service) persistReport(ctx context.Context, report *schemas.ValidationReport) {
	if report == nil {
		return
	}
	if err := s.store.SaveReport(ctx, report); err != nil {
		s.logger.Warn("Failed to persist report.",
			zap.String("report_id", report.ID),
			zap.String("capsule_id", report.CapsuleID),
			zap.Error(err))
	}
}
