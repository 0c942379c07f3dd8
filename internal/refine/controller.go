// File: internal/refine/controller.go

// Package refine drives the bounded validate->refine loop. Each iteration
// scores the capsule through the multi-level validator, derives structured
// feedback from the misses and hands it to an injected Refiner; the merged
// result becomes the next iteration's input. The loop terminates on target
// convergence, iteration exhaustion, a persistent critical failure streak,
// or a feedback-free stall. Refinement never mutates the capsule it was
// given; every merge produces a new value.
package refine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/crucible/api/schemas"
	"github.com/xkilldash9x/crucible/internal/config"
	"github.com/xkilldash9x/crucible/internal/langdetect"
)

const descriptionLimit = 1000

// CapsuleValidator is the slice of the validator the controller consumes.
// *validation.Validator satisfies it; tests inject scripted fakes.
type CapsuleValidator interface {
	Validate(ctx context.Context, c *schemas.Capsule) (map[schemas.ValidationLevel]*schemas.ValidationResult, error)
	BuildReport(capsuleID string, results map[schemas.ValidationLevel]*schemas.ValidationResult) *schemas.ValidationReport
}

// Controller owns one refinement loop at a time. It is safe for concurrent
// use; each Refine call carries its own capsule lineage.
type Controller struct {
	cfg       config.RefineConfig
	validator CapsuleValidator
	refiner   schemas.Refiner
	logger    *zap.Logger
}

// NewController validates dependencies and applies config defaults.
func NewController(cfg config.RefineConfig, validator CapsuleValidator, refiner schemas.Refiner, logger *zap.Logger) (*Controller, error) {
	if validator == nil {
		return nil, fmt.Errorf("validator cannot be nil")
	}
	if refiner == nil {
		return nil, fmt.Errorf("refiner cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 5
	}
	if cfg.StagnationThreshold <= 0 {
		cfg.StagnationThreshold = 0.05
	}
	if cfg.MaxCriticalStreak <= 0 {
		cfg.MaxCriticalStreak = 2
	}
	if cfg.MaxCriticalFeedback <= 0 {
		cfg.MaxCriticalFeedback = 5
	}
	if cfg.MaxMajorFeedback <= 0 {
		cfg.MaxMajorFeedback = 3
	}
	return &Controller{
		cfg:       cfg,
		validator: validator,
		refiner:   refiner,
		logger:    logger.Named("RefinementController"),
	}, nil
}

// TargetsFromConfig converts configured thresholds into refinement targets,
// filling unset values from the standard defaults.
func TargetsFromConfig(cfg config.RefineConfig) schemas.RefinementTargets {
	targets := schemas.DefaultRefinementTargets()
	if cfg.TargetOverallScore > 0 {
		targets.OverallScore = cfg.TargetOverallScore
	}
	if cfg.TargetFunctionalScore > 0 {
		targets.FunctionalScore = cfg.TargetFunctionalScore
	}
	if cfg.TargetQualityScore > 0 {
		targets.QualityScore = cfg.TargetQualityScore
	}
	if cfg.TargetSecurityScore > 0 {
		targets.SecurityScore = cfg.TargetSecurityScore
	}
	return targets
}

// Refine iterates validate->feedback->refine until the targets are met or a
// stop condition fires, and returns the final capsule with its report
// attached. maxIterations bounds the number of refiner calls; zero means the
// configured default. A validation error on the very first pass is returned
// as-is; later validation errors count as a zero-score iteration and the
// loop continues with the previous feedback. On exhaustion the last capsule
// and report are returned, with human review flagged by the report builder
// when confidence stayed low.
func (c *Controller) Refine(ctx context.Context, capsule *schemas.Capsule, targets schemas.RefinementTargets, maxIterations int) (*schemas.Capsule, *schemas.ValidationReport, error) {
	if capsule == nil {
		return nil, nil, fmt.Errorf("capsule cannot be nil")
	}
	if maxIterations <= 0 {
		maxIterations = c.cfg.MaxIterations
	}
	if targets == (schemas.RefinementTargets{}) {
		targets = schemas.DefaultRefinementTargets()
	}

	logger := c.logger.With(zap.String("capsule_id", capsule.ID))
	language := langdetect.Detect(capsule)

	current := capsule
	strategy := schemas.StrategyStandard
	prevOverall := -1.0
	criticalStreak := 0
	iterations := 0

	var results map[schemas.ValidationLevel]*schemas.ValidationResult
	for {
		var overallScore float64
		validated, err := c.validator.Validate(ctx, current)
		switch {
		case err == nil:
			results = validated
			overallScore = scoreOf(results[schemas.LevelOverall])
			if c.targetsMet(results, targets) {
				logger.Info("Refinement targets met.",
					zap.Int("iterations", iterations),
					zap.Float64("overall_score", overallScore))
				return c.finish(current, results, iterations)
			}
			if criticalUnresolved(results, targets) {
				criticalStreak++
			} else {
				criticalStreak = 0
			}
		case ctx.Err() != nil:
			return nil, nil, ctx.Err()
		case results == nil:
			return nil, nil, fmt.Errorf("validating capsule: %w", err)
		default:
			logger.Warn("Validation failed mid-loop. Counting iteration as a zero score.", zap.Error(err))
			overallScore = 0
			criticalStreak++
		}

		if iterations >= maxIterations {
			logger.Warn("Iteration budget exhausted before targets were met.",
				zap.Int("iterations", iterations),
				zap.Float64("overall_score", overallScore))
			break
		}
		if criticalStreak >= c.cfg.MaxCriticalStreak {
			logger.Warn("Critical failures persist across iterations. Stopping early.",
				zap.Int("streak", criticalStreak))
			break
		}

		if prevOverall >= 0 && overallScore-prevOverall < c.cfg.StagnationThreshold && strategy == schemas.StrategyStandard {
			strategy = schemas.StrategyEscalated
			logger.Info("Scores are stagnating. Escalating refiner strategy.",
				zap.Float64("previous", prevOverall),
				zap.Float64("current", overallScore))
		}
		prevOverall = overallScore

		feedback := deriveFeedback(results, c.cfg.MaxCriticalFeedback, c.cfg.MaxMajorFeedback)
		if len(feedback) == 0 {
			logger.Warn("No actionable feedback could be derived. Stopping.")
			break
		}

		res, err := c.refiner.Refine(ctx, schemas.RefinementRequest{
			Description: requestDescription(current),
			Language:    language,
			EntryPoint:  entryPointOf(results),
			Strategy:    strategy,
			Feedback:    feedback,
			SourceFiles: current.SourceFiles,
			TestFiles:   current.TestFiles,
			Iteration:   iterations + 1,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("refinement iteration %d: %w", iterations+1, err)
		}
		current = current.MergeRefinement(res)
		iterations++
		logger.Info("Applied refinement.",
			zap.Int("iteration", iterations),
			zap.String("strategy", string(strategy)),
			zap.Int("feedback_entries", len(feedback)))
	}

	return c.finish(current, results, iterations)
}

func (c *Controller) finish(capsule *schemas.Capsule, results map[schemas.ValidationLevel]*schemas.ValidationResult, iterations int) (*schemas.Capsule, *schemas.ValidationReport, error) {
	report := c.validator.BuildReport(capsule.ID, results)
	report.Iterations = iterations
	out := capsule.Clone()
	out.ValidationReport = report
	return out, report, nil
}

func (c *Controller) targetsMet(results map[schemas.ValidationLevel]*schemas.ValidationResult, targets schemas.RefinementTargets) bool {
	overall := results[schemas.LevelOverall]
	if overall == nil || !overall.Passed || overall.Score < targets.OverallScore {
		return false
	}
	if scoreOf(results[schemas.LevelFunctional]) < targets.FunctionalScore {
		return false
	}
	if scoreOf(results[schemas.LevelQuality]) < targets.QualityScore {
		return false
	}
	return securityScore(results) >= targets.SecurityScore
}

// criticalUnresolved reports whether the capsule still has a functional
// failure or an unmet security bar, the two conditions the fail-fast streak
// counts.
func criticalUnresolved(results map[schemas.ValidationLevel]*schemas.ValidationResult, targets schemas.RefinementTargets) bool {
	functional := results[schemas.LevelFunctional]
	if functional == nil || !functional.Passed {
		return true
	}
	return securityScore(results) < targets.SecurityScore
}

func securityScore(results map[schemas.ValidationLevel]*schemas.ValidationResult) float64 {
	quality := results[schemas.LevelQuality]
	if quality == nil {
		return 0
	}
	score, ok := quality.Metrics["security_score"].(float64)
	if !ok {
		return 0
	}
	return score
}

func entryPointOf(results map[schemas.ValidationLevel]*schemas.ValidationResult) string {
	basic := results[schemas.LevelBasic]
	if basic == nil {
		return ""
	}
	entry, _ := basic.Metrics["entry_point"].(string)
	return entry
}

func requestDescription(c *schemas.Capsule) string {
	description := strings.TrimSpace(c.Documentation)
	if description == "" {
		if meta, ok := c.Metadata["description"].(string); ok {
			description = strings.TrimSpace(meta)
		}
	}
	if len(description) > descriptionLimit {
		description = description[:descriptionLimit]
	}
	return description
}

func scoreOf(res *schemas.ValidationResult) float64 {
	if res == nil {
		return 0
	}
	return res.Score
}
