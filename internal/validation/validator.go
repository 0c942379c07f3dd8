// File: internal/validation/validator.go
// Package validation implements the four-level capsule validator. Levels run
// strictly in order (basic, functional, quality, production) with an early
// stop after a basic or functional failure; a synthetic overall result
// aggregates the level scores under configured weights.
package validation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/crucible/api/schemas"
	"github.com/xkilldash9x/crucible/internal/config"
	"github.com/xkilldash9x/crucible/internal/langdetect"
	"github.com/xkilldash9x/crucible/internal/runtimeenv"
)

// RuntimeRunner executes a capsule inside a sandbox. *sandbox.Runner is the
// production implementation.
type RuntimeRunner interface {
	Run(ctx context.Context, c *schemas.Capsule, env schemas.RuntimeEnvironment) (*schemas.RuntimeValidationResult, error)
}

// Validator scores capsules across the ordered validation levels.
type Validator struct {
	cfg      config.ValidationConfig
	registry *runtimeenv.Registry
	runner   RuntimeRunner
	logger   *zap.Logger
}

// NewValidator wires the validator. The runner may be nil, in which case
// functional validation fails with an infrastructure issue instead of
// executing anything.
func NewValidator(cfg config.ValidationConfig, registry *runtimeenv.Registry, runner RuntimeRunner, logger *zap.Logger) (*Validator, error) {
	if registry == nil {
		return nil, errors.New("runtime environment registry is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		cfg:      cfg,
		registry: registry,
		runner:   runner,
		logger:   logger.Named("Validator"),
	}, nil
}

// Validate runs the level state machine against the capsule. The returned
// map always contains one entry per level plus the synthetic overall entry;
// levels cut off by an early stop are present with score 0 and a skip
// marker in their metrics. The error return is reserved for caller
// cancellation; every internal failure is folded into the results.
func (v *Validator) Validate(ctx context.Context, c *schemas.Capsule) (map[schemas.ValidationLevel]*schemas.ValidationResult, error) {
	if c == nil {
		return nil, errors.New("capsule is nil")
	}

	lang := langdetect.Detect(c)
	env := v.registry.Get(lang)
	log := v.logger.With(zap.String("capsule_id", c.ID), zap.String("language", string(lang)))
	log.Info("Starting capsule validation")

	results := make(map[schemas.ValidationLevel]*schemas.ValidationResult, len(schemas.LevelOrder)+1)

	results[schemas.LevelBasic] = v.runLevel(schemas.LevelBasic, log, func() *schemas.ValidationResult {
		return v.validateBasic(ctx, c, lang, env)
	})

	switch {
	case !results[schemas.LevelBasic].Passed:
		v.skipFrom(results, schemas.LevelFunctional, "basic validation failed")

	default:
		var runErr error
		results[schemas.LevelFunctional] = v.runLevel(schemas.LevelFunctional, log, func() *schemas.ValidationResult {
			res, err := v.validateFunctional(ctx, c, lang, env)
			if err != nil {
				runErr = err
				return failedLevel(schemas.LevelFunctional, fmt.Sprintf("sandbox execution aborted: %v", err))
			}
			return res
		})
		if runErr != nil {
			return nil, runErr
		}

		if !results[schemas.LevelFunctional].Passed {
			v.skipFrom(results, schemas.LevelQuality, "functional validation failed")
		} else {
			results[schemas.LevelQuality] = v.runLevel(schemas.LevelQuality, log, func() *schemas.ValidationResult {
				return v.validateQuality(c, lang)
			})
			results[schemas.LevelProduction] = v.runLevel(schemas.LevelProduction, log, func() *schemas.ValidationResult {
				return v.validateProduction(c, lang)
			})
		}
	}

	results[schemas.LevelOverall] = v.overall(results)

	log.Info("Capsule validation finished",
		zap.Bool("passed", results[schemas.LevelOverall].Passed),
		zap.Float64("overall_score", results[schemas.LevelOverall].Score),
	)
	return results, nil
}

// ValidateRuntime detects the capsule language and executes it in the
// sandbox without the surrounding level machinery.
func (v *Validator) ValidateRuntime(ctx context.Context, c *schemas.Capsule) (*schemas.RuntimeValidationResult, error) {
	if c == nil {
		return nil, errors.New("capsule is nil")
	}
	if v.runner == nil {
		return nil, errors.New("no sandbox runner configured")
	}
	lang := langdetect.Detect(c)
	return v.runner.Run(ctx, c, v.registry.Get(lang))
}

// runLevel isolates one level evaluation: a panic inside an evaluator marks
// that level failed instead of tearing down the whole validation.
func (v *Validator) runLevel(level schemas.ValidationLevel, log *zap.Logger, eval func() *schemas.ValidationResult) (result *schemas.ValidationResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Validation level panicked", zap.String("level", string(level)), zap.Any("panic", r))
			result = failedLevel(level, fmt.Sprintf("internal error during %s validation: %v", level, r))
		}
	}()

	start := time.Now()
	result = eval()
	result.Score = schemas.ClampScore(result.Score)

	log.Debug("Validation level finished",
		zap.String("level", string(level)),
		zap.Bool("passed", result.Passed),
		zap.Float64("score", result.Score),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result
}

func failedLevel(level schemas.ValidationLevel, issue string) *schemas.ValidationResult {
	return &schemas.ValidationResult{
		Level:  level,
		Passed: false,
		Score:  0,
		Issues: []string{issue},
	}
}

// skipFrom records zero-score entries for every level at and after the
// given one, so the overall weighting and the report still see one entry
// per level.
func (v *Validator) skipFrom(results map[schemas.ValidationLevel]*schemas.ValidationResult, from schemas.ValidationLevel, reason string) {
	skipping := false
	for _, level := range schemas.LevelOrder {
		if level == from {
			skipping = true
		}
		if skipping {
			results[level] = &schemas.ValidationResult{
				Level:  level,
				Passed: false,
				Score:  0,
				Metrics: map[string]interface{}{
					"skipped":     true,
					"skip_reason": reason,
				},
			}
		}
	}
}

func levelSkipped(r *schemas.ValidationResult) bool {
	if r == nil || r.Metrics == nil {
		return false
	}
	skipped, _ := r.Metrics["skipped"].(bool)
	return skipped
}

// overall folds the four level scores into the synthetic aggregate. Passing
// requires the two hard gates (basic, functional) plus the weighted score
// threshold.
func (v *Validator) overall(results map[schemas.ValidationLevel]*schemas.ValidationResult) *schemas.ValidationResult {
	w := v.cfg.Weights
	score := schemas.ClampScore(results[schemas.LevelBasic].Score*w.Basic +
		results[schemas.LevelFunctional].Score*w.Functional +
		results[schemas.LevelQuality].Score*w.Quality +
		results[schemas.LevelProduction].Score*w.Production)

	passed := results[schemas.LevelBasic].Passed &&
		results[schemas.LevelFunctional].Passed &&
		score >= v.cfg.OverallPassThreshold

	result := &schemas.ValidationResult{
		Level:  schemas.LevelOverall,
		Passed: passed,
		Score:  score,
		Metrics: map[string]interface{}{
			"basic_score":      results[schemas.LevelBasic].Score,
			"functional_score": results[schemas.LevelFunctional].Score,
			"quality_score":    results[schemas.LevelQuality].Score,
			"production_score": results[schemas.LevelProduction].Score,
		},
	}

	if !passed {
		if !results[schemas.LevelBasic].Passed {
			result.Issues = append(result.Issues, "basic validation failed")
		}
		if !results[schemas.LevelFunctional].Passed {
			result.Issues = append(result.Issues, "functional validation failed")
		}
		if score < v.cfg.OverallPassThreshold {
			result.Issues = append(result.Issues,
				fmt.Sprintf("overall score %.2f below the %.2f threshold", score, v.cfg.OverallPassThreshold))
		}
	}
	return result
}

// BuildReport converts a level-result map into the externally persisted
// ValidationReport. Hard-gate failures map to a failed report; soft-level
// shortfalls on an otherwise runnable capsule map to a warning.
func (v *Validator) BuildReport(capsuleID string, results map[schemas.ValidationLevel]*schemas.ValidationResult) *schemas.ValidationReport {
	report := &schemas.ValidationReport{
		ID:        uuid.NewString(),
		CapsuleID: capsuleID,
		CreatedAt: time.Now().UTC(),
	}

	levels := append(append([]schemas.ValidationLevel{}, schemas.LevelOrder...), schemas.LevelOverall)
	for _, level := range levels {
		result := results[level]
		if result == nil {
			continue
		}
		status := checkStatus(result)
		report.Checks = append(report.Checks, schemas.ValidationCheck{
			Name:     fmt.Sprintf("%s_validation", level),
			Type:     level,
			Status:   status,
			Severity: checkSeverity(level, status),
			Message:  checkMessage(result),
			Details:  result.Metrics,
		})
	}

	overall := results[schemas.LevelOverall]
	if overall == nil {
		report.OverallStatus = schemas.StatusSkipped
		report.RequiresHumanReview = true
		return report
	}

	switch {
	case overall.Passed:
		report.OverallStatus = schemas.StatusPassed
	case results[schemas.LevelBasic] != nil && results[schemas.LevelBasic].Passed &&
		results[schemas.LevelFunctional] != nil && results[schemas.LevelFunctional].Passed:
		report.OverallStatus = schemas.StatusWarning
	default:
		report.OverallStatus = schemas.StatusFailed
	}

	report.ConfidenceScore = overall.Score
	report.RequiresHumanReview = report.ConfidenceScore < v.cfg.HumanReviewConfidence
	return report
}

func checkStatus(r *schemas.ValidationResult) schemas.CheckStatus {
	switch {
	case levelSkipped(r):
		return schemas.StatusSkipped
	case r.Passed:
		return schemas.StatusPassed
	default:
		return schemas.StatusFailed
	}
}

// checkSeverity grades a failed level check on the refinement feedback
// scale. Basic and functional failures are critical, quality and production
// failures major. Other checks carry no severity.
func checkSeverity(level schemas.ValidationLevel, status schemas.CheckStatus) schemas.FeedbackSeverity {
	if status != schemas.StatusFailed {
		return ""
	}
	switch level {
	case schemas.LevelBasic, schemas.LevelFunctional:
		return schemas.FeedbackCritical
	case schemas.LevelQuality, schemas.LevelProduction:
		return schemas.FeedbackMajor
	default:
		return ""
	}
}

func checkMessage(r *schemas.ValidationResult) string {
	if levelSkipped(r) {
		reason, _ := r.Metrics["skip_reason"].(string)
		if reason == "" {
			reason = "earlier level failed"
		}
		return "skipped: " + reason
	}
	if len(r.Issues) > 0 {
		return strings.Join(r.Issues, "; ")
	}
	return fmt.Sprintf("score %.2f", r.Score)
}

// sortedPaths returns the capsule file paths in a stable order so issue
// lists are deterministic across runs.
func sortedPaths(files map[string]string) []string {
	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}
