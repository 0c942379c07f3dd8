// File: cmd/validate.go
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/crucible/api/schemas"
	"github.com/xkilldash9x/crucible/internal/capsule"
	"github.com/xkilldash9x/crucible/internal/config"
	"github.com/xkilldash9x/crucible/internal/observability"
	"github.com/xkilldash9x/crucible/internal/reporting"
	"github.com/xkilldash9x/crucible/internal/service"
)

// validateOptions carries the flag values for one validate run.
type validateOptions struct {
	capsulePath string
	output      string
	format      string
	runtimeOnly bool
}

func newValidateCmd(opts *rootOptions) *cobra.Command {
	validateCmd := &cobra.Command{
		Use:   "validate <capsule.json>",
		Short: "Validate a capsule file and emit its report",
		Long: `Validate loads a capsule from a JSON file and runs it through the full
validation pipeline. Functional checks execute the capsule in a container
sandbox when a runtime is available; without one they report an
infrastructure failure while the remaining levels still run.

Exit codes: 0 passed, 2 failed, 3 flagged for human review.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			output, _ := cmd.Flags().GetString("output")
			format, _ := cmd.Flags().GetString("format")
			runtimeOnly, _ := cmd.Flags().GetBool("runtime")

			return runValidate(ctx, logger, opts.cfg, validateOptions{
				capsulePath: args[0],
				output:      output,
				format:      format,
				runtimeOnly: runtimeOnly,
			}, opts.factory)
		},
	}

	validateCmd.Flags().StringP("output", "o", "", "Write the report to this file instead of stdout")
	validateCmd.Flags().StringP("format", "f", "text", "Report format: text or json")
	validateCmd.Flags().Bool("runtime", false, "Run only the sandbox phases and record the execution")

	return validateCmd
}

// runValidate loads the capsule, drives the service and renders the
// report. Non-passing outcomes come back as ErrValidationFailed or
// ErrHumanReviewRequired so the caller can map them to exit codes.
func runValidate(ctx context.Context, logger *zap.Logger, cfg *config.Config, o validateOptions, factory service.ComponentFactory) error {
	caps, err := capsule.LoadFile(o.capsulePath)
	if err != nil {
		return fmt.Errorf("loading capsule: %w", err)
	}

	logger.Info("Validating capsule.",
		zap.String("capsule_id", caps.ID),
		zap.String("path", o.capsulePath))

	components, err := factory.Create(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing components: %w", err)
	}
	defer components.Shutdown()

	if o.runtimeOnly {
		return runRuntimeValidation(ctx, logger, components.Service, caps)
	}

	report, err := components.Service.ValidateCapsule(ctx, caps)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("Validation aborted by user signal.")
			return context.Canceled
		}
		return err
	}

	if err := writeReport(report, o.format, o.output); err != nil {
		return err
	}

	return reportOutcome(report)
}

// runRuntimeValidation drives only the sandbox phases. There is no
// report document here; the phase log and the persisted execution record
// carry the detail.
func runRuntimeValidation(ctx context.Context, logger *zap.Logger, svc *service.Service, caps *schemas.Capsule) error {
	result, err := svc.ValidateCapsuleRuntime(ctx, caps)
	if err != nil {
		return err
	}

	for _, phase := range result.Phases {
		if !phase.Executed {
			continue
		}
		logger.Info("Sandbox phase finished.",
			zap.String("phase", string(phase.Phase)),
			zap.Bool("success", phase.Success),
			zap.Int("exit_code", phase.ExitCode),
			zap.Duration("duration", phase.Duration))
	}
	logger.Info("Runtime validation finished.",
		zap.String("capsule_id", caps.ID),
		zap.String("language", string(result.Language)),
		zap.Bool("success", result.Success),
		zap.Float64("confidence", result.Confidence),
		zap.Strings("issues", result.Issues))

	switch {
	case !result.Success:
		return fmt.Errorf("capsule %s: %w", caps.ID, ErrValidationFailed)
	case svc.ShouldEscalateToHuman(result):
		return fmt.Errorf("capsule %s (confidence %.2f): %w", caps.ID, result.Confidence, ErrHumanReviewRequired)
	}
	return nil
}

// writeReport renders a single report with the configured reporter.
func writeReport(report *schemas.ValidationReport, format, output string) error {
	reporter, err := reporting.New(format, output, Version)
	if err != nil {
		return fmt.Errorf("creating reporter: %w", err)
	}
	if err := reporter.Write(report); err != nil {
		reporter.Close()
		return fmt.Errorf("writing report: %w", err)
	}
	if err := reporter.Close(); err != nil {
		return fmt.Errorf("finalizing report: %w", err)
	}
	return nil
}

// reportOutcome converts a finished report into the command result.
// Failure wins over the review flag when both apply.
func reportOutcome(report *schemas.ValidationReport) error {
	switch {
	case report.OverallStatus == schemas.StatusFailed:
		return fmt.Errorf("capsule %s: %w", report.CapsuleID, ErrValidationFailed)
	case report.RequiresHumanReview:
		return fmt.Errorf("capsule %s (confidence %.2f): %w", report.CapsuleID, report.ConfidenceScore, ErrHumanReviewRequired)
	default:
		return nil
	}
}
