// File: cmd/refine.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/crucible/internal/capsule"
	"github.com/xkilldash9x/crucible/internal/config"
	"github.com/xkilldash9x/crucible/internal/observability"
	"github.com/xkilldash9x/crucible/internal/service"
)

// refineOptions carries the flag values for one refine run.
type refineOptions struct {
	capsulePath   string
	output        string
	reportPath    string
	format        string
	maxIterations int
}

func newRefineCmd(opts *rootOptions) *cobra.Command {
	refineCmd := &cobra.Command{
		Use:   "refine <capsule.json>",
		Short: "Refine a capsule with LLM feedback until it meets its targets",
		Long: `Refine runs the validate-refine loop: each iteration validates the
capsule, asks the configured LLM for corrections and applies them, until
the quality targets are met, progress stagnates or the iteration cap is
hit. The refined capsule is written next to the input unless --output
says otherwise. Requires an LLM API key.

Exit codes: 0 passed, 2 failed, 3 flagged for human review.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			output, _ := cmd.Flags().GetString("output")
			reportPath, _ := cmd.Flags().GetString("report")
			format, _ := cmd.Flags().GetString("format")
			maxIterations, _ := cmd.Flags().GetInt("max-iterations")

			return runRefine(ctx, logger, opts.cfg, refineOptions{
				capsulePath:   args[0],
				output:        output,
				reportPath:    reportPath,
				format:        format,
				maxIterations: maxIterations,
			}, opts.factory)
		},
	}

	refineCmd.Flags().StringP("output", "o", "", "Write the refined capsule here (default <input>.refined.json)")
	refineCmd.Flags().IntP("max-iterations", "n", 0, "Cap refinement iterations (0 uses the configured default)")
	refineCmd.Flags().StringP("format", "f", "text", "Report format: text or json")
	refineCmd.Flags().String("report", "", "Write the final report to this file instead of stdout")

	return refineCmd
}

// runRefine loads the capsule, runs the refinement loop and writes both
// the refined capsule and its final report.
func runRefine(ctx context.Context, logger *zap.Logger, cfg *config.Config, o refineOptions, factory service.ComponentFactory) error {
	caps, err := capsule.LoadFile(o.capsulePath)
	if err != nil {
		return fmt.Errorf("loading capsule: %w", err)
	}

	logger.Info("Refining capsule.",
		zap.String("capsule_id", caps.ID),
		zap.String("path", o.capsulePath),
		zap.Int("max_iterations", o.maxIterations))

	components, err := factory.Create(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing components: %w", err)
	}
	defer components.Shutdown()

	refined, report, err := components.Service.RefineCapsule(ctx, caps, o.maxIterations)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("Refinement aborted by user signal.")
			return context.Canceled
		}
		return err
	}

	outPath := o.output
	if outPath == "" {
		outPath = refinedPath(o.capsulePath)
	}
	if err := capsule.WriteFile(outPath, refined); err != nil {
		return fmt.Errorf("writing refined capsule: %w", err)
	}
	logger.Info("Refined capsule written.",
		zap.String("path", outPath),
		zap.Int("iterations", report.Iterations),
		zap.String("status", string(report.OverallStatus)))

	if err := writeReport(report, o.format, o.reportPath); err != nil {
		return err
	}

	return reportOutcome(report)
}

// refinedPath derives the default output path for a refined capsule:
// dir/capsule.json becomes dir/capsule.refined.json.
func refinedPath(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + ".refined" + ext
}
