// File: cmd/watch.go
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/crucible/internal/config"
	"github.com/xkilldash9x/crucible/internal/intake"
	"github.com/xkilldash9x/crucible/internal/observability"
	"github.com/xkilldash9x/crucible/internal/service"
)

func newWatchCmd(opts *rootOptions) *cobra.Command {
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Tail a capsule feed and validate every submission",
		Long: `Watch tails a JSONL feed file and dispatches each capsule line to the
validation worker pool. Outcomes land in the structured log and, when a
database is configured, in the store. Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			applyWatchFlagOverrides(cmd, opts.cfg)

			return runWatch(ctx, logger, opts.cfg, opts.factory)
		},
	}

	watchCmd.Flags().String("feed", "", "Feed file to tail (overrides intake.feed_path)")
	watchCmd.Flags().Bool("from-beginning", false, "Replay the whole feed instead of tailing new lines")

	return watchCmd
}

// applyWatchFlagOverrides layers explicit watch flags over the loaded
// configuration. Only flags the user actually set are applied.
func applyWatchFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("feed") {
		feed, _ := cmd.Flags().GetString("feed")
		cfg.Intake.FeedPath = feed
	}
	if cmd.Flags().Changed("from-beginning") {
		fromBeginning, _ := cmd.Flags().GetBool("from-beginning")
		cfg.Intake.FromBeginning = fromBeginning
	}
}

// runWatch starts the worker pool and the feed watcher, then blocks
// until the context ends or the watcher dies. The deferred shutdown
// drains queued work before the process exits.
func runWatch(ctx context.Context, logger *zap.Logger, cfg *config.Config, factory service.ComponentFactory) error {
	components, err := factory.Create(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing components: %w", err)
	}
	defer components.Shutdown()

	components.Engine.Start(ctx)

	watcher, err := intake.NewWatcher(cfg.Intake, components.Engine, logger)
	if err != nil {
		return fmt.Errorf("creating feed watcher: %w", err)
	}
	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("starting feed watcher: %w", err)
	}

	logger.Info("Watching for capsule submissions. Interrupt to stop.",
		zap.String("feed", cfg.Intake.FeedPath),
		zap.Bool("from_beginning", cfg.Intake.FromBeginning))

	select {
	case <-ctx.Done():
		logger.Info("Stopping watch mode.")
		// Let the watcher wind down before the engine drains.
		<-watcher.Done()
	case <-watcher.Done():
		logger.Warn("Feed watcher stopped on its own. Shutting down.")
	}
	return nil
}
