// File: internal/intake/watcher.go

// Package intake feeds the validation engine from a JSONL capsule feed.
// The watcher tails the feed file, decodes one capsule per line, and
// submits each to the engine. Malformed lines are logged and skipped so
// one bad producer cannot stall the feed.
package intake

import (
	"context"
	"fmt"
	"strings"

	"github.com/hpcloud/tail"
	"go.uber.org/zap"

	"github.com/xkilldash9x/crucible/internal/capsule"
	"github.com/xkilldash9x/crucible/internal/config"
	"github.com/xkilldash9x/crucible/internal/engine"
)

// Sink receives capsules decoded from the feed. The engine satisfies it.
type Sink interface {
	Submit(ctx context.Context, task engine.ValidationTask) error
}

// Watcher tails a capsule feed file and submits decoded capsules.
type Watcher struct {
	cfg    config.IntakeConfig
	sink   Sink
	logger *zap.Logger
	done   chan struct{}
}

// NewWatcher validates the configuration and builds a watcher. Start must
// be called exactly once.
func NewWatcher(cfg config.IntakeConfig, sink Sink, logger *zap.Logger) (*Watcher, error) {
	if cfg.FeedPath == "" {
		return nil, fmt.Errorf("intake.feed_path must be configured")
	}
	if sink == nil {
		return nil, fmt.Errorf("sink cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &Watcher{
		cfg:    cfg,
		sink:   sink,
		logger: logger.Named("Intake"),
		done:   make(chan struct{}),
	}, nil
}

// Start begins tailing the feed. The file does not have to exist yet; the
// tailer waits for it and survives rotation. By default only lines written
// after startup are consumed; intake.from_beginning replays the whole file.
func (w *Watcher) Start(ctx context.Context) error {
	// Polling instead of inotify: the feed is low-rate and polling works on
	// overlay and network filesystems where inotify does not.
	tailCfg := tail.Config{
		Follow: true,
		ReOpen: true,
		Poll:   true,
		Logger: tail.DiscardingLogger,
	}
	if !w.cfg.FromBeginning {
		tailCfg.Location = &tail.SeekInfo{Offset: 0, Whence: 2}
	}

	t, err := tail.TailFile(w.cfg.FeedPath, tailCfg)
	if err != nil {
		return fmt.Errorf("tailing capsule feed %s: %w", w.cfg.FeedPath, err)
	}

	w.logger.Info("Watching capsule feed.",
		zap.String("path", w.cfg.FeedPath),
		zap.Bool("from_beginning", w.cfg.FromBeginning))

	go func() {
		defer func() {
			t.Stop()
			t.Cleanup()
		}()
		w.consume(ctx, t.Lines)
	}()
	return nil
}

// Done is closed once the consume loop has exited.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher) consume(ctx context.Context, lines <-chan *tail.Line) {
	defer close(w.done)

	var submitted, discarded int
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Stopping capsule feed watcher.",
				zap.Int("submitted", submitted), zap.Int("discarded", discarded))
			return

		case line, ok := <-lines:
			if !ok {
				w.logger.Info("Capsule feed closed.",
					zap.Int("submitted", submitted), zap.Int("discarded", discarded))
				return
			}
			if line.Err != nil {
				w.logger.Warn("Error reading capsule feed.", zap.Error(line.Err))
				continue
			}

			text := strings.TrimSpace(line.Text)
			if text == "" {
				continue
			}

			c, err := capsule.Parse([]byte(text))
			if err != nil {
				discarded++
				w.logger.Warn("Discarding malformed feed line.",
					zap.Error(err), zap.String("line", preview(text)))
				continue
			}

			if err := w.sink.Submit(ctx, engine.ValidationTask{Capsule: c}); err != nil {
				discarded++
				w.logger.Warn("Failed to submit capsule from feed.",
					zap.String("capsule_id", c.ID), zap.Error(err))
				continue
			}
			submitted++
			w.logger.Debug("Capsule submitted from feed.", zap.String("capsule_id", c.ID))
		}
	}
}

const previewLen = 120

func preview(s string) string {
	if len(s) <= previewLen {
		return s
	}
	return s[:previewLen] + "..."
}
