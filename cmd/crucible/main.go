// File: cmd/crucible/main.go

// Command crucible validates, scores and refines generated code
// capsules. See `crucible --help` for the available commands.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/xkilldash9x/crucible/cmd"
	"github.com/xkilldash9x/crucible/internal/observability"
)

// osExit is swappable so run's exit paths stay observable in tests.
var osExit = os.Exit

func main() {
	osExit(run())
}

// run executes the CLI with signal-aware cancellation and maps the
// result to an exit code. A panic anywhere below becomes a logged fatal
// instead of a bare stack trace.
func run() (code int) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	defer func() {
		if r := recover(); r != nil {
			observability.GetLogger().Error("Fatal panic.", zap.Any("panic", r))
			observability.Sync()
			code = cmd.ExitError
		}
	}()

	err := cmd.Execute(ctx)
	observability.Sync()
	return cmd.ExitCode(err)
}
