// ./main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/crucible/cmd"
	"github.com/xkilldash9x/crucible/internal/observability"
)

// main wires signal handling around the root command and converts the
// command result into a process exit code.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := cmd.Execute(ctx)

	stop()
	observability.Sync()
	os.Exit(cmd.ExitCode(err))
}
