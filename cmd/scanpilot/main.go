// Command scanpilot drives a ZAP scanner from scan submission to exported reports.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/vulntor/scanpilot/cmd/scanpilot/commands"
	"github.com/vulntor/scanpilot/cmd/scanpilot/internal/format"
	"github.com/vulntor/scanpilot/pkg/orchestrator"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := commands.NewCommand().ExecuteContext(ctx)
	stop()

	if err != nil {
		if !format.IsReported(err) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(orchestrator.ExitCode(err))
	}
}
