// Command swarmfuse coordinates multi-worker review sessions and fuses
// their findings into a prioritized report.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Version is set at build time via -ldflags "-X main.Version=..."
var Version = "dev"

func main() {
	// SIGINT/SIGTERM cancel the root context so in-flight runs release
	// their sessions before exit.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(Run(ctx, os.Args[1:]))
}
