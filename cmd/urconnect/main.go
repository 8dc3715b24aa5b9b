package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	appLog "urconnect/internal/log"
)

var version = "0.1.0-dev"

func main() {
	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		appLog.Error("urconnect failed", err)
		cancel()
		os.Exit(1)
	}
}
