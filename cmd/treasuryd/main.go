package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"treasury/internal/infrastructure"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := infrastructure.Bootstrap(ctx)
	if err != nil {
		slog.Error("bootstrap failed", "error", err)
		if cleanup != nil {
			cleanup()
		}
		os.Exit(1)
	}
	defer cleanup()

	slog.Info("treasury engine starting")
	if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("treasury engine stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("treasury engine shut down")
}
