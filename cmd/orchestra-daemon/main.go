// Command orchestra-daemon serves the run ledger and a websocket observer channel.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"orchestra/internal/config"
	"orchestra/internal/ledger"
	"orchestra/internal/logging"
	"orchestra/internal/observer"
	"orchestra/internal/version"
)

func main() {
	os.Exit(run(os.Getenv))
}

func run(getenv func(string) string) int {
	logger := logging.NewLoggerWithOutput(logging.LevelFromEnv(logging.LevelInfo), logging.FormatJSON, os.Stdout)
	defer logger.Sync()

	settings, err := observer.SettingsFromEnv(getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	runtime := config.RuntimeFromEnv(getenv)
	for _, warning := range runtime.Warnings {
		logger.Warn("ignoring environment override", map[string]string{"reason": warning})
	}
	settings.LedgerPath = runtime.RunHistoryPath()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := ledger.NewStore(settings.LedgerPath, logger)
	server := observer.NewServer(settings, store, logger)

	info := version.GetVersionInfo()
	logger.Info("orchestra daemon starting", map[string]string{
		"addr":     settings.Addr,
		"ledger":   settings.LedgerPath,
		"insecure": fmt.Sprintf("%t", settings.AllowInsecureWS),
		"version":  info.Version,
	})
	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("orchestra daemon stopped", map[string]string{"error": err.Error()})
		return 1
	}
	logger.Info("orchestra daemon stopped", nil)
	return 0
}
