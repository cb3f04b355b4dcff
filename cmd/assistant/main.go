package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/xaenox/memo-assistant/internal/app"
	"github.com/xaenox/memo-assistant/pkg/config"
	"github.com/xaenox/memo-assistant/pkg/logger"
	"go.uber.org/zap"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "memo-assistant",
		Short: "Chat assistant with conversational memory and feedback metrics",
		Long: `memo-assistant keeps a rolling log of your conversations with a chat
backend, learns knowledge snippets you ask it to remember, and turns your
👍/👎 feedback into accuracy metrics.

The same memory is available over HTTP (serve), Telegram (bot) and a
terminal REPL (chat).`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the config file (optional)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newBotCmd())
	rootCmd.AddCommand(newChatCmd())
	rootCmd.AddCommand(newMetricsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads configuration and builds the application. Callers own the
// returned cleanup.
func setup(ctx context.Context, console bool) (*app.App, *zap.Logger, func(), error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	newLogger := logger.New
	if console {
		newLogger = logger.NewConsole
	}
	log, err := newLogger(cfg.Log.Level)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		_ = log.Sync()
		return nil, nil, nil, err
	}

	cleanup := func() {
		if err := a.Close(); err != nil {
			log.Warn("Failed to close application", zap.Error(err))
		}
		_ = log.Sync()
	}
	return a, log, cleanup, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
