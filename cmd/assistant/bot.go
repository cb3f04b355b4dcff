package main

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/xaenox/memo-assistant/internal/bot"
	"go.uber.org/zap"
)

func newBotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bot",
		Short: "Run the Telegram front-end",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, log, cleanup, err := setup(ctx, false)
			if err != nil {
				return err
			}
			defer cleanup()

			if a.Config.Telegram.Token == "" {
				return errors.New("telegram token is not configured (telegram.token or TELEGRAM_TOKEN)")
			}

			// each chat has its own namespace, /metrics derives per chat on demand
			b, err := bot.New(a.Config.Telegram.Token, a.NewSession, a.MetricsFor, log)
			if err != nil {
				return err
			}

			log.Info("Telegram bot started")
			err = b.Start(ctx)
			log.Info("Telegram bot stopped", zap.Error(err))
			return err
		},
	}
}
