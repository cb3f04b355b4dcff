package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xaenox/memo-assistant/internal/api"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the metrics deriver",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			a, log, cleanup, err := setup(ctx, false)
			if err != nil {
				return err
			}
			defer cleanup()

			if addr == "" {
				addr = a.Config.Server.Addr
			}

			gin.SetMode(gin.ReleaseMode)
			srv := &http.Server{
				Addr:              addr,
				Handler:           api.NewRouter(api.NewHandler(a.Session, a.Deriver, log, api.WithAllowedOrigins(a.Config.Server.AllowedOrigins...))),
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, ctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				return a.RunMetrics(ctx)
			})

			g.Go(func() error {
				log.Info("HTTP API listening", zap.String("addr", addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})

			g.Go(func() error {
				<-ctx.Done()
				log.Info("Shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})

			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
