package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"stakeproof/internal/app"
	"stakeproof/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowUserHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := strings.TrimSpace(viper.GetString("jwt-secret"))
			if secret == "" {
				return fmt.Errorf("STAKEPROOF_JWT_SECRET is required for bearer auth")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := cmd.Context()
			a, err := app.Build(ctx, cfg, app.Options{Logger: logger})
			if err != nil {
				return err
			}
			defer a.Close()

			if a.Engine.Queue != nil {
				stopQueue := a.Engine.Queue.Start(ctx)
				defer stopQueue()
			}
			if d := server.NewWebhookDispatcher(a.Events, cfg.Webhooks, logger); d != nil {
				stopHooks := d.Start(ctx)
				defer stopHooks()
			}

			handler, err := server.New(server.Config{
				Engine:   a.Engine,
				Suggest:  a.Suggest,
				Metrics:  a.Metrics,
				BasePath: basePath,
				Auth: server.AuthConfig{
					JWTSecret:              secret,
					AllowLegacyActorHeader: allowUserHeader,
					Logger:                 logger,
				},
				Logger: logger,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Warn("shutdown", zap.Error(err))
				}
			}()
			fmt.Printf("Serving Stakeproof API on http://%s%s (OpenAPI at /openapi.json, docs at /docs, metrics at /metrics)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowUserHeader, "allow-user-header", false, "accept X-User-Id without a bearer token (development only)")
	cmd.Flags().String("jwt-secret", "", "HMAC secret for bearer tokens (or STAKEPROOF_JWT_SECRET)")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}
